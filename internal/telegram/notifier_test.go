package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/digkill/CaptionStudio/pkg/logger"
)

func TestNewWithoutConfigIsNop(t *testing.T) {
	n, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := n.(Nop); !ok {
		t.Fatalf("notifier = %T, want Nop", n)
	}
	n.Notify(context.Background(), "ignored")
}

func TestBotNotify(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"ops","username":"ops_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			mu.Lock()
			sent = append(sent, r.FormValue("chat_id")+":"+r.FormValue("text"))
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	n, err := New(Config{Token: "tok", ChatID: 42, APIEndpoint: srv.URL + "/bot%s/%s"}, logger.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.Notify(context.Background(), "user a@x.com activated")

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0] != "42:user a@x.com activated" {
		t.Fatalf("sent = %v", sent)
	}
}
