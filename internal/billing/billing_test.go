package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testSecret = "whsec_test"

func signed(t *testing.T, payload string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return sp.Header
}

func TestParseWebhook(t *testing.T) {
	cases := []struct {
		name       string
		payload    string
		wantType   string
		wantEmail  string
		wantCust   string
		wantStatus string
	}{
		{
			name:      "checkout prefers customer_details",
			payload:   `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","customer":"cus_1","customer_email":"old@x.com","customer_details":{"email":"new@x.com"}}}}`,
			wantType:  "checkout.session.completed",
			wantEmail: "new@x.com",
			wantCust:  "cus_1",
		},
		{
			name:      "checkout falls back to customer_email",
			payload:   `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_2","object":"checkout.session","customer_email":"a@x.com"}}}`,
			wantType:  "checkout.session.completed",
			wantEmail: "a@x.com",
		},
		{
			name:      "invoice",
			payload:   `{"id":"evt_3","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","customer":"cus_9","customer_email":"b@x.com"}}}`,
			wantType:  "invoice.payment_failed",
			wantEmail: "b@x.com",
			wantCust:  "cus_9",
		},
		{
			name:       "subscription",
			payload:    `{"id":"evt_4","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_2","status":"unpaid"}}}`,
			wantType:   "customer.subscription.updated",
			wantCust:   "cus_2",
			wantStatus: "unpaid",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseWebhook([]byte(tc.payload), signed(t, tc.payload), testSecret)
			if err != nil {
				t.Fatalf("ParseWebhook: %v", err)
			}
			if ev.Type != tc.wantType || ev.Email != tc.wantEmail || ev.CustomerID != tc.wantCust || ev.Status != tc.wantStatus {
				t.Fatalf("event = %+v", ev)
			}
		})
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	payload := `{"id":"evt_1","object":"event","type":"invoice.payment_failed","data":{"object":{}}}`
	header := signed(t, payload)

	if _, err := ParseWebhook([]byte(payload+" "), header, testSecret); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered body err = %v, want ErrInvalidSignature", err)
	}
	if _, err := ParseWebhook([]byte(payload), "t=1,v1=deadbeef", testSecret); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("bad header err = %v, want ErrInvalidSignature", err)
	}
	if _, err := ParseWebhook([]byte(payload), header, ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("no secret err = %v, want ErrNotConfigured", err)
	}
}

func newTestGateway(t *testing.T, h http.Handler) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeGateway("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestParseWebhookUndecodableObject(t *testing.T) {
	payload := `{"id":"evt_9","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_9","object":"invoice","customer_email":42}}}`
	ev, err := ParseWebhook([]byte(payload), signed(t, payload), testSecret)
	if !errors.Is(err, ErrUndecodable) || errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrUndecodable", err)
	}
	if ev == nil || ev.ID != "evt_9" || ev.Type != "invoice.payment_failed" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestStripeGatewayLookups(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("email") == "a@x.com" {
			_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[{"id":"cus_1","object":"customer","email":"a@x.com"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[]}`))
	})
	mux.HandleFunc("/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("customer") != "cus_1" {
			t.Errorf("customer = %q", r.URL.Query().Get("customer"))
		}
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/subscriptions","has_more":false,"data":[
			{"id":"sub_2","object":"subscription","customer":"cus_1","status":"active","current_period_start":1700000000,"current_period_end":1702592000},
			{"id":"sub_1","object":"subscription","customer":"cus_1","status":"canceled"}]}`))
	})
	g := newTestGateway(t, mux)
	ctx := context.Background()

	c, err := g.FindCustomerByEmail(ctx, "a@x.com")
	if err != nil || c.ID != "cus_1" {
		t.Fatalf("FindCustomerByEmail = %+v, %v", c, err)
	}
	if _, err := g.FindCustomerByEmail(ctx, "none@x.com"); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}

	sub, err := g.LatestSubscription(ctx, "cus_1")
	if err != nil {
		t.Fatalf("LatestSubscription: %v", err)
	}
	if sub.ID != "sub_2" || sub.CurrentPeriodStart != 1700000000 || sub.CustomerID != "cus_1" {
		t.Fatalf("sub = %+v", sub)
	}

	subs, err := g.ListSubscriptions(ctx, "cus_1", 10)
	if err != nil || len(subs) != 2 {
		t.Fatalf("ListSubscriptions = %d, %v", len(subs), err)
	}
}

func TestNewStripeGatewayWithoutKey(t *testing.T) {
	if g := NewStripeGateway("", nil); g != nil {
		t.Fatalf("gateway = %v, want nil", g)
	}
}
