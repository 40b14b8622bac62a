package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/digkill/CaptionStudio/internal/caption"
	"github.com/digkill/CaptionStudio/internal/history"
	"github.com/digkill/CaptionStudio/internal/knowledge"
	"github.com/digkill/CaptionStudio/internal/llm"
	"github.com/digkill/CaptionStudio/pkg/logger"
)

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func newCaptionFixture(cfg CaptionConfig, steps ...func() (*llm.Completion, error)) (*CaptionService, *scriptedLLM, *memLedger, *history.Memory) {
	model := &scriptedLLM{steps: steps}
	ledger := newMemLedger()
	store := history.NewMemory(10)
	buckets := NewBuckets(nil)
	buckets.now = func() time.Time { return fixedNow }
	svc := NewCaptionService(cfg, logger.Discard(), knowledge.MustLoad(), model, ledger, store, buckets)
	return svc, model, ledger, store
}

func TestCaptionRetriesOnBannedOpening(t *testing.T) {
	first := "鼻塞一整晚睡不好怎么办？\n试试 AirVo，10秒透皮吸收。"
	second := "上周三凌晨三点，我又被鼻塞弄醒。\nAirVo 让我终于睡了个整觉。"
	svc, model, ledger, store := newCaptionFixture(CaptionConfig{InputUSDPer1K: 0.001, OutputUSDPer1K: 0.002},
		reply(fmt.Sprintf(`{"captions":[%q]}`, first)),
		reply(fmt.Sprintf("```json\n{\"captions\":[%q]}\n```", second)),
	)

	res, err := svc.Generate(context.Background(), CaptionRequest{
		Product:            "airvo",
		Platform:           "Facebook",
		Style:              "故事",
		BanOpeningPrefixes: []string{"鼻塞一整晚睡不好怎么办？"},
		Email:              "A@x.com",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(model.calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(model.calls))
	}
	if res.Caption != second {
		t.Fatalf("caption = %q, want retry result", res.Caption)
	}
	if res.OpeningPrefix != caption.Fingerprint(second) {
		t.Fatalf("prefix = %q", res.OpeningPrefix)
	}
	if res.Product != "AirVo" || res.Style != caption.StyleStory || res.Source != SourceModel {
		t.Fatalf("result = %+v", res)
	}

	costs, _ := ledger.CostStats(context.Background())
	if costs.Samples != 2 || costs.ByUser["a@x.com"].Samples != 2 {
		t.Fatalf("cost samples = %+v", costs)
	}
	if want := 2 * 0.002; costs.SumCostUSD < want-1e-9 || costs.SumCostUSD > want+1e-9 {
		t.Fatalf("cost = %v, want %v", costs.SumCostUSD, want)
	}
	usage, _ := ledger.Usage(context.Background(), "month:2025-03", "a@x.com")
	if usage.Captions != 1 {
		t.Fatalf("captions = %d, want 1", usage.Captions)
	}
	recent, _ := store.Recent(context.Background(), "a@x.com")
	if len(recent) != 1 || recent[0] != res.OpeningPrefix {
		t.Fatalf("history = %v", recent)
	}
}

func TestCaptionRetryFailureKeepsFirstDraft(t *testing.T) {
	first := "鼻塞一整晚睡不好怎么办？\n试试 AirVo。"
	svc, _, _, _ := newCaptionFixture(CaptionConfig{},
		reply(fmt.Sprintf(`{"captions":[%q]}`, first)),
		fail(&llm.UpstreamError{Status: 503, Body: "busy"}),
	)
	res, err := svc.Generate(context.Background(), CaptionRequest{
		Product:            "AirVo",
		BanOpeningPrefixes: []string{"鼻塞一整晚睡不好怎么办？"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Caption != first {
		t.Fatalf("caption = %q, want first draft", res.Caption)
	}
}

func TestCaptionServerHistoryIsBanned(t *testing.T) {
	first := "你是不是也这样：早上起床鼻子就不通？"
	second := "分享一个我每天都离不开的小习惯。"
	svc, model, _, store := newCaptionFixture(CaptionConfig{},
		reply(fmt.Sprintf(`{"captions":[%q]}`, first)),
		reply(fmt.Sprintf(`{"captions":[%q]}`, second)),
	)
	_ = store.Push(context.Background(), "b@x.com", caption.Fingerprint(first))

	res, err := svc.Generate(context.Background(), CaptionRequest{Product: "AirVo", Email: "b@x.com"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(model.calls) != 2 || res.Caption != second {
		t.Fatalf("calls = %d caption = %q", len(model.calls), res.Caption)
	}
}

func TestCaptionEmptyReplyIsAskedAgain(t *testing.T) {
	text := "换季鼻子又开始闹脾气了。\nAirVo 陪我过这个春天。"
	svc, model, _, _ := newCaptionFixture(CaptionConfig{},
		reply("\n"),
		reply(fmt.Sprintf(`{"captions":[%q]}`, text)),
	)
	res, err := svc.Generate(context.Background(), CaptionRequest{Product: "AirVo"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(model.calls) != 2 || res.Caption != text || res.Source != SourceModel {
		t.Fatalf("calls = %d result = %+v", len(model.calls), res)
	}
}

func TestCaptionEmptyRepliesUseLocalTemplate(t *testing.T) {
	svc, model, _, _ := newCaptionFixture(CaptionConfig{}, reply(""), reply("   "))
	res, err := svc.Generate(context.Background(), CaptionRequest{Product: "FleXa"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(model.calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(model.calls))
	}
	if res.Source != SourceLocal || strings.TrimSpace(res.Caption) == "" {
		t.Fatalf("result = %+v, want non-empty local caption", res)
	}
}

func TestCaptionBannedPrefixesKeepNewest(t *testing.T) {
	ctx := context.Background()
	svc, model, _, store := newCaptionFixture(CaptionConfig{},
		reply(`{"captions":["今天想聊聊睡眠这件小事。"]}`),
	)
	for i := 1; i <= history.Limit; i++ {
		_ = store.Push(ctx, "c@x.com", fmt.Sprintf("stored-%d", i))
	}
	var client []string
	for i := 1; i <= 9; i++ {
		client = append(client, fmt.Sprintf("client-%d", i))
	}

	if _, err := svc.Generate(ctx, CaptionRequest{Product: "AirVo", Email: "c@x.com", BanOpeningPrefixes: client}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	prompt := model.calls[0].Messages[1].Content
	if n := strings.Count(prompt, "client-") + strings.Count(prompt, "stored-"); n != history.Limit {
		t.Fatalf("banned openings in prompt = %d, want %d", n, history.Limit)
	}
	if !strings.Contains(prompt, "client-9") || !strings.Contains(prompt, "client-3") || strings.Contains(prompt, "client-2") {
		t.Fatalf("prompt should ban the newest client openings:\n%s", prompt)
	}
}

func TestCaptionTimeoutWithoutFallback(t *testing.T) {
	svc, _, _, _ := newCaptionFixture(CaptionConfig{},
		fail(fmt.Errorf("%w: deadline", llm.ErrTimeout)),
	)
	_, err := svc.Generate(context.Background(), CaptionRequest{Product: "FleXa"})
	if !errors.Is(err, llm.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestCaptionSLAFallback(t *testing.T) {
	timeout := fail(fmt.Errorf("%w: deadline", llm.ErrTimeout))

	t.Run("quick prompt", func(t *testing.T) {
		svc, model, _, _ := newCaptionFixture(CaptionConfig{SLAFallback: true},
			timeout,
			reply(`{"captions":["饭后总是犯困？TriGuard 帮你轻松一点。"]}`),
		)
		res, err := svc.Generate(context.Background(), CaptionRequest{Product: "TriGuard"})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if res.Source != SourceQuick || len(model.calls) != 2 {
			t.Fatalf("source = %q calls = %d", res.Source, len(model.calls))
		}
		if model.calls[1].MaxTokens >= model.calls[0].MaxTokens {
			t.Fatalf("quick call should be shorter: %d vs %d", model.calls[1].MaxTokens, model.calls[0].MaxTokens)
		}
	})

	t.Run("local template", func(t *testing.T) {
		svc, _, _, _ := newCaptionFixture(CaptionConfig{SLAFallback: true}, timeout, timeout)
		res, err := svc.Generate(context.Background(), CaptionRequest{Product: "AirVo", Style: "痛点"})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if res.Source != SourceLocal || res.Style != caption.StylePain {
			t.Fatalf("result = %+v", res)
		}
		entry, _ := knowledge.MustLoad().Lookup("AirVo")
		found := false
		for _, fact := range entry.All() {
			if strings.Contains(res.Caption, fact) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("caption %q carries no AirVo fact", res.Caption)
		}
	})
}

func TestCaptionAnonymousSkipsUsage(t *testing.T) {
	svc, _, ledger, _ := newCaptionFixture(CaptionConfig{},
		reply(`{"captions":["肚子胀胀的一整天，真的很难受。"]}`),
	)
	if _, err := svc.Generate(context.Background(), CaptionRequest{Product: "flomix"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(ledger.monthly) != 0 {
		t.Fatalf("usage recorded for anonymous caller: %v", ledger.monthly)
	}
	costs, _ := ledger.CostStats(context.Background())
	if costs.ByUser["anonymous"].Samples != 1 {
		t.Fatalf("by_user = %v", costs.ByUser)
	}
}

func TestCallCost(t *testing.T) {
	if got := CallCost(2000, 1000, 0.5, 1.5); got != 2.5 {
		t.Fatalf("CallCost = %v, want 2.5", got)
	}
}
