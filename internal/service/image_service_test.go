package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/digkill/CaptionStudio/internal/imagegen"
	"github.com/digkill/CaptionStudio/internal/models"
	"github.com/digkill/CaptionStudio/pkg/logger"
)

func newImageFixture(providers []string, available map[string]imagegen.Provider, gw *fakeGateway) (*ImageService, *memLedger) {
	ledger := newMemLedger()
	var buckets *Buckets
	if gw != nil {
		buckets = NewBuckets(gw)
	} else {
		buckets = NewBuckets(nil)
	}
	buckets.now = func() time.Time { return fixedNow }
	svc := NewImageService(ImageConfig{Providers: providers, MonthlyLimit: 100, AssetBaseURL: "https://cdn.example/products/"},
		logger.Discard(), available, nil, nil, ledger, buckets)
	return svc, ledger
}

func imageErr(t *testing.T, err error) *ImageError {
	t.Helper()
	var ie *ImageError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *ImageError", err)
	}
	return ie
}

func TestImageQuota(t *testing.T) {
	fal := &fakeProvider{name: "fal", url: "https://fal.example/1.png"}
	svc, ledger := newImageFixture(nil, map[string]imagegen.Provider{"fal": fal}, nil)
	ctx := context.Background()

	ledger.set("month:2025-03", "a@x.com", models.UsageCounts{Images: 100})
	_, err := svc.Generate(ctx, ImageRequest{Email: "a@x.com", Product: "AirVo"})
	ie := imageErr(t, err)
	if ie.Status != http.StatusTooManyRequests || ie.Limit != 100 || ie.Used != 100 {
		t.Fatalf("error = %+v", ie)
	}
	if fal.calls != 0 {
		t.Fatalf("provider called over quota")
	}

	ledger.set("month:2025-03", "a@x.com", models.UsageCounts{Images: 99})
	res, err := svc.Generate(ctx, ImageRequest{Email: "a@x.com", Product: "AirVo", Aspect: "9:16"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Provider != "fal" || res.ImageURL != fal.url || res.Width != 1024 || res.Height != 1820 {
		t.Fatalf("result = %+v", res)
	}
	used, _ := ledger.Usage(ctx, "month:2025-03", "a@x.com")
	if used.Images != 100 {
		t.Fatalf("images = %d, want 100", used.Images)
	}
	if got := fal.last.ReferenceURLs; len(got) != 1 || got[0] != "https://cdn.example/products/airvo.png" {
		t.Fatalf("reference urls = %v", got)
	}
}

func TestImageBucketFollowsBillingCycle(t *testing.T) {
	gw := &fakeGateway{
		customers: map[string]string{"a@x.com": "cus_1"},
		subs: map[string][]models.Subscription{"cus_1": {
			{ID: "sub_1", Status: models.SubscriptionActive, CurrentPeriodStart: 1700000000, CurrentPeriodEnd: 1702592000},
		}},
	}
	fal := &fakeProvider{name: "fal", url: "https://fal.example/1.png"}
	svc, ledger := newImageFixture([]string{"auto"}, map[string]imagegen.Provider{"fal": fal}, gw)

	if _, err := svc.Generate(context.Background(), ImageRequest{Email: "a@x.com"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	used, _ := ledger.Usage(context.Background(), "cycle:1700000000-1702592000", "a@x.com")
	if used.Images != 1 {
		t.Fatalf("cycle bucket images = %d, want 1", used.Images)
	}
}

func TestImageFallsThroughToPlaceholder(t *testing.T) {
	kie := &fakeProvider{name: "kie", err: errors.New("boom")}
	stability := &fakeProvider{name: "stability", err: imagegen.ErrNoImage}
	svc, ledger := newImageFixture([]string{"auto"}, map[string]imagegen.Provider{"kie": kie, "stability": stability}, nil)

	res, err := svc.Generate(context.Background(), ImageRequest{Email: "a@x.com", Product: "FleXa", Seed: 42})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if kie.calls != 1 || stability.calls != 1 {
		t.Fatalf("calls kie=%d stability=%d", kie.calls, stability.calls)
	}
	if res.Provider != ProviderPlaceholder || res.ImageURL != "https://picsum.photos/seed/42/1024/1280" {
		t.Fatalf("result = %+v", res)
	}
	if len(ledger.monthly) != 0 {
		t.Fatalf("placeholder consumed quota: %v", ledger.monthly)
	}
}

func TestImageRequestErrors(t *testing.T) {
	fal := &fakeProvider{name: "fal", url: "u"}

	cases := []struct {
		name      string
		providers []string
		req       ImageRequest
		status    int
		code      string
	}{
		{"anonymous", nil, ImageRequest{Product: "AirVo"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown product", nil, ImageRequest{Email: "a@x.com", Product: "Shampoo"}, http.StatusBadRequest, "INVALID_PRODUCT"},
		{"explicit provider without key", []string{"stability", "fal"}, ImageRequest{Email: "a@x.com"}, http.StatusInternalServerError, "MISSING_STABILITY_KEY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newImageFixture(tc.providers, map[string]imagegen.Provider{"fal": fal}, nil)
			_, err := svc.Generate(context.Background(), tc.req)
			ie := imageErr(t, err)
			if ie.Status != tc.status || ie.Code != tc.code {
				t.Fatalf("error = %+v, want %d %s", ie, tc.status, tc.code)
			}
		})
	}
}

func TestRawURLInlinesBytes(t *testing.T) {
	got := rawURL(&imagegen.Result{Data: []byte("png"), ContentType: "image/png"})
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("rawURL = %q", got)
	}
}
