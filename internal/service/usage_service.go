package service

import (
	"context"
	"fmt"
	"math"

	"github.com/digkill/CaptionStudio/internal/models"
)

type TokenFigures struct {
	PromptTokens     float64 `json:"prompt_tokens"`
	CompletionTokens float64 `json:"completion_tokens"`
	TotalTokens      float64 `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

type Pricing struct {
	InputUSDPer1K  float64 `json:"input_usd_per_1k"`
	OutputUSDPer1K float64 `json:"output_usd_per_1k"`
}

// CostReport is the admin cost-stats payload.
type CostReport struct {
	Samples int                          `json:"samples"`
	Sums    TokenFigures                 `json:"sums"`
	Avg     TokenFigures                 `json:"avg"`
	Pricing Pricing                      `json:"pricing"`
	ByModel map[string]models.CostBucket `json:"by_model"`
	ByUser  map[string]models.CostBucket `json:"by_user"`
}

type UsageReport struct {
	Stats   map[string]models.UsageCounts            `json:"stats"`
	Monthly map[string]map[string]models.UsageCounts `json:"monthly"`
}

type UsageService struct {
	ledger  Ledger
	pricing Pricing
}

func NewUsageService(ledger Ledger, inputUSDPer1K, outputUSDPer1K float64) *UsageService {
	return &UsageService{
		ledger: ledger,
		pricing: Pricing{
			InputUSDPer1K:  round(inputUSDPer1K, 6),
			OutputUSDPer1K: round(outputUSDPer1K, 6),
		},
	}
}

func (s *UsageService) Usage(ctx context.Context) (UsageReport, error) {
	stats, err := s.ledger.UsageStats(ctx)
	if err != nil {
		return UsageReport{}, fmt.Errorf("usage stats: %w", err)
	}
	monthly, err := s.ledger.Monthly(ctx)
	if err != nil {
		return UsageReport{}, fmt.Errorf("monthly usage: %w", err)
	}
	if stats == nil {
		stats = map[string]models.UsageCounts{}
	}
	if monthly == nil {
		monthly = map[string]map[string]models.UsageCounts{}
	}
	return UsageReport{Stats: stats, Monthly: monthly}, nil
}

func (s *UsageService) Costs(ctx context.Context) (CostReport, error) {
	agg, err := s.ledger.CostStats(ctx)
	if err != nil {
		return CostReport{}, fmt.Errorf("cost stats: %w", err)
	}
	out := CostReport{
		Samples: agg.Samples,
		Sums: TokenFigures{
			PromptTokens:     float64(agg.SumPromptTokens),
			CompletionTokens: float64(agg.SumCompletionTokens),
			TotalTokens:      float64(agg.SumTotalTokens),
			CostUSD:          round(agg.SumCostUSD, 6),
		},
		Pricing: s.pricing,
		ByModel: agg.ByModel,
		ByUser:  agg.ByUser,
	}
	if n := float64(agg.Samples); n > 0 {
		out.Avg = TokenFigures{
			PromptTokens:     round(float64(agg.SumPromptTokens)/n, 2),
			CompletionTokens: round(float64(agg.SumCompletionTokens)/n, 2),
			TotalTokens:      round(float64(agg.SumTotalTokens)/n, 2),
			CostUSD:          round(agg.SumCostUSD/n, 6),
		}
	}
	if out.ByModel == nil {
		out.ByModel = map[string]models.CostBucket{}
	}
	if out.ByUser == nil {
		out.ByUser = map[string]models.CostBucket{}
	}
	return out, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
