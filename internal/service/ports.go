package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/digkill/CaptionStudio/internal/billing"
	"github.com/digkill/CaptionStudio/internal/llm"
	"github.com/digkill/CaptionStudio/internal/models"
)

// Directory is the identity-provider user store.
type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	UpdateMetadata(ctx context.Context, user models.User, appMeta, userMeta map[string]any) (models.User, error)
	ListAllUsers(ctx context.Context) ([]models.User, error)
	CountUsers(ctx context.Context) (int, error)
}

type UsageLedger interface {
	IncrementUsage(ctx context.Context, bucket, email string, kind models.UsageKind) (models.UsageCounts, error)
	Usage(ctx context.Context, bucket, email string) (models.UsageCounts, error)
	UsageStats(ctx context.Context) (map[string]models.UsageCounts, error)
	Monthly(ctx context.Context) (map[string]map[string]models.UsageCounts, error)
}

type CostLedger interface {
	RecordCost(ctx context.Context, sample models.CostSample) error
	CostStats(ctx context.Context) (models.CostAggregate, error)
}

// Ledger is implemented by ledger.File and repository.Ledger.
type Ledger interface {
	UsageLedger
	CostLedger
}

type Completer interface {
	Complete(ctx context.Context, in llm.Request) (*llm.Completion, error)
	Model() string
}

const gatewayTimeout = 10 * time.Second

// Buckets resolves the usage bucket for an account: the current Stripe billing
// cycle when one exists, the UTC calendar month otherwise.
type Buckets struct {
	billing billing.Gateway
	now     func() time.Time
}

func NewBuckets(gw billing.Gateway) *Buckets {
	return &Buckets{billing: gw, now: time.Now}
}

func (b *Buckets) Key(ctx context.Context, email string) string {
	if b.billing != nil && email != "" {
		ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
		defer cancel()
		if cust, err := b.billing.FindCustomerByEmail(ctx, email); err == nil {
			if sub, err := b.billing.LatestSubscription(ctx, cust.ID); err == nil && sub != nil &&
				sub.CurrentPeriodStart > 0 && sub.CurrentPeriodEnd > 0 {
				return fmt.Sprintf("cycle:%d-%d", sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
			}
		}
	}
	return "month:" + b.now().UTC().Format("2006-01")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var seedCounter atomic.Int64

// newRand returns a per-request generator; *rand.Rand is not safe for concurrent use.
func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano() + seedCounter.Add(1)))
}
