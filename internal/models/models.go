package models

import "time"

// User mirrors an identity-provider account. AppMetadata and UserMetadata are kept
// raw so updates merge into them instead of replacing unknown keys.
type User struct {
	ID             string
	Email          string
	Phone          string
	Active         *bool
	TrialUsed      bool
	TrialStartedAt int64
	WAAlias        string
	MinCancelDate  string
	CreatedAt      time.Time
	LastSignInAt   time.Time
	AppMetadata    map[string]any
	UserMetadata   map[string]any
}

// IsActive reports whether the user carries an explicit active===true flag.
func (u *User) IsActive() bool {
	return u != nil && u.Active != nil && *u.Active
}

type SubscriptionStatus string

const (
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionPaused            SubscriptionStatus = "paused"
)

type Subscription struct {
	ID                 string
	CustomerID         string
	Status             SubscriptionStatus
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	CancelAt           int64
}

type UsageCounts struct {
	Captions int `json:"captions"`
	Images   int `json:"images"`
}

type UsageKind string

const (
	UsageCaption UsageKind = "captions"
	UsageImage   UsageKind = "images"
)

// CostSample is one priced LLM call.
type CostSample struct {
	Model            string
	User             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
}

type CostBucket struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Samples          int     `json:"samples"`
}

// CostAggregate is the running total persisted by the ledger. Averages are derived
// at read time.
type CostAggregate struct {
	SumPromptTokens     int                   `json:"sum_prompt_tokens"`
	SumCompletionTokens int                   `json:"sum_completion_tokens"`
	SumTotalTokens      int                   `json:"sum_total_tokens"`
	SumCostUSD          float64               `json:"sum_cost_usd"`
	Samples             int                   `json:"samples"`
	ByModel             map[string]CostBucket `json:"by_model"`
	ByUser              map[string]CostBucket `json:"by_user"`
}

// Add folds a sample into the aggregate.
func (a *CostAggregate) Add(s CostSample) {
	a.SumPromptTokens += s.PromptTokens
	a.SumCompletionTokens += s.CompletionTokens
	a.SumTotalTokens += s.TotalTokens
	a.SumCostUSD += s.CostUSD
	a.Samples++
	if a.ByModel == nil {
		a.ByModel = map[string]CostBucket{}
	}
	if a.ByUser == nil {
		a.ByUser = map[string]CostBucket{}
	}
	model := s.Model
	if model == "" {
		model = "unknown"
	}
	a.ByModel[model] = a.ByModel[model].add(s)
	user := s.User
	if user == "" {
		user = "anonymous"
	}
	a.ByUser[user] = a.ByUser[user].add(s)
}

func (b CostBucket) add(s CostSample) CostBucket {
	b.PromptTokens += s.PromptTokens
	b.CompletionTokens += s.CompletionTokens
	b.TotalTokens += s.TotalTokens
	b.CostUSD += s.CostUSD
	b.Samples++
	return b
}

// UserRow is one line of the admin users list.
type UserRow struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Phone              string `json:"phone"`
	CreatedAt          string `json:"created_at"`
	LastSignInAt       string `json:"last_sign_in_at"`
	Active             *bool  `json:"active"`
	SubscriptionStatus string `json:"subscription_status"`
	CurrentPeriodEnd   *int64 `json:"current_period_end"`
}
