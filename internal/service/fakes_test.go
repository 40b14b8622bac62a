package service

import (
	"context"
	"strings"
	"sync"

	"github.com/digkill/CaptionStudio/internal/billing"
	"github.com/digkill/CaptionStudio/internal/identity"
	"github.com/digkill/CaptionStudio/internal/imagegen"
	"github.com/digkill/CaptionStudio/internal/llm"
	"github.com/digkill/CaptionStudio/internal/models"
)

type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]*models.User
	updates int
}

func newFakeDirectory(users ...models.User) *fakeDirectory {
	d := &fakeDirectory{users: map[string]*models.User{}}
	for i := range users {
		u := users[i]
		if u.AppMetadata == nil {
			u.AppMetadata = map[string]any{}
		}
		if u.UserMetadata == nil {
			u.UserMetadata = map[string]any{}
		}
		identity.ApplyMetadata(&u)
		d.users[strings.ToLower(u.Email)] = &u
	}
	return d
}

func (d *fakeDirectory) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[strings.ToLower(email)]
	if !ok {
		return models.User{}, identity.ErrUserNotFound
	}
	return *u, nil
}

func (d *fakeDirectory) UpdateMetadata(_ context.Context, user models.User, appMeta, userMeta map[string]any) (models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[strings.ToLower(user.Email)]
	if !ok {
		return models.User{}, identity.ErrUserNotFound
	}
	for k, v := range appMeta {
		u.AppMetadata[k] = v
	}
	for k, v := range userMeta {
		u.UserMetadata[k] = v
	}
	identity.ApplyMetadata(u)
	d.updates++
	return *u, nil
}

func (d *fakeDirectory) ListAllUsers(context.Context) ([]models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, *u)
	}
	return out, nil
}

func (d *fakeDirectory) CountUsers(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users), nil
}

func (d *fakeDirectory) active(email string) *bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[email].Active
}

type fakeGateway struct {
	mu        sync.Mutex
	customers map[string]string // email -> customer id
	emails    map[string]string // customer id -> email
	subs      map[string][]models.Subscription
	canceled  []string
}

func (g *fakeGateway) FindCustomerByEmail(_ context.Context, email string) (*billing.Customer, error) {
	id, ok := g.customers[strings.ToLower(email)]
	if !ok {
		return nil, billing.ErrCustomerNotFound
	}
	return &billing.Customer{ID: id, Email: email}, nil
}

func (g *fakeGateway) CustomerEmail(_ context.Context, customerID string) (string, error) {
	email, ok := g.emails[customerID]
	if !ok {
		return "", billing.ErrCustomerNotFound
	}
	return email, nil
}

func (g *fakeGateway) LatestSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	subs, _ := g.ListSubscriptions(ctx, customerID, 1)
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

func (g *fakeGateway) ListSubscriptions(_ context.Context, customerID string, limit int) ([]models.Subscription, error) {
	subs := g.subs[customerID]
	if len(subs) > limit {
		subs = subs[:limit]
	}
	return append([]models.Subscription(nil), subs...), nil
}

func (g *fakeGateway) CancelAtPeriodEnd(_ context.Context, id string) (*models.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, id)
	for _, subs := range g.subs {
		for i := range subs {
			if subs[i].ID == id {
				subs[i].CancelAtPeriodEnd = true
				s := subs[i]
				return &s, nil
			}
		}
	}
	return nil, billing.ErrCustomerNotFound
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	return "https://billing.example/" + customerID + "?return=" + returnURL, nil
}

// memLedger is an in-memory Ledger.
type memLedger struct {
	mu      sync.Mutex
	monthly map[string]map[string]models.UsageCounts
	costs   models.CostAggregate
}

func newMemLedger() *memLedger {
	return &memLedger{monthly: map[string]map[string]models.UsageCounts{}}
}

func (l *memLedger) set(bucket, email string, c models.UsageCounts) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.monthly[bucket] == nil {
		l.monthly[bucket] = map[string]models.UsageCounts{}
	}
	l.monthly[bucket][email] = c
}

func (l *memLedger) IncrementUsage(_ context.Context, bucket, email string, kind models.UsageKind) (models.UsageCounts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.monthly[bucket] == nil {
		l.monthly[bucket] = map[string]models.UsageCounts{}
	}
	c := l.monthly[bucket][email]
	if kind == models.UsageImage {
		c.Images++
	} else {
		c.Captions++
	}
	l.monthly[bucket][email] = c
	return c, nil
}

func (l *memLedger) Usage(_ context.Context, bucket, email string) (models.UsageCounts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.monthly[bucket][email], nil
}

func (l *memLedger) UsageStats(context.Context) (map[string]models.UsageCounts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]models.UsageCounts{}
	for _, byEmail := range l.monthly {
		for email, c := range byEmail {
			t := out[email]
			t.Captions += c.Captions
			t.Images += c.Images
			out[email] = t
		}
	}
	return out, nil
}

func (l *memLedger) Monthly(context.Context) (map[string]map[string]models.UsageCounts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.monthly, nil
}

func (l *memLedger) RecordCost(_ context.Context, s models.CostSample) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.costs.Add(s)
	return nil
}

func (l *memLedger) CostStats(context.Context) (models.CostAggregate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.costs, nil
}

// scriptedLLM returns the queued responses in order.
type scriptedLLM struct {
	mu    sync.Mutex
	calls []llm.Request
	steps []func() (*llm.Completion, error)
}

func (f *scriptedLLM) Model() string { return "test-model" }

func (f *scriptedLLM) Complete(_ context.Context, in llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if len(f.steps) == 0 {
		return nil, &llm.UpstreamError{Status: 500, Body: "no script"}
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step()
}

func reply(content string) func() (*llm.Completion, error) {
	return func() (*llm.Completion, error) {
		return &llm.Completion{
			Model:   "test-model",
			Content: content,
			Usage:   llm.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		}, nil
	}
}

func fail(err error) func() (*llm.Completion, error) {
	return func() (*llm.Completion, error) { return nil, err }
}

type fakeProvider struct {
	name  string
	url   string
	err   error
	calls int
	last  imagegen.Request
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(_ context.Context, in imagegen.Request) (*imagegen.Result, error) {
	p.calls++
	p.last = in
	if p.err != nil {
		return nil, p.err
	}
	return &imagegen.Result{URL: p.url}, nil
}
