package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/digkill/CaptionStudio/internal/billing"
	"github.com/digkill/CaptionStudio/internal/identity"
	"github.com/digkill/CaptionStudio/internal/models"
)

var (
	ErrNoSubscription     = errors.New("no cancellable subscription")
	ErrCancelTooEarly     = errors.New("cancellation not yet allowed")
	ErrShortlinkDisabled  = errors.New("short links not configured")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
)

// cancellable lists the statuses a user may still cancel.
var cancellable = map[models.SubscriptionStatus]bool{
	models.SubscriptionTrialing: true,
	models.SubscriptionActive:   true,
	models.SubscriptionPastDue:  true,
	models.SubscriptionUnpaid:   true,
}

var phoneLike = regexp.MustCompile(`^\+?[0-9][0-9 \-]*$`)

// malaysia is used to print dates the way customers read them.
var malaysia = time.FixedZone("MYT", 8*60*60)

const stripeLookupWorkers = 4

// UserService covers account operations: admin user management, self-service
// billing and WhatsApp link resolution.
type UserService struct {
	log             *slog.Logger
	directory       Directory
	billing         billing.Gateway
	shortlinkSecret string
	now             func() time.Time
}

func NewUserService(log *slog.Logger, directory Directory, gw billing.Gateway, shortlinkSecret string) *UserService {
	return &UserService{
		log:             log,
		directory:       directory,
		billing:         gw,
		shortlinkSecret: strings.TrimSpace(shortlinkSecret),
		now:             time.Now,
	}
}

func (s *UserService) Find(ctx context.Context, email string) (models.User, error) {
	if s.directory == nil {
		return models.User{}, identity.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	return s.directory.FindUserByEmail(ctx, email)
}

// SetPhone merges user_metadata.phone, keeping other metadata.
func (s *UserService) SetPhone(ctx context.Context, email, phone string) error {
	user, err := s.Find(ctx, email)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	if _, err := s.directory.UpdateMetadata(ctx, user, nil, map[string]any{"phone": strings.TrimSpace(phone)}); err != nil {
		return fmt.Errorf("set phone: %w", err)
	}
	return nil
}

func (s *UserService) Count(ctx context.Context) (int, error) {
	if s.directory == nil {
		return 0, identity.ErrNotConfigured
	}
	return s.directory.CountUsers(ctx)
}

// List returns every account. With includeStripe the latest subscription of each
// account is looked up; lookup failures leave the subscription fields empty.
func (s *UserService) List(ctx context.Context, includeStripe bool) ([]models.UserRow, error) {
	if s.directory == nil {
		return nil, identity.ErrNotConfigured
	}
	users, err := s.directory.ListAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	rows := make([]models.UserRow, len(users))
	for i, u := range users {
		active := u.IsActive()
		rows[i] = models.UserRow{
			ID:           u.ID,
			Email:        u.Email,
			Phone:        u.Phone,
			CreatedAt:    formatTime(u.CreatedAt),
			LastSignInAt: formatTime(u.LastSignInAt),
			Active:       &active,
		}
	}
	if !includeStripe || s.billing == nil {
		return rows, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < stripeLookupWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				s.fillSubscription(ctx, &rows[i])
			}
		}()
	}
	for i := range rows {
		if rows[i].Email != "" {
			jobs <- i
		}
	}
	close(jobs)
	wg.Wait()
	return rows, nil
}

func (s *UserService) fillSubscription(ctx context.Context, row *models.UserRow) {
	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	cust, err := s.billing.FindCustomerByEmail(ctx, row.Email)
	if err != nil {
		return
	}
	sub, err := s.billing.LatestSubscription(ctx, cust.ID)
	if err != nil || sub == nil {
		return
	}
	row.SubscriptionStatus = string(sub.Status)
	if sub.CurrentPeriodEnd > 0 {
		end := sub.CurrentPeriodEnd
		row.CurrentPeriodEnd = &end
	}
}

// CancelResult is the customer-facing answer to a cancel request.
type CancelResult struct {
	Allowed bool
	Message string
}

// Cancel schedules the newest cancellable subscription to end at period end.
// ErrCancelTooEarly comes with a populated result explaining when to retry.
func (s *UserService) Cancel(ctx context.Context, email string) (CancelResult, error) {
	if s.billing == nil {
		return CancelResult{}, billing.ErrNotConfigured
	}
	if s.directory != nil {
		if user, err := s.Find(ctx, email); err == nil {
			if until := parseUnix(user.MinCancelDate); until > 0 && s.now().Unix() < until {
				return CancelResult{
					Allowed: false,
					Message: fmt.Sprintf("当前方案享有 3 个月使用保障期，您可在 %s 后随时申请取消 🤝", formatDateZH(until)),
				}, ErrCancelTooEarly
			}
		} else if !errors.Is(err, identity.ErrUserNotFound) && !errors.Is(err, identity.ErrNotConfigured) {
			return CancelResult{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	cust, err := s.billing.FindCustomerByEmail(ctx, email)
	if err != nil {
		return CancelResult{}, err
	}
	subs, err := s.billing.ListSubscriptions(ctx, cust.ID, 10)
	if err != nil {
		return CancelResult{}, err
	}
	var target *models.Subscription
	for i := range subs {
		if cancellable[subs[i].Status] {
			target = &subs[i]
			break
		}
	}
	if target == nil {
		return CancelResult{}, ErrNoSubscription
	}

	if target.CancelAtPeriodEnd || target.CancelAt > 0 {
		end := target.CancelAt
		if end == 0 {
			end = target.CurrentPeriodEnd
		}
		return CancelResult{
			Allowed: true,
			Message: fmt.Sprintf("您的订阅已安排于 %s 结束，无需再次操作 😊", formatDateZH(end)),
		}, nil
	}

	updated, err := s.billing.CancelAtPeriodEnd(ctx, target.ID)
	if err != nil {
		return CancelResult{}, err
	}
	s.log.Info("subscription cancel scheduled", "email", email, "subscription", target.ID)
	return CancelResult{
		Allowed: true,
		Message: fmt.Sprintf("您的取消申请已提交，将于 %s 生效。在此之前仍可正常使用服务 💚", formatDateZH(updated.CurrentPeriodEnd)),
	}, nil
}

// PortalURL opens a Stripe billing portal session returning to /caption.
func (s *UserService) PortalURL(ctx context.Context, email, origin string) (string, error) {
	if s.billing == nil {
		return "", billing.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	cust, err := s.billing.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return s.billing.CreatePortalSession(ctx, cust.ID, strings.TrimRight(origin, "/")+"/caption")
}

// ResolveWhatsApp turns a phone number or a wa_alias short code into an MSISDN.
func (s *UserService) ResolveWhatsApp(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidPhoneNumber
	}
	if IsPhoneLike(code) {
		if msisdn := NormalizeMSISDN(code); msisdn != "" {
			return msisdn, nil
		}
		return "", ErrInvalidPhoneNumber
	}

	if s.shortlinkSecret == "" {
		return "", ErrShortlinkDisabled
	}
	if s.directory == nil {
		return "", identity.ErrNotConfigured
	}
	users, err := s.directory.ListAllUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.WAAlias == "" || u.WAAlias != code {
			continue
		}
		if msisdn := NormalizeMSISDN(u.Phone); msisdn != "" {
			return msisdn, nil
		}
	}
	return "", identity.ErrUserNotFound
}

// IsPhoneLike reports whether code reads as a phone number rather than an alias.
func IsPhoneLike(code string) bool {
	return phoneLike.MatchString(strings.TrimSpace(code))
}

// NormalizeMSISDN keeps digits and rewrites a local 0-prefixed Malaysian
// number to the 60 country code.
func NormalizeMSISDN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "0") && !strings.HasPrefix(digits, "60") {
		return "60" + digits[1:]
	}
	return digits
}

// WhatsAppURL is the wa.me deep link with the fixed greeting.
func WhatsAppURL(msisdn string) string {
	return "https://wa.me/" + msisdn + "?text=Hi%2C%20I%E2%80%99m%20interested%20in%20your%2010secHerb%20product."
}

func parseUnix(v string) int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return int64(n)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Unix()
		}
	}
	return 0
}

func formatDateZH(unix int64) string {
	if unix <= 0 {
		return ""
	}
	t := time.Unix(unix, 0).In(malaysia)
	return fmt.Sprintf("%d/%d/%d", t.Year(), int(t.Month()), t.Day())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

