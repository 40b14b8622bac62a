// Package identity talks to the Supabase Auth (GoTrue) admin API and verifies
// end-user session tokens.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/CaptionStudio/internal/models"
)

const listPageSize = 1000

var (
	ErrNotConfigured = errors.New("identity admin api not configured")
	ErrUserNotFound  = errors.New("user not found")
)

type AdminConfig struct {
	URL        string
	ServiceKey string
}

// AdminClient uses the service-role key; never expose it to browsers.
type AdminClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	log        *slog.Logger
}

func NewAdminClient(cfg AdminConfig, httpClient *http.Client, log *slog.Logger) *AdminClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &AdminClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: httpClient,
		log:        log,
	}
}

func (c *AdminClient) Configured() bool {
	return c.baseURL != "" && c.serviceKey != ""
}

type apiUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	CreatedAt    string         `json:"created_at"`
	LastSignInAt string         `json:"last_sign_in_at"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// ListUsers returns one page (1-based) and the total reported by the server.
func (c *AdminClient) ListUsers(ctx context.Context, page, perPage int) ([]models.User, int, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var out struct {
		Users []apiUser `json:"users"`
		Total int       `json:"total"`
	}
	header, err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, 0, err
	}
	total := out.Total
	if v := header.Get("X-Total-Count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			total = n
		}
	}
	users := make([]models.User, 0, len(out.Users))
	for _, u := range out.Users {
		users = append(users, u.toModel())
	}
	return users, total, nil
}

// ListAllUsers walks every page.
func (c *AdminClient) ListAllUsers(ctx context.Context) ([]models.User, error) {
	var all []models.User
	for page := 1; ; page++ {
		users, total, err := c.ListUsers(ctx, page, listPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, users...)
		if len(users) < listPageSize || (total > 0 && len(all) >= total) {
			return all, nil
		}
	}
}

func (c *AdminClient) CountUsers(ctx context.Context) (int, error) {
	users, total, err := c.ListUsers(ctx, 1, 1)
	if err != nil {
		return 0, err
	}
	if total == 0 && len(users) > 0 {
		all, err := c.ListAllUsers(ctx)
		if err != nil {
			return 0, err
		}
		return len(all), nil
	}
	return total, nil
}

func (c *AdminClient) GetUser(ctx context.Context, id string) (models.User, error) {
	var u apiUser
	if _, err := c.do(ctx, http.MethodGet, "/auth/v1/admin/users/"+url.PathEscape(id), nil, &u); err != nil {
		return models.User{}, err
	}
	return u.toModel(), nil
}

// FindUserByEmail scans the user list; the admin API has no email filter.
func (c *AdminClient) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	needle := strings.ToLower(strings.TrimSpace(email))
	if needle == "" {
		return models.User{}, ErrUserNotFound
	}
	for page := 1; ; page++ {
		users, total, err := c.ListUsers(ctx, page, listPageSize)
		if err != nil {
			return models.User{}, err
		}
		for _, u := range users {
			if strings.ToLower(u.Email) == needle {
				return u, nil
			}
		}
		if len(users) < listPageSize || (total > 0 && page*listPageSize >= total) {
			return models.User{}, ErrUserNotFound
		}
	}
}

// UpdateMetadata merges the given keys into the user's existing metadata and
// writes the result back. Nil maps leave that metadata untouched.
func (c *AdminClient) UpdateMetadata(ctx context.Context, user models.User, appMeta, userMeta map[string]any) (models.User, error) {
	body := map[string]any{}
	if appMeta != nil {
		body["app_metadata"] = merge(user.AppMetadata, appMeta)
	}
	if userMeta != nil {
		body["user_metadata"] = merge(user.UserMetadata, userMeta)
	}
	var u apiUser
	if _, err := c.do(ctx, http.MethodPut, "/auth/v1/admin/users/"+url.PathEscape(user.ID), body, &u); err != nil {
		return models.User{}, err
	}
	return u.toModel(), nil
}

func merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func (c *AdminClient) do(ctx context.Context, method, path string, in, out any) (http.Header, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("identity admin call failed", "method", method, "status", resp.StatusCode)
		}
		return nil, fmt.Errorf("identity error: status=%d body=%s", resp.StatusCode, truncateBody(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode identity response: %w", err)
		}
	}
	return resp.Header, nil
}

func (u apiUser) toModel() models.User {
	m := models.User{
		ID:           u.ID,
		Email:        u.Email,
		AppMetadata:  u.AppMetadata,
		UserMetadata: u.UserMetadata,
	}
	if m.AppMetadata == nil {
		m.AppMetadata = map[string]any{}
	}
	if m.UserMetadata == nil {
		m.UserMetadata = map[string]any{}
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, u.CreatedAt)
	m.LastSignInAt, _ = time.Parse(time.RFC3339Nano, u.LastSignInAt)
	ApplyMetadata(&m)
	if m.Phone == "" {
		m.Phone = u.Phone
	}
	return m
}

// ApplyMetadata fills the typed fields of u from its raw metadata maps.
func ApplyMetadata(u *models.User) {
	if v, ok := u.AppMetadata["active"].(bool); ok {
		u.Active = &v
	} else {
		u.Active = nil
	}
	u.TrialUsed, _ = u.AppMetadata["trial_used"].(bool)
	u.TrialStartedAt = int64(number(u.AppMetadata["trial_started_at"]))
	u.MinCancelDate = stringValue(u.AppMetadata["min_cancel_date"])
	u.Phone = stringValue(u.UserMetadata["phone"])
	u.WAAlias = stringValue(u.UserMetadata["wa_alias"])
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
