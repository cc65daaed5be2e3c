package meritlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Meritline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkItem represents the API work item model.
type WorkItem struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Kind        string `json:"kind"`
	OwnerID     string `json:"owner_id"`
	Domain      string `json:"domain,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	FirstLine   string `json:"first_line"`
	Final       string `json:"final"`
	RateCents   int64  `json:"rate_cents"`
	Revision    int    `json:"revision"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	DecidedAt   string `json:"decided_at,omitempty"`
}

// Contribution represents one collaborator's share of a work item.
type Contribution struct {
	WorkItemID     string   `json:"work_item_id"`
	CollaboratorID string   `json:"collaborator_id"`
	Weight         *float64 `json:"weight,omitempty"`
	AmountCents    *int64   `json:"amount_cents,omitempty"`
	Verified       bool     `json:"verified"`
	Note           string   `json:"note,omitempty"`
}

// AuditEvent represents one append-only audit trail entry.
type AuditEvent struct {
	ID            int64           `json:"id"`
	TS            string          `json:"ts"`
	Action        string          `json:"action"`
	OrgID         string          `json:"org_id,omitempty"`
	EntityKind    string          `json:"entity_kind"`
	EntityID      string          `json:"entity_id"`
	ActorID       string          `json:"actor_id"`
	PrevValue     string          `json:"prev_value,omitempty"`
	NewValue      string          `json:"new_value,omitempty"`
	Justification *string         `json:"justification,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Org represents an organization.
type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitWorkItem creates a work item in its initial state.
func (c *Client) SubmitWorkItem(ctx context.Context, kind, title string, opts map[string]any) (WorkItem, error) {
	body := map[string]any{
		"kind":  kind,
		"title": title,
	}
	for k, v := range opts {
		body[k] = v
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, "v0/items", body, &resp)
	return resp, err
}

// GetWorkItem fetches a work item by id.
func (c *Client) GetWorkItem(ctx context.Context, id string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodGet, itemPath(id, ""), nil, &resp)
	return resp, err
}

// ListWorkItems returns work items matching the given query filters
// (kind, owner_id, domain, first_line, final, limit).
func (c *Client) ListWorkItems(ctx context.Context, filters map[string]string) ([]WorkItem, error) {
	endpoint := "v0/items"
	if len(filters) > 0 {
		q := url.Values{}
		for k, v := range filters {
			if v != "" {
				q.Set(k, v)
			}
		}
		if enc := q.Encode(); enc != "" {
			endpoint += "?" + enc
		}
	}
	var resp []WorkItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Review records a first-line decision, approved or rejected.
func (c *Client) Review(ctx context.Context, itemID, decision, justification, note string) (WorkItem, error) {
	body := map[string]any{"decision": decision}
	if justification != "" {
		body["justification"] = justification
	}
	if note != "" {
		body["note"] = note
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, itemPath(itemID, "review"), body, &resp)
	return resp, err
}

// Decide records a final decision, approved or rejected.
func (c *Client) Decide(ctx context.Context, itemID, decision, justification string) (WorkItem, error) {
	body := map[string]any{"decision": decision}
	if justification != "" {
		body["justification"] = justification
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, itemPath(itemID, "decision"), body, &resp)
	return resp, err
}

// Finalize moves an approved item to its terminal state and settles payouts.
func (c *Client) Finalize(ctx context.Context, itemID, justification string) (WorkItem, error) {
	body := map[string]any{}
	if justification != "" {
		body["justification"] = justification
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, itemPath(itemID, "finalize"), body, &resp)
	return resp, err
}

// Override resolves a first-line rejection with a pending final status.
func (c *Client) Override(ctx context.Context, itemID, resolution, justification string) (WorkItem, error) {
	body := map[string]any{"resolution": resolution}
	if justification != "" {
		body["justification"] = justification
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, itemPath(itemID, "override"), body, &resp)
	return resp, err
}

// RequestRevision sends a rejected item back for rework.
func (c *Client) RequestRevision(ctx context.Context, itemID, note string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, itemPath(itemID, "revision"), map[string]any{"note": note}, &resp)
	return resp, err
}

// SetRate changes the payable rate of an undecided item.
func (c *Client) SetRate(ctx context.Context, itemID string, rateCents int64, justification string) (WorkItem, error) {
	body := map[string]any{"rate_cents": rateCents}
	if justification != "" {
		body["justification"] = justification
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPut, itemPath(itemID, "rate"), body, &resp)
	return resp, err
}

// ContributionWeight binds one collaborator to a relative weight.
type ContributionWeight struct {
	CollaboratorID string  `json:"collaborator_id"`
	Weight         float64 `json:"weight"`
	Note           string  `json:"note,omitempty"`
}

// AssignContributions sets or replaces collaborator weights.
func (c *Client) AssignContributions(ctx context.Context, itemID string, weights []ContributionWeight) ([]Contribution, error) {
	var resp []Contribution
	err := c.do(ctx, http.MethodPut, itemPath(itemID, "contributions"), map[string]any{"contributions": weights}, &resp)
	return resp, err
}

// ListContributions returns the collaborator roster of an item.
func (c *Client) ListContributions(ctx context.Context, itemID string) ([]Contribution, error) {
	var resp []Contribution
	err := c.do(ctx, http.MethodGet, itemPath(itemID, "contributions"), nil, &resp)
	return resp, err
}

// VerifyContribution attests one collaborator's share.
func (c *Client) VerifyContribution(ctx context.Context, itemID, collaboratorID string) ([]Contribution, error) {
	var resp []Contribution
	endpoint := itemPath(itemID, "contributions/"+url.PathEscape(collaboratorID)+"/verify")
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Timeline returns the ordered audit history of one item.
func (c *Client) Timeline(ctx context.Context, itemID string) ([]AuditEvent, error) {
	var resp []AuditEvent
	err := c.do(ctx, http.MethodGet, itemPath(itemID, "timeline"), nil, &resp)
	return resp, err
}

// CreateOrg creates an organization.
func (c *Client) CreateOrg(ctx context.Context, id, name string) (Org, error) {
	var resp Org
	err := c.do(ctx, http.MethodPost, "v0/orgs", map[string]any{"id": id, "name": name}, &resp)
	return resp, err
}

// Grant binds an actor to a role within an org.
func (c *Client) Grant(ctx context.Context, orgID, actorID, role string, domains []string) error {
	body := map[string]any{"actor_id": actorID, "role": role}
	if len(domains) > 0 {
		body["domains"] = domains
	}
	endpoint := fmt.Sprintf("v0/orgs/%s/grants", url.PathEscape(orgID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, action string, limit int) ([]AuditEvent, error) {
	endpoint := "v0/events"
	q := url.Values{}
	if action != "" {
		q.Set("action", action)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp []AuditEvent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func itemPath(id, sub string) string {
	p := "v0/items/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
