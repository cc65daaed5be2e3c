package domain

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// WorkItem is the governed unit of work. Reports and tasks share the shape
// and differ only in Kind.
type WorkItem struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id"`
	Kind        string  `json:"kind" enum:"report,task"`
	OwnerID     string  `json:"owner_id"`
	Domain      string  `json:"domain,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	FirstLine   string  `json:"first_line" enum:"unset,approved,rejected"`
	Final       string  `json:"final" enum:"pending,approved,rejected,overridden,finalized"`
	RateCents   int64   `json:"rate_cents"`
	Revision    int     `json:"revision"`
	Version     int64   `json:"-"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	DecidedAt   *string `json:"decided_at,omitempty" format:"date-time"`
}

// Contribution is one collaborator's share of a shared WorkItem. Weight is
// nil until weights are first assigned; AmountCents is nil until payout is
// computed.
type Contribution struct {
	ID             string   `json:"id"`
	WorkItemID     string   `json:"work_item_id"`
	CollaboratorID string   `json:"collaborator_id"`
	Weight         *float64 `json:"weight,omitempty"`
	AmountCents    *int64   `json:"amount_cents,omitempty"`
	Verified       bool     `json:"verified"`
	Note           string   `json:"note,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// AuditEvent is an immutable governance record. Rows are append-only; the
// engine is the only writer.
type AuditEvent struct {
	ID            int64   `json:"id"`
	TS            string  `json:"ts" format:"date-time"`
	Action        string  `json:"action"`
	OrgID         string  `json:"org_id,omitempty"`
	EntityKind    string  `json:"entity_kind"`
	EntityID      string  `json:"entity_id"`
	ActorID       string  `json:"actor_id"`
	PrevValue     string  `json:"prev_value,omitempty"`
	NewValue      string  `json:"new_value,omitempty"`
	Justification *string `json:"justification,omitempty"`
	Payload       string  `json:"payload_json,omitempty"`
}

// RoleAssignment binds an actor to a role within an org. Domain-admins carry
// the domains they manage.
type RoleAssignment struct {
	OrgID     string   `json:"org_id"`
	ActorID   string   `json:"actor_id"`
	Role      string   `json:"role"`
	Domains   []string `json:"domains,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
