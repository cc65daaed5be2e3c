package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Action kinds recorded in the trail.
const (
	ActionSubmission        = "submission"
	ActionFirstLineDecision = "first_line_decision"
	ActionFinalDecision     = "final_decision"
	ActionOverride          = "override"
	ActionRevisionRequested = "revision_requested"
	ActionRateChanged       = "rate_changed"
	ActionContribAssigned   = "contribution_assigned"
	ActionContribVerified   = "contribution_verified"
	ActionPayoutAllocated   = "payout_allocated"
)

// Writer appends audit events inside the caller's transaction. If the append
// fails the surrounding operation must fail with it: an unrecorded governance
// action is treated the same as an unauthorized one.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Entry is one append. PrevValue/NewValue carry the status pair for decision
// actions; Justification stays nil unless the actor supplied one.
type Entry struct {
	Action        string
	OrgID         string
	EntityKind    string
	EntityID      string
	ActorID       string
	PrevValue     string
	NewValue      string
	Justification *string
	Payload       Payload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_events(ts,action,org_id,entity_kind,entity_id,actor_id,prev_value,new_value,justification,payload_json) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ts, e.Action, nullable(e.OrgID), e.EntityKind, e.EntityID, e.ActorID, nullable(e.PrevValue), nullable(e.NewValue), nullableStringPtr(e.Justification), string(data))
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
