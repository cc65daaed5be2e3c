package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meritline/internal/config"
	"meritline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const workItemCols = `id,org_id,kind,owner_id,COALESCE(domain,'') AS domain,title,COALESCE(description,'') AS description,first_line,final,rate_cents,revision,version,created_at,updated_at,decided_at`

func scanWorkItem(scan func(...any) error) (domain.WorkItem, error) {
	var w domain.WorkItem
	var decidedAt sql.NullString
	err := scan(&w.ID, &w.OrgID, &w.Kind, &w.OwnerID, &w.Domain, &w.Title, &w.Description,
		&w.FirstLine, &w.Final, &w.RateCents, &w.Revision, &w.Version, &w.CreatedAt, &w.UpdatedAt, &decidedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if decidedAt.Valid {
		w.DecidedAt = &decidedAt.String
	}
	return w, err
}

func (r Repo) InsertWorkItemTx(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(id,org_id,kind,owner_id,domain,title,description,first_line,final,rate_cents,revision,version,created_at,updated_at,decided_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.OrgID, w.Kind, w.OwnerID, nullable(w.Domain), w.Title, nullable(w.Description),
		w.FirstLine, w.Final, w.RateCents, w.Revision, w.Version, w.CreatedAt, w.UpdatedAt, nullablePtr(w.DecidedAt))
	return err
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workItemCols+` FROM work_items WHERE id=?`, id)
	return scanWorkItem(row.Scan)
}

func (r Repo) GetWorkItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workItemCols+` FROM work_items WHERE id=?`, id)
	return scanWorkItem(row.Scan)
}

// SaveWorkItemTx persists a mutated item guarded by its version at read time.
// Zero rows affected means another writer got there first.
func (r Repo) SaveWorkItemTx(ctx context.Context, tx *sql.Tx, w domain.WorkItem, readVersion int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET first_line=?,final=?,rate_cents=?,revision=?,version=?,updated_at=?,decided_at=? WHERE id=? AND version=?`,
		w.FirstLine, w.Final, w.RateCents, w.Revision, readVersion+1, w.UpdatedAt, nullablePtr(w.DecidedAt), w.ID, readVersion)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

type WorkItemFilter struct {
	OrgID     string
	Kind      string
	OwnerID   string
	Domain    string
	FirstLine string
	Final     string
	Limit     int
}

func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilter) ([]domain.WorkItem, error) {
	clauses := []string{"1=1"}
	var args []any
	add := func(clause, val string) {
		if val != "" {
			clauses = append(clauses, clause)
			args = append(args, val)
		}
	}
	add("org_id=?", f.OrgID)
	add("kind=?", f.Kind)
	add("owner_id=?", f.OwnerID)
	add("domain=?", f.Domain)
	add("first_line=?", f.FirstLine)
	add("final=?", f.Final)
	query := `SELECT ` + workItemCols + ` FROM work_items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

const contributionCols = `id,work_item_id,collaborator_id,weight,amount_cents,verified,COALESCE(note,'') AS note,created_at,updated_at`

func scanContribution(scan func(...any) error) (domain.Contribution, error) {
	var c domain.Contribution
	var weight sql.NullFloat64
	var amount sql.NullInt64
	var verified int
	err := scan(&c.ID, &c.WorkItemID, &c.CollaboratorID, &weight, &amount, &verified, &c.Note, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if weight.Valid {
		c.Weight = &weight.Float64
	}
	if amount.Valid {
		c.AmountCents = &amount.Int64
	}
	c.Verified = verified == 1
	return c, err
}

func (r Repo) UpsertContributionTx(ctx context.Context, tx *sql.Tx, c domain.Contribution) error {
	verified := 0
	if c.Verified {
		verified = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO contributions(id,work_item_id,collaborator_id,weight,amount_cents,verified,note,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(work_item_id,collaborator_id) DO UPDATE SET weight=excluded.weight, note=excluded.note, updated_at=excluded.updated_at`,
		c.ID, c.WorkItemID, c.CollaboratorID, nullableFloatPtr(c.Weight), nullableIntPtr(c.AmountCents), verified, nullable(c.Note), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) SetContributionAmountTx(ctx context.Context, tx *sql.Tx, workItemID, collaboratorID string, amountCents int64, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contributions SET amount_cents=?, updated_at=? WHERE work_item_id=? AND collaborator_id=?`,
		amountCents, updatedAt, workItemID, collaboratorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// VerifyContributionTx marks a contribution verified. Verification is one-way:
// already-verified rows are left untouched and reported as unchanged.
func (r Repo) VerifyContributionTx(ctx context.Context, tx *sql.Tx, workItemID, collaboratorID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE contributions SET verified=1, updated_at=? WHERE work_item_id=? AND collaborator_id=? AND verified=0`,
		updatedAt, workItemID, collaboratorID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM contributions WHERE work_item_id=? AND collaborator_id=?`, workItemID, collaboratorID).Scan(&exists)
		if err != nil {
			return false, err
		}
		if exists == 0 {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (r Repo) ListContributions(ctx context.Context, workItemID string) ([]domain.Contribution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contributionCols+` FROM contributions WHERE work_item_id=? ORDER BY created_at ASC, id ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContributions(rows)
}

func (r Repo) ListContributionsTx(ctx context.Context, tx *sql.Tx, workItemID string) ([]domain.Contribution, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+contributionCols+` FROM contributions WHERE work_item_id=? ORDER BY created_at ASC, id ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContributions(rows)
}

func collectContributions(rows *sql.Rows) ([]domain.Contribution, error) {
	var res []domain.Contribution
	for rows.Next() {
		c, err := scanContribution(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertOrg(ctx context.Context, o domain.Org) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO organizations(id,name,created_at) VALUES (?,?,?)`,
		o.ID, o.Name, o.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Org, error) {
	var o domain.Org
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM organizations WHERE id=?`, id).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) SingleOrg(ctx context.Context) (domain.Org, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM organizations`)
	if err != nil {
		return domain.Org{}, err
	}
	defer rows.Close()
	var orgs []domain.Org
	for rows.Next() {
		var o domain.Org
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return domain.Org{}, err
		}
		orgs = append(orgs, o)
	}
	if len(orgs) == 0 {
		return domain.Org{}, ErrNotFound
	}
	if len(orgs) > 1 {
		return domain.Org{}, fmt.Errorf("multiple organizations exist; specify --org")
	}
	return orgs[0], nil
}

func (r Repo) UpsertOrgConfig(ctx context.Context, orgID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Org.ID = orgID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO org_configs(org_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(org_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, orgID, string(payload), now, now)
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_configs WHERE org_id=?`, orgID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Org.ID == "" {
		cfg.Org.ID = orgID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) EnsureActor(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(id,created_at) VALUES (?,?) ON CONFLICT(id) DO NOTHING`, id, now)
	return err
}

const auditCols = `id,ts,action,COALESCE(org_id,''),entity_kind,entity_id,actor_id,COALESCE(prev_value,''),COALESCE(new_value,''),justification,payload_json`

func scanAuditEvent(scan func(...any) error) (domain.AuditEvent, error) {
	var e domain.AuditEvent
	var justification sql.NullString
	err := scan(&e.ID, &e.TS, &e.Action, &e.OrgID, &e.EntityKind, &e.EntityID, &e.ActorID,
		&e.PrevValue, &e.NewValue, &justification, &e.Payload)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if justification.Valid {
		e.Justification = &justification.String
	}
	return e, err
}

// TimelineFor returns the full audit history of one entity, oldest first.
// Insertion id breaks timestamp ties so replay order is deterministic.
func (r Repo) TimelineFor(ctx context.Context, entityID string) ([]domain.AuditEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditCols+` FROM audit_events WHERE entity_id=? ORDER BY ts ASC, id ASC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEvents(rows)
}

func (r Repo) ListAuditEvents(ctx context.Context, orgID, action string, limit int) ([]domain.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if orgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, orgID)
	}
	if action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, action)
	}
	query := `SELECT ` + auditCols + ` FROM audit_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY ts DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEvents(rows)
}

// EventsAfter feeds the webhook dispatcher cursor.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditCols+` FROM audit_events WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM audit_events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func collectAuditEvents(rows *sql.Rows) ([]domain.AuditEvent, error) {
	var res []domain.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
