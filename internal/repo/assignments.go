package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"meritline/internal/domain"
)

// UpsertAssignment replaces an actor's role binding within an org.
func (r Repo) UpsertAssignment(ctx context.Context, a domain.RoleAssignment) error {
	var domainsJSON any
	if len(a.Domains) > 0 {
		data, err := json.Marshal(a.Domains)
		if err != nil {
			return err
		}
		domainsJSON = string(data)
	}
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO role_assignments(org_id,actor_id,role,domains_json,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(org_id,actor_id) DO UPDATE SET role=excluded.role, domains_json=excluded.domains_json`,
		a.OrgID, a.ActorID, a.Role, domainsJSON, a.CreatedAt)
	return err
}

func (r Repo) GetAssignment(ctx context.Context, orgID, actorID string) (domain.RoleAssignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT org_id,actor_id,role,domains_json,created_at FROM role_assignments WHERE org_id=? AND actor_id=?`, orgID, actorID)
	return scanAssignment(row.Scan)
}

func (r Repo) ListAssignments(ctx context.Context, orgID string) ([]domain.RoleAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT org_id,actor_id,role,domains_json,created_at FROM role_assignments WHERE org_id=? ORDER BY actor_id ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) DeleteAssignment(ctx context.Context, orgID, actorID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM role_assignments WHERE org_id=? AND actor_id=?`, orgID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAssignment(scan func(...any) error) (domain.RoleAssignment, error) {
	var a domain.RoleAssignment
	var domainsJSON sql.NullString
	err := scan(&a.OrgID, &a.ActorID, &a.Role, &domainsJSON, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if domainsJSON.Valid && domainsJSON.String != "" {
		if err := json.Unmarshal([]byte(domainsJSON.String), &a.Domains); err != nil {
			return a, err
		}
	}
	return a, nil
}
