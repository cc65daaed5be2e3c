package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meritline/internal/config"
	"meritline/internal/domain"
	"meritline/internal/repo"
)

// ResolveOrgAndConfig picks the active org and ensures an org + config exist
// in the DB, seeding defaults if missing. It prefers overrides, then the
// single-org DB. A missing org is created on the fly.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	orgID := orgOverride
	if orgID == "" {
		if fileCfg, err := config.LoadOptional(workspace); err == nil && fileCfg != nil {
			orgID = fileCfg.Org.ID
		}
	}
	if orgID == "" {
		if o, err := r.SingleOrg(ctx); err == nil {
			orgID = o.ID
		} else {
			return "", nil, fmt.Errorf("org not specified; use --org")
		}
	}
	seedCfg := config.Default(orgID)

	if _, err := r.GetOrg(ctx, orgID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createOrg(ctx, r, orgID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetOrgConfig(ctx, orgID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertOrgConfig(ctx, orgID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed org config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Org.ID = orgID
	return orgID, cfg, nil
}

// createOrg inserts a minimal org footprint. The invoking actor becomes
// supreme authority so a fresh workspace is immediately usable.
func createOrg(ctx context.Context, r repo.Repo, orgID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(orgID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.InsertOrg(ctx, domain.Org{ID: orgID, Name: "", CreatedAt: now}); err != nil {
		return fmt.Errorf("insert org: %w", err)
	}
	if err := r.UpsertOrgConfig(ctx, orgID, seedCfg); err != nil {
		return fmt.Errorf("insert org config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureActor(ctx, actorID); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := r.UpsertAssignment(ctx, domain.RoleAssignment{
		OrgID:     orgID,
		ActorID:   actorID,
		Role:      "supreme-authority",
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	for id, a := range seedCfg.Assignments {
		if id == actorID {
			continue
		}
		if err := r.EnsureActor(ctx, id); err != nil {
			return err
		}
		if err := r.UpsertAssignment(ctx, domain.RoleAssignment{
			OrgID:     orgID,
			ActorID:   id,
			Role:      a.Role,
			Domains:   a.Domains,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}
