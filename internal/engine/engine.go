package engine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"meritline/internal/allocate"
	"meritline/internal/audit"
	"meritline/internal/authority"
	"meritline/internal/config"
	"meritline/internal/domain"
	"meritline/internal/lifecycle"
	"meritline/internal/repo"
)

// Engine applies governance decisions to work items. Every mutation runs in
// one transaction with its audit append; a failed append aborts the mutation.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// actorGrant is an actor's resolved role, authority and domain scope.
type actorGrant struct {
	Role      authority.Role
	Authority authority.Authority
	Domains   []string
}

// resolveGrant looks up an actor's role, preferring persisted assignments over
// the config file.
func (e Engine) resolveGrant(ctx context.Context, orgID, actorID string) (actorGrant, error) {
	a, err := e.Repo.GetAssignment(ctx, orgID, actorID)
	if err == nil {
		role := authority.Role(a.Role)
		auth, err := authority.Of(role)
		if err != nil {
			return actorGrant{}, UnauthorizedRoleError{Role: a.Role, Rule: "assignment names unknown role"}
		}
		return actorGrant{Role: role, Authority: auth, Domains: a.Domains}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return actorGrant{}, wrapStorage(err)
	}
	if e.Config != nil {
		if ca, ok := e.Config.Assignments[actorID]; ok {
			role := authority.Role(ca.Role)
			auth, err := authority.Of(role)
			if err != nil {
				return actorGrant{}, UnauthorizedRoleError{Role: ca.Role, Rule: "assignment names unknown role"}
			}
			return actorGrant{Role: role, Authority: auth, Domains: ca.Domains}, nil
		}
	}
	return actorGrant{}, UnauthorizedRoleError{Rule: "actor " + actorID + " has no role assignment"}
}

// domainAllows enforces domain scoping for domain-admins. Other roles are
// either unscoped (supreme, team-lead) or blocked earlier by capability.
func (g actorGrant) domainAllows(itemDomain string) bool {
	if g.Role != authority.RoleDomainAdmin {
		return true
	}
	if itemDomain == "" || len(g.Domains) == 0 {
		return true
	}
	for _, d := range g.Domains {
		if d == itemDomain {
			return true
		}
	}
	return false
}

func (e Engine) requireJustification(role authority.Role, justification string) error {
	if authority.JustificationRequired(role) && strings.TrimSpace(justification) == "" {
		return JustificationRequiredError{Role: string(role)}
	}
	return nil
}

func optionalString(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

// wrapStorage marks database faults retryable. Missing rows keep their
// sentinel so callers still map them to not-found.
func wrapStorage(err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return StorageUnavailableError{Err: err}
}

// InitOrg creates an organization, stores its config and seeds the role
// assignments the config declares.
func (e Engine) InitOrg(ctx context.Context, orgID, name, actorID string) (domain.Org, error) {
	if orgID == "" {
		return domain.Org{}, ValidationError{Reason: "org id is required"}
	}
	now := e.nowRFC3339()
	o := domain.Org{ID: orgID, Name: name, CreatedAt: now}
	if err := e.Repo.InsertOrg(ctx, o); err != nil {
		return domain.Org{}, err
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(orgID)
	}
	if err := e.Repo.UpsertOrgConfig(ctx, orgID, cfg); err != nil {
		return domain.Org{}, err
	}
	for id, a := range cfg.Assignments {
		if err := e.Repo.EnsureActor(ctx, id); err != nil {
			return domain.Org{}, err
		}
		if err := e.Repo.UpsertAssignment(ctx, domain.RoleAssignment{
			OrgID:     orgID,
			ActorID:   id,
			Role:      a.Role,
			Domains:   a.Domains,
			CreatedAt: now,
		}); err != nil {
			return domain.Org{}, err
		}
	}
	return o, nil
}

// Grant binds an actor to a role within an org.
func (e Engine) Grant(ctx context.Context, orgID, actorID, role string, domains []string) error {
	r := authority.Role(role)
	if !authority.Known(r) {
		return ValidationError{Reason: "unknown role " + role}
	}
	if len(domains) > 0 && r != authority.RoleDomainAdmin {
		return ValidationError{Reason: "domain scoping applies to domain-admin only"}
	}
	if err := e.Repo.EnsureActor(ctx, actorID); err != nil {
		return err
	}
	return e.Repo.UpsertAssignment(ctx, domain.RoleAssignment{
		OrgID:     orgID,
		ActorID:   actorID,
		Role:      role,
		Domains:   domains,
		CreatedAt: e.nowRFC3339(),
	})
}

// SubmitOptions are parameters for submitting a work item.
type SubmitOptions struct {
	ID            string
	OrgID         string
	Kind          string
	ActorID       string
	Domain        string
	Title         string
	Description   string
	RateCents     int64
	Collaborators []string
}

// Submit creates a work item in its initial state and records the submission.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.WorkItem, error) {
	if opts.Title == "" {
		return domain.WorkItem{}, ValidationError{Reason: "title is required"}
	}
	if opts.Kind != "report" && opts.Kind != "task" {
		return domain.WorkItem{}, ValidationError{Reason: "kind must be report or task"}
	}
	if opts.RateCents < 0 {
		return domain.WorkItem{}, ValidationError{Reason: "rate must not be negative"}
	}
	grant, err := e.resolveGrant(ctx, opts.OrgID, opts.ActorID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !grant.Authority.Has(authority.CapSubmit) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "submit requires the submit capability"}
	}

	now := e.nowRFC3339()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	w := domain.WorkItem{
		ID:          id,
		OrgID:       opts.OrgID,
		Kind:        opts.Kind,
		OwnerID:     opts.ActorID,
		Domain:      opts.Domain,
		Title:       opts.Title,
		Description: opts.Description,
		FirstLine:   string(lifecycle.FirstLineUnset),
		Final:       string(lifecycle.FinalPending),
		RateCents:   opts.RateCents,
		Revision:    0,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	defer tx.Rollback()

	if err := e.Repo.InsertWorkItemTx(ctx, tx, w); err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	for _, collaborator := range opts.Collaborators {
		c := domain.Contribution{
			ID:             uuid.NewString(),
			WorkItemID:     w.ID,
			CollaboratorID: collaborator,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.UpsertContributionTx(ctx, tx, c); err != nil {
			return domain.WorkItem{}, wrapStorage(err)
		}
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		Action:     audit.ActionSubmission,
		OrgID:      w.OrgID,
		EntityKind: w.Kind,
		EntityID:   w.ID,
		ActorID:    opts.ActorID,
		NewValue:   w.FirstLine,
		Payload:    audit.Payload{"title": w.Title, "rate_cents": w.RateCents, "collaborators": len(opts.Collaborators)},
	}); err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	return w, nil
}

// TransitionRequest asks for one status move on one track. Override requests
// go through Override, not here.
type TransitionRequest struct {
	WorkItemID    string
	Track         lifecycle.Track
	Target        lifecycle.Status
	ActorID       string
	Justification string
	Note          string
}

// Apply validates and executes a transition request. All checks run before
// any mutation; failure leaves the item untouched and appends nothing.
func (e Engine) Apply(ctx context.Context, req TransitionRequest) (domain.WorkItem, error) {
	if req.Track != lifecycle.TrackFirstLine && req.Track != lifecycle.TrackFinal {
		return domain.WorkItem{}, ValidationError{Reason: "track must be first-line or final"}
	}
	if req.Target == lifecycle.FinalOverridden {
		return domain.WorkItem{}, UnauthorizedRoleError{Rule: "overridden is only reachable through the override operation"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, req.WorkItemID)
	if err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	grant, err := e.resolveGrant(ctx, w.OrgID, req.ActorID)
	if err != nil {
		return domain.WorkItem{}, err
	}

	requiredTier := authority.TierTeamLead
	needed := authority.CapFirstReview
	if req.Track == lifecycle.TrackFinal {
		requiredTier = authority.TierDomainAdmin
		needed = authority.CapFinalize
	}
	// each track has a deciding tier; deciders act within their own tier,
	// juniors never do
	if !authority.TierAllows(grant.Authority.Tier, requiredTier, true) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "tier too junior to decide the " + string(req.Track) + " track"}
	}
	if !grant.Authority.Has(needed) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "transition requires the " + string(needed) + " capability"}
	}
	if !grant.domainAllows(w.Domain) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "domain " + w.Domain + " is outside the actor's scope"}
	}
	if !lifecycle.TransitionAllowedFor(req.Track, req.Target, grant.Role) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "role may not set " + string(req.Track) + " status " + string(req.Target)}
	}

	current := lifecycle.Status(w.FirstLine)
	if req.Track == lifecycle.TrackFinal {
		current = lifecycle.Status(w.Final)
	}
	if !lifecycle.TransitionLegal(req.Track, current, req.Target) {
		return domain.WorkItem{}, IllegalTransitionError{Track: string(req.Track), From: string(current), To: string(req.Target)}
	}
	// first-line decisions are void once the final status has moved on
	if req.Track == lifecycle.TrackFirstLine && w.Final != string(lifecycle.FinalPending) {
		return domain.WorkItem{}, StaleStateError{WorkItemID: w.ID, Rule: "final status already " + w.Final}
	}
	if err := e.requireJustification(grant.Role, req.Justification); err != nil {
		return domain.WorkItem{}, err
	}

	readVersion := w.Version
	now := e.nowRFC3339()
	prev := string(current)
	action := audit.ActionFirstLineDecision
	if req.Track == lifecycle.TrackFirstLine {
		w.FirstLine = string(req.Target)
	} else {
		action = audit.ActionFinalDecision
		w.Final = string(req.Target)
		if req.Target != lifecycle.FinalPending && w.DecidedAt == nil {
			w.DecidedAt = &now
		}
	}
	w.UpdatedAt = now

	ok, err := e.Repo.SaveWorkItemTx(ctx, tx, w, readVersion)
	if err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	if !ok {
		return domain.WorkItem{}, StaleStateError{WorkItemID: w.ID, Rule: "concurrent update"}
	}
	w.Version = readVersion + 1

	if err := e.Audit.Append(ctx, tx, audit.Entry{
		Action:        action,
		OrgID:         w.OrgID,
		EntityKind:    w.Kind,
		EntityID:      w.ID,
		ActorID:       req.ActorID,
		PrevValue:     prev,
		NewValue:      string(req.Target),
		Justification: optionalString(req.Justification),
		Payload:       notePayload(req.Note),
	}); err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}

	if req.Track == lifecycle.TrackFinal && req.Target == lifecycle.FinalFinalized {
		if err := e.allocatePayouts(ctx, tx, w, req.ActorID); err != nil {
			return domain.WorkItem{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	return w, nil
}

func notePayload(note string) audit.Payload {
	if note == "" {
		return nil
	}
	return audit.Payload{"note": note}
}

// RequestRevision returns a rejected item to its author for rework. The
// revision counter only moves forward; the first-line slate is wiped, the
// final status is not touched.
func (e Engine) RequestRevision(ctx context.Context, workItemID, actorID, note string) (domain.WorkItem, error) {
	if strings.TrimSpace(note) == "" {
		return domain.WorkItem{}, ValidationError{Reason: "revision request requires a non-empty note"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	grant, err := e.resolveGrant(ctx, w.OrgID, actorID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if actorID != w.OwnerID && !grant.Authority.Has(authority.CapFirstReview) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "revision may be requested by the owner or a first-line reviewer"}
	}
	if !lifecycle.TransitionLegal(lifecycle.TrackFirstLine, lifecycle.Status(w.FirstLine), lifecycle.FirstLineUnset) {
		return domain.WorkItem{}, IllegalTransitionError{Track: string(lifecycle.TrackFirstLine), From: w.FirstLine, To: string(lifecycle.FirstLineUnset)}
	}
	if w.Final != string(lifecycle.FinalPending) {
		return domain.WorkItem{}, StaleStateError{WorkItemID: w.ID, Rule: "final status already " + w.Final}
	}
	if limit := e.revisionCap(); limit > 0 && w.Revision >= limit {
		return domain.WorkItem{}, ValidationError{Reason: "revision cap reached (" + strconv.Itoa(limit) + ")"}
	}

	readVersion := w.Version
	now := e.nowRFC3339()
	prev := w.FirstLine
	w.FirstLine = string(lifecycle.FirstLineUnset)
	w.Revision++
	w.UpdatedAt = now

	ok, err := e.Repo.SaveWorkItemTx(ctx, tx, w, readVersion)
	if err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	if !ok {
		return domain.WorkItem{}, StaleStateError{WorkItemID: w.ID, Rule: "concurrent update"}
	}
	w.Version = readVersion + 1

	if err := e.Audit.Append(ctx, tx, audit.Entry{
		Action:     audit.ActionRevisionRequested,
		OrgID:      w.OrgID,
		EntityKind: w.Kind,
		EntityID:   w.ID,
		ActorID:    actorID,
		PrevValue:  prev,
		NewValue:   w.FirstLine,
		Payload:    audit.Payload{"note": note, "revision": w.Revision},
	}); err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	return w, nil
}

func (e Engine) revisionCap() int {
	if e.Config == nil {
		return 0
	}
	return e.Config.Governance.RevisionCap
}

// OverrideRequest resolves the conflict state, a first-line rejection whose
// final status is still pending.
type OverrideRequest struct {
	WorkItemID    string
	ActorID       string
	Resolution    lifecycle.Status
	Justification string
}

// Override confirms or reverses a first-line rejection. A confirmation lands
// the final status at rejected. A reversal by a domain-admin resolves direct
// to approved; a reversal from the supreme tier is marked overridden so the
// trail shows the hierarchy was bypassed.
func (e Engine) Override(ctx context.Context, req OverrideRequest) (domain.WorkItem, error) {
	if req.Resolution != lifecycle.FinalApproved && req.Resolution != lifecycle.FinalRejected {
		return domain.WorkItem{}, ValidationError{Reason: "resolution must be approved or rejected"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, req.WorkItemID)
	if err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	grant, err := e.resolveGrant(ctx, w.OrgID, req.ActorID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !grant.Authority.Has(authority.CapOverride) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "override requires the override capability"}
	}
	if !grant.domainAllows(w.Domain) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "domain " + w.Domain + " is outside the actor's scope"}
	}
	// overrides are not a general-purpose bypass
	if w.FirstLine != string(lifecycle.FirstLineRejected) || w.Final != string(lifecycle.FinalPending) {
		return domain.WorkItem{}, IllegalTransitionError{Track: string(lifecycle.TrackFinal), From: w.FirstLine + "/" + w.Final, To: string(req.Resolution)}
	}
	if err := e.requireJustification(grant.Role, req.Justification); err != nil {
		return domain.WorkItem{}, err
	}

	readVersion := w.Version
	now := e.nowRFC3339()
	prevFirstLine := w.FirstLine

	w.FirstLine = string(req.Resolution)
	switch {
	case req.Resolution == lifecycle.FinalRejected:
		w.Final = string(lifecycle.FinalRejected)
	case grant.Authority.Tier == authority.TierSupreme:
		w.Final = string(lifecycle.FinalOverridden)
	default:
		w.Final = string(lifecycle.FinalApproved)
	}
	w.DecidedAt = &now
	w.UpdatedAt = now

	ok, err := e.Repo.SaveWorkItemTx(ctx, tx, w, readVersion)
	if err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	if !ok {
		return domain.WorkItem{}, StaleStateError{WorkItemID: w.ID, Rule: "concurrent update"}
	}
	w.Version = readVersion + 1

	if err := e.Audit.Append(ctx, tx, audit.Entry{
		Action:        audit.ActionOverride,
		OrgID:         w.OrgID,
		EntityKind:    w.Kind,
		EntityID:      w.ID,
		ActorID:       req.ActorID,
		PrevValue:     prevFirstLine,
		NewValue:      string(req.Resolution),
		Justification: optionalString(req.Justification),
		Payload:       audit.Payload{"final": w.Final},
	}); err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}

	// a supreme reversal is terminal with an approving resolution; payouts
	// settle here since no finalize step follows
	if w.Final == string(lifecycle.FinalOverridden) && req.Resolution == lifecycle.FinalApproved {
		if err := e.allocatePayouts(ctx, tx, w, req.ActorID); err != nil {
			return domain.WorkItem{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	return w, nil
}

// SetRate changes the payable amount of an undecided item.
func (e Engine) SetRate(ctx context.Context, workItemID, actorID string, rateCents int64, justification string) (domain.WorkItem, error) {
	if rateCents < 0 {
		return domain.WorkItem{}, ValidationError{Reason: "rate must not be negative"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	grant, err := e.resolveGrant(ctx, w.OrgID, actorID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !grant.Authority.Has(authority.CapManageDomain) && grant.Authority.Tier != authority.TierSupreme {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "rate change requires domain management authority"}
	}
	if !grant.domainAllows(w.Domain) {
		return domain.WorkItem{}, UnauthorizedRoleError{Role: string(grant.Role), Rule: "domain " + w.Domain + " is outside the actor's scope"}
	}
	if lifecycle.Terminal(lifecycle.Status(w.Final)) {
		return domain.WorkItem{}, IllegalTransitionError{Track: string(lifecycle.TrackFinal), From: w.Final, To: w.Final}
	}
	if err := e.requireJustification(grant.Role, justification); err != nil {
		return domain.WorkItem{}, err
	}

	readVersion := w.Version
	now := e.nowRFC3339()
	prev := w.RateCents
	w.RateCents = rateCents
	w.UpdatedAt = now

	ok, err := e.Repo.SaveWorkItemTx(ctx, tx, w, readVersion)
	if err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	if !ok {
		return domain.WorkItem{}, StaleStateError{WorkItemID: w.ID, Rule: "concurrent update"}
	}
	w.Version = readVersion + 1

	if err := e.Audit.Append(ctx, tx, audit.Entry{
		Action:        audit.ActionRateChanged,
		OrgID:         w.OrgID,
		EntityKind:    w.Kind,
		EntityID:      w.ID,
		ActorID:       actorID,
		PrevValue:     strconv.FormatInt(prev, 10),
		NewValue:      strconv.FormatInt(rateCents, 10),
		Justification: optionalString(justification),
	}); err != nil {
		return domain.WorkItem{}, wrapStorage(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, StorageUnavailableError{Err: err}
	}
	return w, nil
}

// ContributionWeight binds one collaborator to a relative weight.
type ContributionWeight struct {
	CollaboratorID string
	Weight         float64
	Note           string
}

// AssignContributions sets or replaces collaborator weights on an undecided
// item. Weights are relative; normalization happens at payout time.
func (e Engine) AssignContributions(ctx context.Context, workItemID, actorID string, weights []ContributionWeight) ([]domain.Contribution, error) {
	if len(weights) == 0 {
		return nil, ValidationError{Reason: "at least one contribution is required"}
	}
	seen := map[string]bool{}
	for _, cw := range weights {
		if cw.CollaboratorID == "" {
			return nil, ValidationError{Reason: "collaborator id must not be empty"}
		}
		if cw.Weight < 0 {
			return nil, ValidationError{Reason: "weight must not be negative"}
		}
		if seen[cw.CollaboratorID] {
			return nil, ValidationError{Reason: "duplicate collaborator " + cw.CollaboratorID}
		}
		seen[cw.CollaboratorID] = true
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, StorageUnavailableError{Err: err}
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return nil, wrapStorage(err)
	}
	grant, err := e.resolveGrant(ctx, w.OrgID, actorID)
	if err != nil {
		return nil, err
	}
	if actorID != w.OwnerID && !grant.Authority.Has(authority.CapManageDomain) && grant.Authority.Tier != authority.TierSupreme {
		return nil, UnauthorizedRoleError{Role: string(grant.Role), Rule: "contributions may be assigned by the owner or domain management"}
	}
	if lifecycle.Terminal(lifecycle.Status(w.Final)) {
		return nil, IllegalTransitionError{Track: string(lifecycle.TrackFinal), From: w.Final, To: w.Final}
	}

	now := e.nowRFC3339()
	for _, cw := range weights {
		weight := cw.Weight
		c := domain.Contribution{
			ID:             uuid.NewString(),
			WorkItemID:     w.ID,
			CollaboratorID: cw.CollaboratorID,
			Weight:         &weight,
			Note:           cw.Note,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.UpsertContributionTx(ctx, tx, c); err != nil {
			return nil, wrapStorage(err)
		}
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		Action:     audit.ActionContribAssigned,
		OrgID:      w.OrgID,
		EntityKind: w.Kind,
		EntityID:   w.ID,
		ActorID:    actorID,
		Payload:    audit.Payload{"collaborators": len(weights)},
	}); err != nil {
		return nil, wrapStorage(err)
	}
	contribs, err := e.Repo.ListContributionsTx(ctx, tx, w.ID)
	if err != nil {
		return nil, wrapStorage(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, StorageUnavailableError{Err: err}
	}
	return contribs, nil
}

// VerifyContribution attests one collaborator's share. Only approve-work
// holders may attest. Verification is one-way and idempotent; a repeat call
// changes nothing and appends nothing.
func (e Engine) VerifyContribution(ctx context.Context, workItemID, collaboratorID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StorageUnavailableError{Err: err}
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return wrapStorage(err)
	}
	grant, err := e.resolveGrant(ctx, w.OrgID, actorID)
	if err != nil {
		return err
	}
	if !grant.Authority.Has(authority.CapFinalize) {
		return UnauthorizedRoleError{Role: string(grant.Role), Rule: "verification requires the approve-work capability"}
	}
	if !grant.domainAllows(w.Domain) {
		return UnauthorizedRoleError{Role: string(grant.Role), Rule: "domain " + w.Domain + " is outside the actor's scope"}
	}

	changed, err := e.Repo.VerifyContributionTx(ctx, tx, w.ID, collaboratorID, e.nowRFC3339())
	if err != nil {
		return wrapStorage(err)
	}
	if changed {
		if err := e.Audit.Append(ctx, tx, audit.Entry{
			Action:     audit.ActionContribVerified,
			OrgID:      w.OrgID,
			EntityKind: w.Kind,
			EntityID:   w.ID,
			ActorID:    actorID,
			PrevValue:  "unverified",
			NewValue:   "verified",
			Payload:    audit.Payload{"collaborator_id": collaboratorID},
		}); err != nil {
			return wrapStorage(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return StorageUnavailableError{Err: err}
	}
	return nil
}

// allocatePayouts splits the item rate across collaborators and records the
// amounts. Unweighted rosters split equally; partially weighted rosters treat
// missing weights as zero.
func (e Engine) allocatePayouts(ctx context.Context, tx *sql.Tx, w domain.WorkItem, actorID string) error {
	contribs, err := e.Repo.ListContributionsTx(ctx, tx, w.ID)
	if err != nil {
		return wrapStorage(err)
	}
	if len(contribs) == 0 {
		return nil
	}

	anyWeighted := false
	for _, c := range contribs {
		if c.Weight != nil {
			anyWeighted = true
			break
		}
	}
	var input []allocate.Contribution
	if anyWeighted {
		for _, c := range contribs {
			var weight float64
			if c.Weight != nil {
				weight = *c.Weight
			}
			input = append(input, allocate.Contribution{CollaboratorID: c.CollaboratorID, Weight: weight})
		}
	} else {
		ids := make([]string, len(contribs))
		for i, c := range contribs {
			ids[i] = c.CollaboratorID
		}
		input = allocate.EqualSplit(ids)
	}

	shares, err := allocate.Allocate(w.RateCents, input)
	if err != nil {
		return err
	}
	now := e.nowRFC3339()
	payload := audit.Payload{"total_cents": w.RateCents}
	for _, s := range shares {
		if err := e.Repo.SetContributionAmountTx(ctx, tx, w.ID, s.CollaboratorID, s.AmountCents, now); err != nil {
			return wrapStorage(err)
		}
		payload[s.CollaboratorID] = s.AmountCents
	}
	return wrapStorage(e.Audit.Append(ctx, tx, audit.Entry{
		Action:     audit.ActionPayoutAllocated,
		OrgID:      w.OrgID,
		EntityKind: w.Kind,
		EntityID:   w.ID,
		ActorID:    actorID,
		Payload:    payload,
	}))
}

// Timeline reconstructs the ordered audit history of one work item.
func (e Engine) Timeline(ctx context.Context, workItemID string) ([]domain.AuditEvent, error) {
	if _, err := e.Repo.GetWorkItem(ctx, workItemID); err != nil {
		return nil, err
	}
	return e.Repo.TimelineFor(ctx, workItemID)
}
