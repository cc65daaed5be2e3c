package server

import (
	"encoding/json"

	"meritline/internal/domain"
)

type SubmitRequest struct {
	ID            *string  `json:"id,omitempty"`
	Kind          string   `json:"kind" enum:"report,task"`
	Title         string   `json:"title"`
	Description   *string  `json:"description,omitempty"`
	Domain        *string  `json:"domain,omitempty"`
	RateCents     int64    `json:"rate_cents,omitempty"`
	Collaborators []string `json:"collaborators,omitempty"`
}

type ReviewRequest struct {
	Decision      string  `json:"decision" enum:"approved,rejected"`
	Justification *string `json:"justification,omitempty"`
	Note          *string `json:"note,omitempty"`
}

type OverrideBody struct {
	Resolution    string  `json:"resolution" enum:"approved,rejected"`
	Justification *string `json:"justification,omitempty"`
}

type RevisionRequest struct {
	Note string `json:"note"`
}

type RateRequest struct {
	RateCents     int64   `json:"rate_cents"`
	Justification *string `json:"justification,omitempty"`
}

type ContributionWeightRequest struct {
	CollaboratorID string  `json:"collaborator_id"`
	Weight         float64 `json:"weight"`
	Note           *string `json:"note,omitempty"`
}

type AssignContributionsRequest struct {
	Contributions []ContributionWeightRequest `json:"contributions"`
}

type CreateOrgRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type GrantRequest struct {
	ActorID string   `json:"actor_id"`
	Role    string   `json:"role"`
	Domains []string `json:"domains,omitempty"`
}

type WorkItemResponse struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id"`
	Kind        string  `json:"kind"`
	OwnerID     string  `json:"owner_id"`
	Domain      string  `json:"domain,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	FirstLine   string  `json:"first_line"`
	Final       string  `json:"final"`
	RateCents   int64   `json:"rate_cents"`
	Revision    int     `json:"revision"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	DecidedAt   *string `json:"decided_at,omitempty"`
}

func workItemResponse(w domain.WorkItem) WorkItemResponse {
	return WorkItemResponse{
		ID:          w.ID,
		OrgID:       w.OrgID,
		Kind:        w.Kind,
		OwnerID:     w.OwnerID,
		Domain:      w.Domain,
		Title:       w.Title,
		Description: w.Description,
		FirstLine:   w.FirstLine,
		Final:       w.Final,
		RateCents:   w.RateCents,
		Revision:    w.Revision,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		DecidedAt:   w.DecidedAt,
	}
}

func mapWorkItems(items []domain.WorkItem) []WorkItemResponse {
	res := make([]WorkItemResponse, 0, len(items))
	for _, w := range items {
		res = append(res, workItemResponse(w))
	}
	return res
}

type ContributionResponse struct {
	ID             string   `json:"id"`
	WorkItemID     string   `json:"work_item_id"`
	CollaboratorID string   `json:"collaborator_id"`
	Weight         *float64 `json:"weight,omitempty"`
	AmountCents    *int64   `json:"amount_cents,omitempty"`
	Verified       bool     `json:"verified"`
	Note           string   `json:"note,omitempty"`
}

func contributionResponse(c domain.Contribution) ContributionResponse {
	return ContributionResponse{
		ID:             c.ID,
		WorkItemID:     c.WorkItemID,
		CollaboratorID: c.CollaboratorID,
		Weight:         c.Weight,
		AmountCents:    c.AmountCents,
		Verified:       c.Verified,
		Note:           c.Note,
	}
}

func mapContributions(items []domain.Contribution) []ContributionResponse {
	res := make([]ContributionResponse, 0, len(items))
	for _, c := range items {
		res = append(res, contributionResponse(c))
	}
	return res
}

type AuditEventResponse struct {
	ID            int64           `json:"id"`
	TS            string          `json:"ts"`
	Action        string          `json:"action"`
	EntityKind    string          `json:"entity_kind"`
	EntityID      string          `json:"entity_id"`
	ActorID       string          `json:"actor_id"`
	PrevValue     string          `json:"prev_value,omitempty"`
	NewValue      string          `json:"new_value,omitempty"`
	Justification *string         `json:"justification,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func auditEventResponse(e domain.AuditEvent) AuditEventResponse {
	payload := json.RawMessage("{}")
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return AuditEventResponse{
		ID:            e.ID,
		TS:            e.TS,
		Action:        e.Action,
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		ActorID:       e.ActorID,
		PrevValue:     e.PrevValue,
		NewValue:      e.NewValue,
		Justification: e.Justification,
		Payload:       payload,
	}
}

func mapAuditEvents(items []domain.AuditEvent) []AuditEventResponse {
	res := make([]AuditEventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, auditEventResponse(e))
	}
	return res
}

type OrgResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func orgResponse(o domain.Org) OrgResponse {
	return OrgResponse{ID: o.ID, Name: o.Name, CreatedAt: o.CreatedAt}
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
