package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	statsCacheKey = "stats:leads"
	statsCacheTTL = 30 * time.Second
)

// LeadService creates leads and moves them through their lifecycle
type LeadService struct {
	deps Deps
	now  func() time.Time
}

// NewLead is the input of Create. Exactly one destination applies: the
// creator (Self) or GroupID.
type NewLead struct {
	Origin          domain.LeadOrigin         `validate:"required,lead_origin"`
	ClientName      string                    `validate:"required,max=200"`
	ClientPhone     string                    `validate:"omitempty,e164"`
	Note            string                    `validate:"max=2000"`
	Creator         *domain.StaffUser         `validate:"required"`
	Self            bool                      `validate:"-"`
	GroupID         *uuid.UUID                `validate:"-"`
	SourceAccountID *uuid.UUID                `validate:"-"`
	SourceContactID *int64                    `validate:"-"`
	Messages        []*domain.ImportedMessage `validate:"-"`
}

// AcceptResult describes an accept attempt. Accepted is false when another
// agent already holds the lead; Lead then reflects the current owner.
type AcceptResult struct {
	Accepted bool
	Lead     *domain.Lead
	Agent    *domain.Agent
	Group    *domain.AgentGroup
}

func newPublicID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Create persists a lead with its messages and announces it. Self leads are
// assigned to the creator's agent identity at once; group leads stay new
// until someone accepts them.
func (s *LeadService) Create(ctx context.Context, in NewLead) (*domain.Lead, error) {
	in.ClientName = strings.TrimSpace(in.ClientName)
	in.Note = strings.TrimSpace(in.Note)
	if in.ClientPhone != "" {
		in.ClientPhone = NormalizePhone(in.ClientPhone)
	}
	if err := Validate(in); err != nil {
		return nil, err
	}
	if !in.Creator.IsManager() {
		return nil, domain.ErrForbidden
	}
	if !in.Self && in.GroupID == nil {
		return nil, fmt.Errorf("lead needs a destination: %w", domain.ErrInvalidInput)
	}

	lead := &domain.Lead{
		PublicID:        newPublicID(),
		Origin:          in.Origin,
		ClientName:      in.ClientName,
		ClientPhone:     in.ClientPhone,
		Note:            in.Note,
		Status:          domain.LeadStatusNew,
		CreatedBy:       &in.Creator.ID,
		SourceAccountID: in.SourceAccountID,
		SourceContactID: in.SourceContactID,
	}

	var (
		agent *domain.Agent
		group *domain.AgentGroup
		err   error
	)
	if in.Self {
		agent, err = s.deps.Agent.GetOrCreate(ctx, in.Creator)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve agent: %w", err)
		}
		now := s.now()
		lead.AgentID = &agent.ID
		lead.Status = domain.LeadStatusInProgress
		lead.AcceptedAt = &now
	} else {
		group, err = s.deps.Group.GetByID(ctx, *in.GroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to get group: %w", err)
		}
		if group == nil || !group.IsActive {
			return nil, fmt.Errorf("group %s: %w", *in.GroupID, domain.ErrNotFound)
		}
		lead.GroupID = &group.ID
	}

	if err := s.deps.Lead.Create(ctx, lead, in.Messages); err != nil {
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}
	s.invalidateStats(ctx)
	s.logger().WithFields(logrus.Fields{"lead_id": lead.ID, "origin": lead.Origin, "messages": len(in.Messages)}).Info("lead created")

	var ev domain.Event
	if in.Self {
		ev = domain.NewEvent(domain.EventLeadCreatedSelf, lead)
		ev.Agent = agent
	} else {
		ev = domain.NewEvent(domain.EventLeadCreatedGroup, lead)
		ev.Group = group
	}
	ev.Actor = in.Creator
	s.notify(ctx, ev)
	return lead, nil
}

func (s *LeadService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	lead, err := s.deps.Lead.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	if lead == nil {
		return nil, fmt.Errorf("lead %s: %w", id, domain.ErrNotFound)
	}
	return lead, nil
}

// GetWithMessages loads a lead and its imported messages in order.
func (s *LeadService) GetWithMessages(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	lead, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	lead.Messages, err = s.deps.Lead.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return lead, nil
}

// Accept assigns the lead to the actor's agent identity with one conditional
// update. Losing the race is a normal outcome, not an error.
func (s *LeadService) Accept(ctx context.Context, leadID uuid.UUID, actor *domain.StaffUser) (*AcceptResult, error) {
	if actor == nil || !actor.IsActive {
		return nil, domain.ErrForbidden
	}
	agent, err := s.deps.Agent.GetOrCreate(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent: %w", err)
	}

	won, err := s.deps.Lead.Accept(ctx, leadID, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to accept lead: %w", err)
	}
	lead, err := s.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}

	res := &AcceptResult{Accepted: won, Lead: lead, Agent: agent}
	if lead.GroupID != nil {
		if res.Group, err = s.deps.Group.GetByID(ctx, *lead.GroupID); err != nil {
			s.logger().WithError(err).WithField("lead_id", leadID).Warn("failed to load lead group")
		}
	}
	if !won {
		return res, nil
	}

	s.invalidateStats(ctx)
	s.logger().WithFields(logrus.Fields{"lead_id": leadID, "agent_id": agent.ID}).Info("lead accepted")

	ev := domain.NewEvent(domain.EventLeadAccepted, lead)
	ev.Actor, ev.Agent, ev.Group = actor, agent, res.Group
	s.notify(ctx, ev)
	return res, nil
}

// ChangeStatus closes an in-progress lead held by the actor. It reports
// false when the lead is not the actor's or not in progress.
func (s *LeadService) ChangeStatus(ctx context.Context, leadID uuid.UUID, actor *domain.StaffUser, to domain.LeadStatus) (*domain.Lead, bool, error) {
	if !to.IsClosing() {
		return nil, false, fmt.Errorf("status %q: %w", to, domain.ErrInvalidInput)
	}
	agent, err := s.actorAgent(ctx, actor)
	if err != nil || agent == nil {
		return nil, false, err
	}

	ok, err := s.deps.Lead.Transition(ctx, leadID, agent.ID, to)
	if err != nil {
		return nil, false, fmt.Errorf("failed to change lead status: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	lead, err := s.GetByID(ctx, leadID)
	if err != nil {
		return nil, false, err
	}

	s.invalidateStats(ctx)
	ev := domain.NewEvent(domain.EventLeadClosed, lead)
	ev.Actor, ev.Agent = actor, agent
	s.notify(ctx, ev)
	return lead, true, nil
}

// RequestContract records a contract request by the assigned agent.
func (s *LeadService) RequestContract(ctx context.Context, leadID uuid.UUID, actor *domain.StaffUser) (bool, error) {
	agent, err := s.actorAgent(ctx, actor)
	if err != nil || agent == nil {
		return false, err
	}
	ok, err := s.deps.Lead.MarkContractRequested(ctx, leadID, agent.ID)
	if err != nil {
		return false, fmt.Errorf("failed to request contract: %w", err)
	}
	if !ok {
		return false, nil
	}
	lead, err := s.GetByID(ctx, leadID)
	if err != nil {
		return false, err
	}

	ev := domain.NewEvent(domain.EventContractRequested, lead)
	ev.Actor, ev.Agent = actor, agent
	s.notify(ctx, ev)
	return true, nil
}

// FieldUpdate is one editable lead column and its new value.
type FieldUpdate struct {
	Field string `json:"field" validate:"required,lead_field"`
	Value string `json:"value" validate:"max=2000"`
}

// UpdateField changes one editable column and announces the change when the
// value actually differs.
func (s *LeadService) UpdateField(ctx context.Context, leadID uuid.UUID, in FieldUpdate) (*domain.Lead, error) {
	in.Value = strings.TrimSpace(in.Value)
	if err := Validate(in); err != nil {
		return nil, err
	}
	switch in.Field {
	case domain.LeadFieldClientName:
		if err := ValidateVar(in.Value, "required,max=200"); err != nil {
			return nil, err
		}
	case domain.LeadFieldClientPhone:
		phone, err := ValidatePhone(in.Value)
		if err != nil {
			return nil, err
		}
		in.Value = phone
	}

	old, err := s.deps.Lead.UpdateField(ctx, leadID, in.Field, in.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to update lead: %w", err)
	}
	lead, err := s.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if old == in.Value {
		return lead, nil
	}

	ev := domain.NewEvent(domain.EventFieldChanged, lead)
	ev.Field, ev.OldValue, ev.NewValue = in.Field, old, in.Value
	s.notify(ctx, ev)
	return lead, nil
}

// NotificationRequest asks for an event to be announced for an existing lead.
type NotificationRequest struct {
	Kind  domain.EventKind `json:"kind" validate:"required,oneof=field_changed document_ready contract_requested"`
	Field string           `json:"field,omitempty"`
	Value string           `json:"value,omitempty"`
}

// TriggerNotification announces an event raised outside the bot, such as a
// generated document or an edit made by another system.
func (s *LeadService) TriggerNotification(ctx context.Context, leadID uuid.UUID, req NotificationRequest) error {
	if err := Validate(req); err != nil {
		return err
	}
	lead, err := s.GetByID(ctx, leadID)
	if err != nil {
		return err
	}

	ev := domain.NewEvent(req.Kind, lead)
	switch req.Kind {
	case domain.EventFieldChanged:
		if !domain.IsEditableLeadField(req.Field) {
			return fmt.Errorf("field %q: %w", req.Field, domain.ErrInvalidInput)
		}
		ev.Field, ev.NewValue = req.Field, req.Value
	case domain.EventDocumentReady:
		ev.Document = req.Value
	}
	s.notify(ctx, ev)
	return nil
}

// MyLeads lists the in-progress leads assigned to the actor. Staff who never
// took a lead have none.
func (s *LeadService) MyLeads(ctx context.Context, actor *domain.StaffUser) ([]*domain.Lead, error) {
	agent, err := s.actorAgent(ctx, actor)
	if err != nil || agent == nil {
		return nil, err
	}
	leads, err := s.deps.Lead.ListByAgent(ctx, agent.ID, domain.LeadStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	return leads, nil
}

// Delete soft-deletes a lead.
func (s *LeadService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.deps.Lead.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete lead: %w", err)
	}
	s.invalidateStats(ctx)
	return nil
}

// Stats returns lead counts by status, cached briefly, plus the live account
// count which is always current.
func (s *LeadService) Stats(ctx context.Context) (*domain.LeadStats, error) {
	stats := &domain.LeadStats{}
	hit := false
	if s.deps.Cache != nil {
		var err error
		if hit, err = s.deps.Cache.GetJSON(ctx, statsCacheKey, stats); err != nil {
			s.logger().WithError(err).Warn("stats cache read failed")
			hit = false
		}
	}

	if !hit {
		counts, err := s.deps.Lead.CountByStatus(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count leads: %w", err)
		}
		stats = &domain.LeadStats{
			New:         counts[domain.LeadStatusNew],
			InProgress:  counts[domain.LeadStatusInProgress],
			Completed:   counts[domain.LeadStatusCompleted],
			Rejected:    counts[domain.LeadStatusRejected],
			DealCreated: counts[domain.LeadStatusDealCreated],
		}
		if s.deps.Cache != nil {
			if err := s.deps.Cache.SetJSON(ctx, statsCacheKey, stats, statsCacheTTL); err != nil {
				s.logger().WithError(err).Warn("stats cache write failed")
			}
		}
	}

	if s.deps.Sessions != nil {
		stats.LiveAccounts = s.deps.Sessions.LiveCount()
	}
	return stats, nil
}

func (s *LeadService) actorAgent(ctx context.Context, actor *domain.StaffUser) (*domain.Agent, error) {
	if actor == nil || !actor.IsActive {
		return nil, domain.ErrForbidden
	}
	agent, err := s.deps.Agent.GetByStaffID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

func (s *LeadService) invalidateStats(ctx context.Context) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Del(ctx, statsCacheKey); err != nil {
		s.logger().WithError(err).Warn("stats cache invalidation failed")
	}
}

func (s *LeadService) notify(ctx context.Context, ev domain.Event) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.NotifyBestEffort(ctx, ev)
	}
}

func (s *LeadService) logger() *logrus.Entry {
	if s.deps.Log != nil {
		return s.deps.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
