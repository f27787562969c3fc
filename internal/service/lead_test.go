package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGroupLead(t *testing.T) {
	e := newEnv(t)
	path := "screenshots/a.jpg"
	lead, err := e.svc.Lead.Create(context.Background(), NewLead{
		Origin:      domain.OriginScreenshotImport,
		ClientName:  "  Jane Doe ",
		ClientPhone: "+66 81-234-5678",
		Creator:     e.manager,
		GroupID:     &e.group.ID,
		Messages:    []*domain.ImportedMessage{{Kind: domain.KindPhoto, MediaPath: &path}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.LeadStatusNew, lead.Status)
	assert.Nil(t, lead.AgentID)
	assert.Equal(t, "Jane Doe", lead.ClientName)
	assert.Equal(t, "+66812345678", lead.ClientPhone)
	assert.Len(t, lead.PublicID, 8)
	creator, err := e.stores.Agent.GetByStaffID(context.Background(), e.manager.ID)
	require.NoError(t, err)
	assert.Nil(t, creator)

	assert.Equal(t, []domain.EventKind{domain.EventLeadCreatedGroup}, e.notifier.Kinds())
	assert.Equal(t, e.group.ID, e.notifier.Last().Group.ID)

	msgs, err := e.stores.Lead.ListMessages(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestCreateSelfLeadAssignsCreator(t *testing.T) {
	e := newEnv(t)
	contact := int64(555)
	lead, err := e.svc.Lead.Create(context.Background(), NewLead{
		Origin:          domain.OriginMessagingImport,
		ClientName:      "Somchai",
		Creator:         e.manager,
		Self:            true,
		SourceContactID: &contact,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.LeadStatusInProgress, lead.Status)
	require.NotNil(t, lead.AgentID)
	assert.NotNil(t, lead.AcceptedAt)
	creator, err := e.stores.Agent.GetByStaffID(context.Background(), e.manager.ID)
	require.NoError(t, err)
	require.NotNil(t, creator)
	assert.Equal(t, creator.ID, *lead.AgentID)
	ev := e.notifier.Last()
	assert.Equal(t, domain.EventLeadCreatedSelf, ev.Kind)
	assert.Equal(t, *lead.AgentID, ev.Agent.ID)
}

func TestCreateRejectsBadInput(t *testing.T) {
	e := newEnv(t)
	agent := e.staff(t, 2, domain.RoleAgent)
	inactive := &domain.AgentGroup{Name: "Old", IsActive: false}
	e.stores.Group.Add(inactive)
	missing := uuid.New()

	tests := []struct {
		name string
		in   NewLead
		want error
	}{
		{"agent cannot create", NewLead{Origin: domain.OriginScreenshotImport, ClientName: "A", Creator: agent, Self: true}, domain.ErrForbidden},
		{"no destination", NewLead{Origin: domain.OriginScreenshotImport, ClientName: "A", Creator: e.manager}, domain.ErrInvalidInput},
		{"no name", NewLead{Origin: domain.OriginScreenshotImport, Creator: e.manager, Self: true}, domain.ErrInvalidInput},
		{"bad phone", NewLead{Origin: domain.OriginScreenshotImport, ClientName: "A", ClientPhone: "call me", Creator: e.manager, Self: true}, domain.ErrInvalidInput},
		{"bad origin", NewLead{Origin: "fax", ClientName: "A", Creator: e.manager, Self: true}, domain.ErrInvalidInput},
		{"inactive group", NewLead{Origin: domain.OriginScreenshotImport, ClientName: "A", Creator: e.manager, GroupID: &inactive.ID}, domain.ErrNotFound},
		{"unknown group", NewLead{Origin: domain.OriginScreenshotImport, ClientName: "A", Creator: e.manager, GroupID: &missing}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Lead.Create(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, e.stores.Lead.All())
	assert.Empty(t, e.notifier.Kinds())
}

func TestAcceptRaceHasSingleWinner(t *testing.T) {
	e := newEnv(t)
	lead := e.groupLead(t)

	const agents = 12
	staff := make([]*domain.StaffUser, agents)
	for i := range staff {
		staff[i] = e.staff(t, int64(100+i), domain.RoleAgent)
	}

	var wg sync.WaitGroup
	results := make([]*AcceptResult, agents)
	for i := range staff {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.svc.Lead.Accept(context.Background(), lead.ID, staff[i])
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	var winner *AcceptResult
	for _, r := range results {
		if r.Accepted {
			winners++
			winner = r
		}
	}
	require.Equal(t, 1, winners)

	stored, err := e.stores.Lead.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.Agent.ID, *stored.AgentID)
	assert.Equal(t, domain.LeadStatusInProgress, stored.Status)

	accepted := 0
	for _, k := range e.notifier.Kinds() {
		if k == domain.EventLeadAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestAcceptTakenLeadIsNotAnError(t *testing.T) {
	e := newEnv(t)
	lead := e.groupLead(t)
	first := e.staff(t, 10, domain.RoleAgent)
	second := e.staff(t, 11, domain.RoleAgent)

	res, err := e.svc.Lead.Accept(context.Background(), lead.ID, first)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, "Sales A", res.Group.Name)

	res, err = e.svc.Lead.Accept(context.Background(), lead.ID, second)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.NotEqual(t, res.Agent.ID, *res.Lead.AgentID)

	_, err = e.svc.Lead.Accept(context.Background(), uuid.New(), second)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangeStatusOnlyByOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := e.groupLead(t)
	owner := e.staff(t, 10, domain.RoleAgent)
	other := e.staff(t, 11, domain.RoleAgent)
	_, err := e.svc.Lead.Accept(ctx, lead.ID, owner)
	require.NoError(t, err)

	_, ok, err := e.svc.Lead.ChangeStatus(ctx, lead.ID, other, domain.LeadStatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = e.svc.Lead.ChangeStatus(ctx, lead.ID, owner, domain.LeadStatusNew)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	updated, ok, err := e.svc.Lead.ChangeStatus(ctx, lead.ID, owner, domain.LeadStatusDealCreated)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.LeadStatusDealCreated, updated.Status)
	assert.NotNil(t, updated.DealCreatedAt)
	assert.Equal(t, domain.EventLeadClosed, e.notifier.Last().Kind)

	_, ok, err = e.svc.Lead.ChangeStatus(ctx, lead.ID, owner, domain.LeadStatusRejected)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestContract(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := e.groupLead(t)
	owner := e.staff(t, 10, domain.RoleAgent)

	ok, err := e.svc.Lead.RequestContract(ctx, lead.ID, owner)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.svc.Lead.Accept(ctx, lead.ID, owner)
	require.NoError(t, err)
	ok, err = e.svc.Lead.RequestContract(ctx, lead.ID, owner)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.EventContractRequested, e.notifier.Last().Kind)
}

func TestUpdateField(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := e.groupLead(t)

	updated, err := e.svc.Lead.UpdateField(ctx, lead.ID, FieldUpdate{Field: domain.LeadFieldClientPhone, Value: "66 (81) 999-0000"})
	require.NoError(t, err)
	assert.Equal(t, "+66819990000", updated.ClientPhone)
	ev := e.notifier.Last()
	assert.Equal(t, domain.EventFieldChanged, ev.Kind)
	assert.Equal(t, "+66812345678", ev.OldValue)
	assert.Equal(t, "+66819990000", ev.NewValue)

	before := len(e.notifier.Kinds())
	_, err = e.svc.Lead.UpdateField(ctx, lead.ID, FieldUpdate{Field: domain.LeadFieldClientPhone, Value: "+66819990000"})
	require.NoError(t, err)
	assert.Len(t, e.notifier.Kinds(), before)

	_, err = e.svc.Lead.UpdateField(ctx, lead.ID, FieldUpdate{Field: "status", Value: "completed"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.svc.Lead.UpdateField(ctx, lead.ID, FieldUpdate{Field: domain.LeadFieldClientName, Value: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.svc.Lead.UpdateField(ctx, uuid.New(), FieldUpdate{Field: domain.LeadFieldNote, Value: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTriggerNotification(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := e.groupLead(t)

	require.NoError(t, e.svc.Lead.TriggerNotification(ctx, lead.ID, NotificationRequest{Kind: domain.EventDocumentReady, Value: "contract.pdf"}))
	assert.Equal(t, "contract.pdf", e.notifier.Last().Document)

	err := e.svc.Lead.TriggerNotification(ctx, lead.ID, NotificationRequest{Kind: domain.EventLeadAccepted})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	err = e.svc.Lead.TriggerNotification(ctx, lead.ID, NotificationRequest{Kind: domain.EventFieldChanged, Field: "status"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	err = e.svc.Lead.TriggerNotification(ctx, uuid.New(), NotificationRequest{Kind: domain.EventDocumentReady})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMyLeadsDoesNotCreateAgents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	agent := e.staff(t, 10, domain.RoleAgent)

	leads, err := e.svc.Lead.MyLeads(ctx, agent)
	require.NoError(t, err)
	assert.Empty(t, leads)
	row, err := e.stores.Agent.GetByStaffID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Nil(t, row)

	lead := e.groupLead(t)
	_, err = e.svc.Lead.Accept(ctx, lead.ID, agent)
	require.NoError(t, err)
	leads, err = e.svc.Lead.MyLeads(ctx, agent)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, lead.ID, leads[0].ID)
}

func TestStatsAreCachedAndInvalidated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.groupLead(t)

	stats, err := e.svc.Lead.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.New)
	assert.Equal(t, 0, e.cache.hits)

	stats, err = e.svc.Lead.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.New)
	assert.Equal(t, 1, e.cache.hits)

	e.groupLead(t)
	stats, err = e.svc.Lead.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.New)
	assert.Equal(t, 1, e.cache.hits)
}

func TestDeleteHidesLead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := e.groupLead(t)

	require.NoError(t, e.svc.Lead.Delete(ctx, lead.ID))
	_, err := e.svc.Lead.GetByID(ctx, lead.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, e.svc.Lead.Delete(ctx, lead.ID), domain.ErrNotFound)
}
