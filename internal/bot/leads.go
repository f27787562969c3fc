package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/callback"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/notify"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/sirupsen/logrus"
)

// acceptLead handles "Take lead" in a group and answers the press with the
// outcome. The winner's card edit is best effort; the loser also hears about
// it privately so the group stays quiet.
func (r *Router) acceptLead(ctx context.Context, up telegram.Update, staff *domain.StaffUser, leadID uuid.UUID) error {
	res, err := r.deps.Services.Lead.Accept(ctx, leadID, staff)
	if errors.Is(err, domain.ErrNotFound) {
		r.answer(ctx, up, textStaleButton)
		r.reply(ctx, up.From.ID, textStaleButton)
		return nil
	}
	if err != nil {
		r.answer(ctx, up, "")
		return err
	}
	if !res.Accepted {
		r.answer(ctx, up, textAlreadyTaken)
		r.reply(ctx, up.From.ID, fmt.Sprintf("Lead #%s: %s", res.Lead.PublicID, textAlreadyTaken))
		return nil
	}
	r.answer(ctx, up, fmt.Sprintf("Lead #%s is yours.", res.Lead.PublicID))

	err = r.deps.Bot.Edit(ctx, telegram.EditMessage{
		ChatID:    up.ChatID,
		MessageID: up.MessageID,
		Text:      notify.RenderAcceptedCard(res.Lead, res.Group, res.Agent.Name),
		Markdown:  true,
	})
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"lead_id": leadID, "chat_id": up.ChatID}).Warn("failed to update group card")
	}
	return nil
}

func (r *Router) showMyLeads(ctx context.Context, chatID int64, staff *domain.StaffUser) error {
	leads, err := r.deps.Services.Lead.MyLeads(ctx, staff)
	if err != nil {
		return err
	}
	if len(leads) == 0 {
		r.send(ctx, menuButtonMessage(chatID, textNoLeads))
		return nil
	}
	if len(leads) > myLeadsLimit {
		r.reply(ctx, chatID, fmt.Sprintf("You have %d leads in progress, showing the latest %d.", len(leads), myLeadsLimit))
		leads = leads[:myLeadsLimit]
	}
	for _, lead := range leads {
		r.send(ctx, telegram.OutMessage{
			ChatID:   chatID,
			Text:     notify.RenderLeadCard(lead, nil),
			Markdown: true,
			Keyboard: leadActions(lead.ID),
		})
	}
	return nil
}

func leadActions(id uuid.UUID) telegram.Keyboard {
	return telegram.Keyboard{
		telegram.Row(
			button("Completed", callback.ChangeStatus{LeadID: id, Status: domain.LeadStatusCompleted}),
			button("Rejected", callback.ChangeStatus{LeadID: id, Status: domain.LeadStatusRejected}),
		),
		telegram.Row(button("Deal created", callback.ChangeStatus{LeadID: id, Status: domain.LeadStatusDealCreated})),
		telegram.Row(button("Request contract", callback.RequestContract{LeadID: id})),
	}
}

func (r *Router) changeStatus(ctx context.Context, up telegram.Update, staff *domain.StaffUser, a callback.ChangeStatus) error {
	lead, ok, err := r.deps.Services.Lead.ChangeStatus(ctx, a.LeadID, staff, a.Status)
	if err != nil {
		return err
	}
	if !ok {
		r.reply(ctx, up.ChatID, textNotYourLead)
		return nil
	}
	err = r.deps.Bot.Edit(ctx, telegram.EditMessage{
		ChatID:    up.ChatID,
		MessageID: up.MessageID,
		Text:      notify.RenderLeadCard(lead, nil),
		Markdown:  true,
	})
	if err != nil {
		r.log.WithError(err).WithField("lead_id", lead.ID).Debug("failed to update lead card")
		r.reply(ctx, up.ChatID, fmt.Sprintf("Lead #%s is now %s.", lead.PublicID, notify.StatusLabel(lead.Status)))
	}
	return nil
}

func (r *Router) requestContract(ctx context.Context, up telegram.Update, staff *domain.StaffUser, leadID uuid.UUID) error {
	ok, err := r.deps.Services.Lead.RequestContract(ctx, leadID, staff)
	if err != nil {
		return err
	}
	if !ok {
		r.reply(ctx, up.ChatID, textNotYourLead)
		return nil
	}
	r.reply(ctx, up.ChatID, textContractAsked)
	return nil
}
