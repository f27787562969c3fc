package bot

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/callback"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/service"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/sirupsen/logrus"
)

func (r *Router) startMessaging(ctx context.Context, chatID int64, staff *domain.StaffUser) error {
	if err := r.clearWizards(ctx, chatID); err != nil {
		return err
	}
	live := r.deps.Sessions.Live()
	if len(live) == 0 {
		r.send(ctx, menuButtonMessage(chatID, textNoAccounts))
		return nil
	}
	if err := r.startWizard(ctx, domain.NewMessagingWizard(chatID, staff.ID)); err != nil {
		return err
	}
	r.sendAccounts(ctx, chatID, live)
	return nil
}

func (r *Router) sendAccounts(ctx context.Context, chatID int64, live []*telegram.Session) {
	kb := make(telegram.Keyboard, 0, len(live)+1)
	for _, s := range live {
		label := s.Account.Name
		if s.Account.Phone != "" {
			label += " (" + s.Account.Phone + ")"
		}
		kb = append(kb, telegram.Row(button(label, callback.SelectAccount{AccountID: s.Account.ID})))
	}
	kb = append(kb, cancelRow())
	r.send(ctx, telegram.OutMessage{ChatID: chatID, Text: textChooseAccount, Keyboard: kb})
}

func (r *Router) selectAccount(ctx context.Context, chatID int64, accountID uuid.UUID) error {
	st, err := r.wizardAt(ctx, chatID, domain.StepSelectAccount)
	if err != nil {
		return err
	}
	if st == nil || st.Flow != domain.FlowMessagingImport {
		return r.stale(ctx, chatID)
	}

	sess, ok := r.deps.Sessions.Lookup(accountID)
	if !ok {
		return r.accountGone(ctx, chatID)
	}
	contacts, err := sess.Client.Contacts(ctx, contactsPage)
	if err != nil {
		return fmt.Errorf("failed to list contacts: %w", err)
	}
	if len(contacts) == 0 {
		r.reply(ctx, chatID, textNoContacts)
		return nil
	}

	st.Messaging.AccountID = accountID
	st.Step = domain.StepSelectContact
	if err := r.saveWizard(ctx, st); err != nil {
		return err
	}

	kb := make(telegram.Keyboard, 0, len(contacts)+1)
	for _, c := range contacts {
		kb = append(kb, telegram.Row(button(c.Label(), callback.SelectContact{ContactID: c.ID})))
	}
	kb = append(kb, cancelRow())
	r.send(ctx, telegram.OutMessage{ChatID: chatID, Text: textChooseContact, Keyboard: kb})
	return nil
}

// accountGone re-offers the remaining accounts, or ends the flow when none
// are left.
func (r *Router) accountGone(ctx context.Context, chatID int64) error {
	live := r.deps.Sessions.Live()
	if len(live) == 0 {
		if err := r.clearWizards(ctx, chatID); err != nil {
			return err
		}
		r.send(ctx, menuButtonMessage(chatID, textNoAccounts))
		return nil
	}
	r.reply(ctx, chatID, textAccountGone)
	r.sendAccounts(ctx, chatID, live)
	return nil
}

func (r *Router) selectContact(ctx context.Context, chatID int64, contactID int64) error {
	st, err := r.wizardAt(ctx, chatID, domain.StepSelectContact)
	if err != nil {
		return err
	}
	if st == nil || st.Flow != domain.FlowMessagingImport {
		return r.stale(ctx, chatID)
	}
	sess, ok := r.deps.Sessions.Lookup(st.Messaging.AccountID)
	if !ok {
		st.Step = domain.StepSelectAccount
		if err := r.saveWizard(ctx, st); err != nil {
			return err
		}
		return r.accountGone(ctx, chatID)
	}

	// The button only carries the id; the name comes from a fresh listing.
	contact := telegram.RemoteContact{ID: contactID}
	contacts, err := sess.Client.Contacts(ctx, contactsPage)
	if err != nil {
		return fmt.Errorf("failed to list contacts: %w", err)
	}
	for _, c := range contacts {
		if c.ID == contactID {
			contact = c
			break
		}
	}

	st.Messaging.ContactID = contactID
	st.Messaging.ContactName = contact.Name
	if contact.Name == "" {
		st.Messaging.ContactName = contact.Label()
	}
	st.Messaging.ContactPhone = contact.Phone
	st.Step = domain.StepSelectDestination
	if err := r.saveWizard(ctx, st); err != nil {
		return err
	}

	groups, err := r.deps.Groups.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	kb := telegram.Keyboard{telegram.Row(button("Take it myself", callback.SelectDestination{Self: true}))}
	for _, g := range groups {
		kb = append(kb, telegram.Row(button("Group: "+g.Name, callback.SelectDestination{GroupID: g.ID})))
	}
	kb = append(kb, cancelRow())
	r.send(ctx, telegram.OutMessage{ChatID: chatID, Text: textChooseDest, Keyboard: kb})
	return nil
}

func (r *Router) selectDestination(ctx context.Context, chatID int64, a callback.SelectDestination) error {
	st, err := r.wizardAt(ctx, chatID, domain.StepSelectDestination, domain.StepSelectGroup)
	if err != nil {
		return err
	}
	if st == nil {
		return r.stale(ctx, chatID)
	}

	if st.Flow == domain.FlowScreenshotImport {
		if a.Self {
			return r.stale(ctx, chatID)
		}
		groupID := a.GroupID
		st.Screenshot.GroupID = &groupID
		st.Step = domain.StepEnterScreenshotNote
	} else {
		if a.Self {
			st.Messaging.Destination = domain.Destination{Self: true}
		} else {
			groupID := a.GroupID
			st.Messaging.Destination = domain.Destination{GroupID: &groupID}
		}
		st.Step = domain.StepEnterNote
	}
	if err := r.saveWizard(ctx, st); err != nil {
		return err
	}
	r.send(ctx, telegram.OutMessage{
		ChatID:   chatID,
		Text:     textEnterNote,
		Keyboard: telegram.Keyboard{telegram.Row(button("Skip", callback.SkipNote{})), cancelRow()},
	})
	return nil
}

// finishMessaging ends the flow: the wizard row goes first, then the history
// is imported and the lead created.
func (r *Router) finishMessaging(ctx context.Context, st *domain.WizardState, staff *domain.StaffUser, note string) error {
	data := st.Messaging
	if err := r.deps.Wizards.Delete(ctx, st.Flow, st.ChatID); err != nil {
		return fmt.Errorf("failed to clear wizard: %w", err)
	}
	log := r.log.WithFields(logrus.Fields{"chat_id": st.ChatID, "account_id": data.AccountID, "contact_id": data.ContactID})

	sess, ok := r.deps.Sessions.Lookup(data.AccountID)
	if !ok {
		r.send(ctx, menuButtonMessage(st.ChatID, textAccountGone+" "+textCreateFailed))
		return nil
	}

	r.reply(ctx, st.ChatID, textImporting)
	messages, err := r.deps.Importer.Import(ctx, sess.Client, data.ContactID)
	if err != nil {
		log.WithError(err).Error("history import failed")
		r.send(ctx, menuButtonMessage(st.ChatID, textCreateFailed))
		return nil
	}

	in := service.NewLead{
		Origin:          domain.OriginMessagingImport,
		ClientName:      data.ContactName,
		Note:            note,
		Creator:         staff,
		Self:            data.Destination.Self,
		GroupID:         data.Destination.GroupID,
		SourceAccountID: &data.AccountID,
		SourceContactID: &data.ContactID,
		Messages:        messages,
	}
	// Remote phones are often hidden or malformed; keep them only when valid.
	if phone, err := service.ValidatePhone(data.ContactPhone); err == nil {
		in.ClientPhone = phone
	}

	lead, err := r.deps.Services.Lead.Create(ctx, in)
	if err != nil {
		log.WithError(err).Error("lead creation failed")
		r.send(ctx, menuButtonMessage(st.ChatID, textCreateFailed))
		return nil
	}
	r.send(ctx, menuButtonMessage(st.ChatID, r.createdText(ctx, lead, len(messages))))
	return nil
}

func (r *Router) createdText(ctx context.Context, lead *domain.Lead, messages int) string {
	text := fmt.Sprintf("Lead #%s created with %d messages", lead.PublicID, messages)
	if lead.GroupID == nil {
		return text + " and assigned to you."
	}
	group, err := r.deps.Groups.GetByID(ctx, *lead.GroupID)
	if err != nil {
		r.log.WithError(err).Debug("group lookup failed")
	}
	if group == nil {
		return text + "."
	}
	return text + " and sent to " + group.Name + "."
}
