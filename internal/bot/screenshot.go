package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/callback"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/service"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/sirupsen/logrus"
)

func (r *Router) startScreenshot(ctx context.Context, chatID int64, staff *domain.StaffUser) error {
	if err := r.startWizard(ctx, domain.NewScreenshotWizard(chatID, staff.ID)); err != nil {
		return err
	}
	r.send(ctx, telegram.OutMessage{ChatID: chatID, Text: textEnterName, Keyboard: telegram.Keyboard{cancelRow()}})
	return nil
}

func (r *Router) enterClientName(ctx context.Context, st *domain.WizardState, text string) error {
	name := strings.TrimSpace(text)
	if err := service.ValidateVar(name, "required,max=200"); err != nil {
		r.reply(ctx, st.ChatID, textBadName)
		return nil
	}
	st.Screenshot.ClientName = name
	st.Step = domain.StepEnterPhone
	if err := r.saveWizard(ctx, st); err != nil {
		return err
	}
	r.send(ctx, telegram.OutMessage{ChatID: st.ChatID, Text: textEnterPhone, Keyboard: telegram.Keyboard{cancelRow()}})
	return nil
}

func (r *Router) enterPhone(ctx context.Context, st *domain.WizardState, text string) error {
	phone, err := service.ValidatePhone(text)
	if err != nil {
		r.reply(ctx, st.ChatID, textBadPhone)
		return nil
	}
	st.Screenshot.ClientPhone = phone
	st.Step = domain.StepAwaitAttachments
	if err := r.saveWizard(ctx, st); err != nil {
		return err
	}
	r.send(ctx, telegram.OutMessage{ChatID: st.ChatID, Text: textSendScreenshots, Keyboard: telegram.Keyboard{cancelRow()}})
	return nil
}

// handlePhoto buffers an incoming image. Photos outside the attachment step
// are dropped silently.
func (r *Router) handlePhoto(ctx context.Context, up telegram.Update, staff *domain.StaffUser) error {
	if !staff.IsManager() {
		return nil
	}
	st, err := r.wizardAt(ctx, up.ChatID, domain.StepAwaitAttachments)
	if err != nil || st == nil {
		return err
	}
	if batch := r.albums.add(up.ChatID, *up.Photo); batch != nil {
		return r.flushAttachments(ctx, up.ChatID, batch)
	}
	return nil
}

// flushAttachments stores one batch of photos and records them in the wizard
// with a single write. The progress message is sent once and edited after.
func (r *Router) flushAttachments(ctx context.Context, chatID int64, batch []telegram.PhotoUpload) error {
	st, err := r.wizardAt(ctx, chatID, domain.StepAwaitAttachments)
	if err != nil {
		return err
	}
	if st == nil {
		r.log.WithField("chat_id", chatID).Debug("dropping attachments outside the upload step")
		return nil
	}

	stored := 0
	for _, p := range batch {
		data, err := r.deps.Bot.Download(ctx, p.FileID)
		if err != nil {
			r.log.WithError(err).WithField("file_id", p.FileID).Warn("screenshot download failed")
			continue
		}
		name := uuid.NewString() + telegram.ExtensionFor(p.MimeType, domain.KindPhoto)
		key, err := r.deps.Media.Save(ctx, domain.MediaScreenshots, name, data, p.MimeType)
		if err != nil {
			r.log.WithError(err).WithField("file_id", p.FileID).Warn("screenshot save failed")
			continue
		}
		st.Screenshot.Attachments = append(st.Screenshot.Attachments, key)
		stored++
	}
	if stored == 0 {
		r.reply(ctx, chatID, "Those images could not be saved, please send them again.")
		return nil
	}

	text := fmt.Sprintf("Screenshots received: %d. Send more or press Continue.", len(st.Screenshot.Attachments))
	kb := telegram.Keyboard{telegram.Row(button("Continue", callback.Continue{})), cancelRow()}
	if st.Screenshot.ProgressMessageID != 0 {
		err := r.deps.Bot.Edit(ctx, telegram.EditMessage{ChatID: chatID, MessageID: st.Screenshot.ProgressMessageID, Text: text, Keyboard: kb})
		if err != nil {
			r.log.WithError(err).Debug("progress edit failed, sending a new message")
			st.Screenshot.ProgressMessageID = 0
		}
	}
	if st.Screenshot.ProgressMessageID == 0 {
		st.Screenshot.ProgressMessageID = r.send(ctx, telegram.OutMessage{ChatID: chatID, Text: text, Keyboard: kb})
	}
	return r.saveWizard(ctx, st)
}

// continueAfterAttachments stores albums still inside their debounce window
// before counting attachments.
func (r *Router) continueAfterAttachments(ctx context.Context, chatID int64) error {
	st, err := r.wizardAt(ctx, chatID, domain.StepAwaitAttachments)
	if err != nil {
		return err
	}
	if st == nil || st.Flow != domain.FlowScreenshotImport {
		return r.stale(ctx, chatID)
	}
	if batches := r.albums.takeChat(chatID); len(batches) > 0 {
		for _, batch := range batches {
			if err := r.flushAttachments(ctx, chatID, batch); err != nil {
				return err
			}
		}
		if st, err = r.wizardAt(ctx, chatID, domain.StepAwaitAttachments); err != nil || st == nil {
			return err
		}
	}
	if len(st.Screenshot.Attachments) == 0 {
		r.reply(ctx, chatID, textNeedScreenshot)
		return nil
	}

	groups, err := r.deps.Groups.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	if len(groups) == 0 {
		if err := r.clearWizards(ctx, chatID); err != nil {
			return err
		}
		r.send(ctx, menuButtonMessage(chatID, textNoGroups))
		return nil
	}

	st.Step = domain.StepSelectGroup
	if err := r.saveWizard(ctx, st); err != nil {
		return err
	}
	kb := make(telegram.Keyboard, 0, len(groups)+1)
	for _, g := range groups {
		kb = append(kb, telegram.Row(button(g.Name, callback.SelectDestination{GroupID: g.ID})))
	}
	kb = append(kb, cancelRow())
	r.send(ctx, telegram.OutMessage{ChatID: chatID, Text: textChooseGroup, Keyboard: kb})
	return nil
}

func (r *Router) finishScreenshot(ctx context.Context, st *domain.WizardState, staff *domain.StaffUser, note string) error {
	data := st.Screenshot
	if err := r.deps.Wizards.Delete(ctx, st.Flow, st.ChatID); err != nil {
		return fmt.Errorf("failed to clear wizard: %w", err)
	}

	now := r.now()
	messages := make([]*domain.ImportedMessage, 0, len(data.Attachments))
	for _, p := range data.Attachments {
		key := p
		messages = append(messages, &domain.ImportedMessage{
			Kind:      domain.KindPhoto,
			MediaPath: &key,
			MimeType:  telegram.MimeForPath(p, domain.KindPhoto),
			SentAt:    now,
		})
	}

	lead, err := r.deps.Services.Lead.Create(ctx, service.NewLead{
		Origin:      domain.OriginScreenshotImport,
		ClientName:  data.ClientName,
		ClientPhone: data.ClientPhone,
		Note:        note,
		Creator:     staff,
		GroupID:     data.GroupID,
		Messages:    messages,
	})
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"chat_id": st.ChatID, "attachments": len(messages)}).Error("lead creation failed")
		r.send(ctx, menuButtonMessage(st.ChatID, textCreateFailed))
		return nil
	}
	r.send(ctx, menuButtonMessage(st.ChatID, r.createdText(ctx, lead, len(messages))))
	return nil
}
