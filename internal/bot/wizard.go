package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/service"
)

// activeWizard returns the chat's wizard, whichever flow it belongs to.
func (r *Router) activeWizard(ctx context.Context, chatID int64) (*domain.WizardState, error) {
	for _, flow := range domain.Flows {
		st, err := r.deps.Wizards.Get(ctx, flow, chatID)
		if err != nil {
			return nil, fmt.Errorf("failed to load wizard: %w", err)
		}
		if st != nil {
			return st, nil
		}
	}
	return nil, nil
}

// wizardAt returns the chat's wizard only when it sits at one of steps.
func (r *Router) wizardAt(ctx context.Context, chatID int64, steps ...domain.Step) (*domain.WizardState, error) {
	st, err := r.activeWizard(ctx, chatID)
	if err != nil || st == nil {
		return nil, err
	}
	for _, s := range steps {
		if st.Step == s {
			return st, nil
		}
	}
	return nil, nil
}

// saveWizard writes st and pushes its expiry forward.
func (r *Router) saveWizard(ctx context.Context, st *domain.WizardState) error {
	now := r.now()
	st.UpdatedAt = now
	st.ExpiresAt = now.Add(r.deps.WizardTTL)
	if err := r.deps.Wizards.Put(ctx, st); err != nil {
		return fmt.Errorf("failed to save wizard: %w", err)
	}
	return nil
}

func (r *Router) clearWizards(ctx context.Context, chatID int64) error {
	for _, flow := range domain.Flows {
		if err := r.deps.Wizards.Delete(ctx, flow, chatID); err != nil {
			return fmt.Errorf("failed to clear wizard: %w", err)
		}
	}
	return nil
}

// startWizard replaces whatever flow the chat was in.
func (r *Router) startWizard(ctx context.Context, st *domain.WizardState) error {
	if err := r.clearWizards(ctx, st.ChatID); err != nil {
		return err
	}
	return r.saveWizard(ctx, st)
}

func (r *Router) cancel(ctx context.Context, chatID int64) error {
	if err := r.clearWizards(ctx, chatID); err != nil {
		return err
	}
	r.send(ctx, menuButtonMessage(chatID, textCancelled))
	return nil
}

// stale tells the user the pressed button belongs to a finished step.
func (r *Router) stale(ctx context.Context, chatID int64) error {
	r.reply(ctx, chatID, textStaleButton)
	return nil
}

// finishWithNote completes whichever flow is waiting for a note.
func (r *Router) finishWithNote(ctx context.Context, chatID int64, staff *domain.StaffUser, note string) error {
	st, err := r.wizardAt(ctx, chatID, domain.StepEnterNote, domain.StepEnterScreenshotNote)
	if err != nil {
		return err
	}
	if st == nil {
		return r.stale(ctx, chatID)
	}
	note = strings.TrimSpace(note)
	if err := service.ValidateVar(note, "max=2000"); err != nil {
		r.reply(ctx, chatID, textLongNote)
		return nil
	}
	if st.Flow == domain.FlowMessagingImport {
		return r.finishMessaging(ctx, st, staff, note)
	}
	return r.finishScreenshot(ctx, st, staff, note)
}
