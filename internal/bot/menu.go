package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/naperu/estatebot/internal/callback"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/telegram"
)

func menuButtonMessage(chatID int64, text string) telegram.OutMessage {
	return telegram.OutMessage{
		ChatID:   chatID,
		Text:     text,
		Keyboard: telegram.Keyboard{telegram.Row(button("Menu", callback.Menu{}))},
	}
}

func (r *Router) showMenu(ctx context.Context, chatID int64, staff *domain.StaffUser) error {
	if !staff.IsManager() {
		r.send(ctx, telegram.OutMessage{
			ChatID:   chatID,
			Text:     fmt.Sprintf("Hi %s. Leads sent to your groups show up there; the ones you took are under My leads.", staff.DisplayName()),
			Keyboard: telegram.Keyboard{telegram.Row(button("My leads", callback.MyLeads{}))},
		})
		return nil
	}

	stats, err := r.deps.Services.Lead.Stats(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s.\n\n", staff.DisplayName())
	fmt.Fprintf(&b, "New: %d\n", stats.New)
	fmt.Fprintf(&b, "In progress: %d\n", stats.InProgress)
	fmt.Fprintf(&b, "Completed: %d\n", stats.Completed)
	fmt.Fprintf(&b, "Rejected: %d\n", stats.Rejected)
	fmt.Fprintf(&b, "Deals: %d\n", stats.DealCreated)
	fmt.Fprintf(&b, "Linked accounts online: %d", stats.LiveAccounts)

	r.send(ctx, telegram.OutMessage{
		ChatID: chatID,
		Text:   b.String(),
		Keyboard: telegram.Keyboard{
			telegram.Row(button("New lead", callback.NewLead{})),
			telegram.Row(button("My leads", callback.MyLeads{})),
		},
	})
	return nil
}

func (r *Router) chooseOrigin(ctx context.Context, chatID int64) error {
	r.send(ctx, telegram.OutMessage{
		ChatID: chatID,
		Text:   textChooseOrigin,
		Keyboard: telegram.Keyboard{
			telegram.Row(button("Import a chat", callback.StartFlow{Flow: domain.FlowMessagingImport})),
			telegram.Row(button("Screenshots", callback.StartFlow{Flow: domain.FlowScreenshotImport})),
			cancelRow(),
		},
	})
	return nil
}

// sendToken issues an API token for the dashboard. Commands only reach the
// router from private chats.
func (r *Router) sendToken(ctx context.Context, up telegram.Update, staff *domain.StaffUser) error {
	if !staff.IsManager() {
		r.reply(ctx, up.ChatID, textManagersOnly)
		return nil
	}
	token, err := r.deps.Services.Auth.IssueToken(staff, r.deps.JWTSecret)
	if err != nil {
		return err
	}
	r.send(ctx, telegram.OutMessage{
		ChatID:   up.ChatID,
		Text:     "API token, valid for 7 days:\n`" + telegram.EscapeMarkdown(token) + "`",
		Markdown: true,
	})
	return nil
}
