// Package bot drives the staff-facing chat bot: menus, the two lead import
// wizards and the lead action buttons.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/callback"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/service"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/sirupsen/logrus"
)

const (
	jobTimeout   = 3 * time.Minute
	contactsPage = 20
	myLeadsLimit = 20
)

// Sessions exposes the live linked accounts.
type Sessions interface {
	Live() []*telegram.Session
	Lookup(accountID uuid.UUID) (*telegram.Session, bool)
}

type HistoryImporter interface {
	Import(ctx context.Context, client telegram.AccountClient, contactID int64) ([]*domain.ImportedMessage, error)
}

type Deps struct {
	Bot           telegram.Bot
	Services      *service.Services
	Sessions      Sessions
	Importer      HistoryImporter
	Groups        domain.GroupStore
	Wizards       domain.WizardStore
	Media         domain.MediaStore
	JWTSecret     string
	WizardTTL     time.Duration
	AlbumDebounce time.Duration
	Log           *logrus.Entry
}

// Router consumes bot updates. Updates of one chat are handled strictly in
// arrival order; different chats proceed independently.
type Router struct {
	deps   Deps
	log    *logrus.Entry
	queues *chatQueues
	albums *debouncer
	now    func() time.Time
}

func New(d Deps) *Router {
	if d.WizardTTL <= 0 {
		d.WizardTTL = 24 * time.Hour
	}
	r := &Router{deps: d, log: d.Log, now: time.Now}
	r.queues = newChatQueues(r.runJob)
	r.albums = newDebouncer(d.AlbumDebounce, r.enqueueAlbum)
	return r
}

// Run dispatches updates until the channel closes or ctx is done, then waits
// for queued work to finish.
func (r *Router) Run(ctx context.Context, updates <-chan telegram.Update) {
	r.log.Info("bot router started")
	defer func() {
		r.albums.stop()
		r.queues.wait()
		r.log.Info("bot router stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			r.Dispatch(ctx, up)
		}
	}
}

// Dispatch queues one update behind earlier updates of the same chat.
func (r *Router) Dispatch(ctx context.Context, up telegram.Update) {
	r.queues.enqueue(ctx, up.ChatID, func(ctx context.Context) error {
		return r.handle(ctx, up)
	})
}

// enqueueAlbum claims a ready album from inside the chat queue, so a Continue
// press queued earlier sees it first.
func (r *Router) enqueueAlbum(chatID int64, take func() []telegram.PhotoUpload) {
	r.queues.enqueue(context.Background(), chatID, func(ctx context.Context) error {
		batch := take()
		if len(batch) == 0 {
			return nil
		}
		return r.flushAttachments(ctx, chatID, batch)
	})
}

func (r *Router) runJob(ctx context.Context, chatID int64, j job) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{"chat_id": chatID, "panic": rec}).Error("bot handler panicked")
			r.reply(ctx, chatID, textGenericError)
		}
	}()
	if err := j(ctx); err != nil {
		r.log.WithError(err).WithField("chat_id", chatID).Error("bot handler failed")
		r.reply(ctx, chatID, textGenericError)
	}
}

func (r *Router) handle(ctx context.Context, up telegram.Update) error {
	var (
		action   callback.Action
		parseErr error
	)
	// Take-lead presses are answered once, with their outcome.
	answerLater := false
	if up.Callback != nil {
		action, parseErr = callback.Parse(up.Callback.Data)
		_, answerLater = action.(callback.Accept)
		if !answerLater {
			// Acknowledge first so the client stops its spinner whatever happens next.
			r.answer(ctx, up, "")
		}
	}

	// Group chats only carry lead buttons.
	private := up.ChatID == up.From.ID
	if !private && up.Callback == nil {
		return nil
	}

	staff, err := r.deps.Services.Staff.Resolve(ctx, up.From.ID, up.From.Name, up.From.Username)
	if errors.Is(err, domain.ErrForbidden) {
		if answerLater {
			r.answer(ctx, up, textNotStaff)
		}
		r.reply(ctx, up.From.ID, textNotStaff)
		return nil
	}
	if err != nil {
		if answerLater {
			r.answer(ctx, up, "")
		}
		return err
	}

	switch {
	case up.Callback != nil:
		if parseErr != nil {
			r.log.WithError(parseErr).WithField("data", up.Callback.Data).Warn("malformed callback")
			r.reply(ctx, up.From.ID, textStaleButton)
			return nil
		}
		return r.handleAction(ctx, up, staff, action)
	case up.Command != "":
		return r.handleCommand(ctx, up, staff)
	case up.Photo != nil:
		return r.handlePhoto(ctx, up, staff)
	default:
		return r.handleText(ctx, up, staff)
	}
}

func (r *Router) handleAction(ctx context.Context, up telegram.Update, staff *domain.StaffUser, action callback.Action) error {
	switch a := action.(type) {
	case callback.Menu:
		return r.showMenu(ctx, up.ChatID, staff)
	case callback.MyLeads:
		return r.showMyLeads(ctx, up.ChatID, staff)
	case callback.Accept:
		return r.acceptLead(ctx, up, staff, a.LeadID)
	case callback.ChangeStatus:
		return r.changeStatus(ctx, up, staff, a)
	case callback.RequestContract:
		return r.requestContract(ctx, up, staff, a.LeadID)
	}

	// Everything below builds leads.
	if !staff.IsManager() {
		r.reply(ctx, up.ChatID, textManagersOnly)
		return nil
	}
	switch a := action.(type) {
	case callback.NewLead:
		return r.chooseOrigin(ctx, up.ChatID)
	case callback.Cancel:
		return r.cancel(ctx, up.ChatID)
	case callback.StartFlow:
		if a.Flow == domain.FlowMessagingImport {
			return r.startMessaging(ctx, up.ChatID, staff)
		}
		return r.startScreenshot(ctx, up.ChatID, staff)
	case callback.SelectAccount:
		return r.selectAccount(ctx, up.ChatID, a.AccountID)
	case callback.SelectContact:
		return r.selectContact(ctx, up.ChatID, a.ContactID)
	case callback.SelectDestination:
		return r.selectDestination(ctx, up.ChatID, a)
	case callback.SkipNote:
		return r.finishWithNote(ctx, up.ChatID, staff, "")
	case callback.Continue:
		return r.continueAfterAttachments(ctx, up.ChatID)
	}
	return fmt.Errorf("unhandled callback action %T", action)
}

func (r *Router) handleCommand(ctx context.Context, up telegram.Update, staff *domain.StaffUser) error {
	switch up.Command {
	case "start", "menu":
		return r.showMenu(ctx, up.ChatID, staff)
	case "cancel":
		return r.cancel(ctx, up.ChatID)
	case "token":
		return r.sendToken(ctx, up, staff)
	}
	r.reply(ctx, up.ChatID, textUseMenu)
	return nil
}

func (r *Router) handleText(ctx context.Context, up telegram.Update, staff *domain.StaffUser) error {
	st, err := r.activeWizard(ctx, up.ChatID)
	if err != nil {
		return err
	}
	if st == nil || !staff.IsManager() {
		r.reply(ctx, up.ChatID, textUseMenu)
		return nil
	}

	switch st.Step {
	case domain.StepEnterClientName:
		return r.enterClientName(ctx, st, up.Text)
	case domain.StepEnterPhone:
		return r.enterPhone(ctx, st, up.Text)
	case domain.StepEnterNote, domain.StepEnterScreenshotNote:
		return r.finishWithNote(ctx, up.ChatID, staff, up.Text)
	}
	r.reply(ctx, up.ChatID, textUseButtons)
	return nil
}

// answer acknowledges the button press of up, showing text to the presser
// when it is not empty.
func (r *Router) answer(ctx context.Context, up telegram.Update, text string) {
	if up.Callback == nil {
		return
	}
	if err := r.deps.Bot.AnswerCallback(ctx, up.Callback.ID, text); err != nil {
		r.log.WithError(err).Debug("answer callback failed")
	}
}

// reply sends plain text and only logs failures.
func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	r.send(ctx, telegram.OutMessage{ChatID: chatID, Text: text})
}

func (r *Router) send(ctx context.Context, msg telegram.OutMessage) int {
	id, err := r.deps.Bot.Send(ctx, msg)
	if err != nil {
		r.log.WithError(err).WithField("chat_id", msg.ChatID).Warn("bot send failed")
	}
	return id
}

func button(text string, a callback.Action) telegram.Button {
	return telegram.Button{Text: text, Data: a.Encode()}
}

func cancelRow() []telegram.Button {
	return telegram.Row(button("Cancel", callback.Cancel{}))
}
