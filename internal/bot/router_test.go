package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/naperu/estatebot/internal/callback"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/notify"
	"github.com/naperu/estatebot/internal/repository/memory"
	"github.com/naperu/estatebot/internal/service"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/naperu/estatebot/internal/telegram/telegramtest"
	"github.com/naperu/estatebot/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	managerID int64 = 1
	annID     int64 = 2
	bobID     int64 = 3
	adminChat int64 = -1001
	groupChat int64 = -2002
)

type fakeAccount struct {
	contacts []telegram.RemoteContact
	history  map[int64][]telegram.RemoteMessage
}

func (f *fakeAccount) Contacts(_ context.Context, limit int) ([]telegram.RemoteContact, error) {
	if len(f.contacts) > limit {
		return f.contacts[:limit], nil
	}
	return f.contacts, nil
}

func (f *fakeAccount) History(_ context.Context, contactID int64, _ int) ([]telegram.RemoteMessage, error) {
	return f.history[contactID], nil
}

func (f *fakeAccount) Download(context.Context, *telegram.RemoteMedia) ([]byte, error) {
	return []byte("jpeg"), nil
}

func (f *fakeAccount) Close() error { return nil }

type fakeDialer struct {
	client *fakeAccount
}

func (d *fakeDialer) Dial(context.Context, *domain.LinkedAccount) (telegram.AccountClient, error) {
	return d.client, nil
}

func (d *fakeDialer) DialLogin(context.Context, domain.Credentials) (telegram.LoginClient, error) {
	return nil, errors.New("login not supported in tests")
}

type env struct {
	t        *testing.T
	ctx      context.Context
	bot      *telegramtest.Bot
	stores   *memory.Stores
	svc      *service.Services
	sessions *telegram.SessionManager
	client   *fakeAccount
	router   *Router
	group    *domain.AgentGroup
	clicks   int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logger.Discard()
	e := &env{
		t:      t,
		ctx:    context.Background(),
		bot:    telegramtest.NewBot(),
		stores: memory.New(),
		client: &fakeAccount{
			contacts: []telegram.RemoteContact{
				{ID: 500, Name: "Somchai", Username: "somchai", Phone: "66812345678"},
				{ID: 501, Username: "anon"},
			},
			history: map[int64][]telegram.RemoteMessage{
				500: {
					{ID: 3, SenderID: 500, Date: time.Unix(300, 0), Kind: domain.KindPhoto, Media: &telegram.RemoteMedia{MimeType: "image/jpeg"}},
					{ID: 2, SenderID: 99, Date: time.Unix(200, 0), Kind: domain.KindText, Text: "Sure, when?"},
					{ID: 1, SenderID: 500, Date: time.Unix(100, 0), Kind: domain.KindText, Text: "Is the condo free?"},
				},
			},
		},
	}
	e.stores.AdminChannel.Set(adminChat)
	e.group = &domain.AgentGroup{Name: "Sales A", ChatID: groupChat, IsActive: true}
	e.stores.Group.Add(e.group)

	e.sessions = telegram.NewSessionManager(&fakeDialer{client: e.client}, e.stores.Account, time.Minute, log)
	dispatcher := notify.NewDispatcher(e.bot, notify.Stores{
		AdminChannel: e.stores.AdminChannel,
		Group:        e.stores.Group,
		Agent:        e.stores.Agent,
		Lead:         e.stores.Lead,
		Media:        e.stores.Media,
	}, log)
	e.svc = service.NewServices(service.Deps{
		Staff:              e.stores.Staff,
		Agent:              e.stores.Agent,
		Group:              e.stores.Group,
		Lead:               e.stores.Lead,
		Accounts:           e.stores.Account,
		Sessions:           e.sessions,
		Notifier:           dispatcher,
		IsBootstrapManager: func(id int64) bool { return id == managerID },
		Log:                log,
	})
	for id, name := range map[int64]string{annID: "Ann", bobID: "Bob"} {
		require.NoError(t, e.stores.Staff.Create(e.ctx, &domain.StaffUser{TelegramID: id, Name: name, Role: domain.RoleAgent, IsActive: true}))
	}

	e.router = New(Deps{
		Bot:           e.bot,
		Services:      e.svc,
		Sessions:      e.sessions,
		Importer:      telegram.NewImporter(e.stores.Media, 100, log),
		Groups:        e.stores.Group,
		Wizards:       e.stores.Wizard,
		Media:         e.stores.Media,
		JWTSecret:     "secret",
		WizardTTL:     time.Hour,
		AlbumDebounce: 30 * time.Millisecond,
		Log:           log,
	})
	t.Cleanup(e.router.albums.stop)
	return e
}

func (e *env) connectAccount() *domain.LinkedAccount {
	e.t.Helper()
	a := &domain.LinkedAccount{Name: "Office phone"}
	require.NoError(e.t, e.stores.Account.Create(e.ctx, a))
	require.NoError(e.t, e.stores.Account.SaveSession(e.ctx, a.ID, domain.Credentials{Phone: "+66800000001", AppID: 1, AppHash: "h"}, "tok"))
	stored, err := e.stores.Account.GetByID(e.ctx, a.ID)
	require.NoError(e.t, err)
	require.NoError(e.t, e.sessions.Connect(e.ctx, stored))
	return stored
}

// dispatch queues an update and waits until every chat queue is drained.
func (e *env) dispatch(up telegram.Update) {
	e.t.Helper()
	e.router.Dispatch(e.ctx, up)
	e.settle()
}

func (e *env) settle() {
	e.t.Helper()
	require.Eventually(e.t, e.router.queues.idle, 2*time.Second, 2*time.Millisecond)
}

func user(id int64) telegram.User {
	return telegram.User{ID: id, Name: fmt.Sprintf("user-%d", id)}
}

func (e *env) text(from int64, text string) {
	e.dispatch(telegram.Update{ChatID: from, From: user(from), Text: text})
}

func (e *env) command(from int64, cmd string) {
	e.dispatch(telegram.Update{ChatID: from, From: user(from), Text: "/" + cmd, Command: cmd})
}

func (e *env) press(from, chatID int64, messageID int, a callback.Action) {
	e.clicks++
	e.dispatch(telegram.Update{
		ChatID:    chatID,
		MessageID: messageID,
		From:      user(from),
		Callback:  &telegram.CallbackQuery{ID: fmt.Sprintf("cb-%d", e.clicks), Data: a.Encode()},
	})
}

func (e *env) photo(from int64, fileID, album string) {
	e.router.Dispatch(e.ctx, telegram.Update{
		ChatID: from,
		From:   user(from),
		Photo:  &telegram.PhotoUpload{FileID: fileID, AlbumID: album, MimeType: "image/jpeg"},
	})
}

func (e *env) lastText(chatID int64) string {
	e.t.Helper()
	msg, ok := e.bot.Last(chatID)
	require.True(e.t, ok, "nothing sent to chat %d", chatID)
	return msg.Text
}

func (e *env) wizard(flow domain.Flow, chatID int64) *domain.WizardState {
	e.t.Helper()
	st, err := e.stores.Wizard.Get(e.ctx, flow, chatID)
	require.NoError(e.t, err)
	return st
}

func keyboardData(kb telegram.Keyboard) []string {
	var out []string
	for _, row := range kb {
		for _, b := range row {
			out = append(out, b.Data)
		}
	}
	return out
}

func TestStartMenuByRole(t *testing.T) {
	e := newEnv(t)

	e.command(managerID, "start")
	msg, _ := e.bot.Last(managerID)
	assert.Contains(t, msg.Text, "New: 0")
	assert.Contains(t, msg.Text, "Linked accounts online: 0")
	assert.Equal(t, []string{"new", "my"}, keyboardData(msg.Keyboard))

	e.command(annID, "start")
	msg, _ = e.bot.Last(annID)
	assert.Equal(t, []string{"my"}, keyboardData(msg.Keyboard))

	e.command(42, "start")
	assert.Equal(t, textNotStaff, e.lastText(42))
}

func TestAgentsCannotBuildLeads(t *testing.T) {
	e := newEnv(t)

	e.press(annID, annID, 1, callback.NewLead{})
	assert.Equal(t, textManagersOnly, e.lastText(annID))

	e.press(annID, annID, 1, callback.StartFlow{Flow: domain.FlowScreenshotImport})
	assert.Equal(t, textManagersOnly, e.lastText(annID))
	assert.Zero(t, e.stores.Wizard.CountForChat(annID))

	e.command(annID, "token")
	assert.Equal(t, textManagersOnly, e.lastText(annID))
}

func TestCallbacksAreAcknowledged(t *testing.T) {
	e := newEnv(t)

	e.dispatch(telegram.Update{ChatID: managerID, From: user(managerID), Callback: &telegram.CallbackQuery{ID: "bad", Data: "nonsense:1"}})
	e.press(managerID, managerID, 1, callback.Menu{})

	answers := e.bot.Answers()
	require.Len(t, answers, 2)
	assert.Equal(t, "bad", answers[0].CallbackID)
	assert.Equal(t, "cb-1", answers[1].CallbackID)
	sent := e.bot.SentTo(managerID)
	require.Len(t, sent, 2)
	assert.Equal(t, textStaleButton, sent[0].Text)
}

func TestMalformedTakeButtonIsAnswered(t *testing.T) {
	e := newEnv(t)

	e.dispatch(telegram.Update{
		ChatID:    groupChat,
		MessageID: 5,
		From:      user(annID),
		Callback:  &telegram.CallbackQuery{ID: "broken", Data: "take:not-a-uuid"},
	})

	answers := e.bot.Answers()
	require.Len(t, answers, 1)
	assert.Equal(t, "broken", answers[0].CallbackID)
	assert.Equal(t, textStaleButton, e.lastText(annID))
	assert.Empty(t, e.bot.SentTo(groupChat))
}

func TestMessagingImportAssignsToCreator(t *testing.T) {
	e := newEnv(t)
	account := e.connectAccount()

	e.press(managerID, managerID, 1, callback.NewLead{})
	assert.Equal(t, textChooseOrigin, e.lastText(managerID))

	e.press(managerID, managerID, 2, callback.StartFlow{Flow: domain.FlowMessagingImport})
	msg, _ := e.bot.Last(managerID)
	assert.Equal(t, textChooseAccount, msg.Text)
	assert.Contains(t, keyboardData(msg.Keyboard), callback.SelectAccount{AccountID: account.ID}.Encode())

	e.press(managerID, managerID, 3, callback.SelectAccount{AccountID: account.ID})
	msg, _ = e.bot.Last(managerID)
	assert.Equal(t, textChooseContact, msg.Text)
	assert.Equal(t, "Somchai (@somchai)", msg.Keyboard[0][0].Text)

	e.press(managerID, managerID, 4, callback.SelectContact{ContactID: 500})
	msg, _ = e.bot.Last(managerID)
	assert.Equal(t, textChooseDest, msg.Text)
	assert.Contains(t, keyboardData(msg.Keyboard), "dst:self")
	assert.Contains(t, keyboardData(msg.Keyboard), callback.SelectDestination{GroupID: e.group.ID}.Encode())

	e.press(managerID, managerID, 5, callback.SelectDestination{Self: true})
	assert.Equal(t, textEnterNote, e.lastText(managerID))
	st := e.wizard(domain.FlowMessagingImport, managerID)
	require.NotNil(t, st)
	assert.True(t, st.Messaging.Destination.Self)
	assert.Equal(t, "Somchai", st.Messaging.ContactName)

	e.text(managerID, "  Wants a two bedroom condo ")

	leads := e.stores.Lead.All()
	require.Len(t, leads, 1)
	lead := leads[0]
	assert.Equal(t, domain.OriginMessagingImport, lead.Origin)
	assert.Equal(t, domain.LeadStatusInProgress, lead.Status)
	assert.Equal(t, "Somchai", lead.ClientName)
	assert.Equal(t, "+66812345678", lead.ClientPhone)
	assert.Equal(t, "Wants a two bedroom condo", lead.Note)
	require.NotNil(t, lead.SourceContactID)
	assert.Equal(t, int64(500), *lead.SourceContactID)

	msgs, err := e.stores.Lead.ListMessages(e.ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Is the condo free?", msgs[0].Body)
	assert.Equal(t, domain.KindPhoto, msgs[2].Kind)
	require.NotNil(t, msgs[2].MediaPath)
	assert.True(t, strings.HasPrefix(*msgs[2].MediaPath, "imports/"))

	assert.Zero(t, e.stores.Wizard.CountForChat(managerID))
	assert.Contains(t, e.lastText(managerID), "Lead #"+lead.PublicID+" created with 3 messages and assigned to you.")
	assert.True(t, e.bot.Contains(adminChat, "New lead taken by"))
	assert.Empty(t, e.bot.SentTo(groupChat))
}

func TestMessagingImportWithoutAccounts(t *testing.T) {
	e := newEnv(t)

	e.press(managerID, managerID, 1, callback.StartFlow{Flow: domain.FlowMessagingImport})

	assert.Equal(t, textNoAccounts, e.lastText(managerID))
	assert.Zero(t, e.stores.Wizard.CountForChat(managerID))
}

func TestScreenshotFlowToGroup(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"f1", "f2", "f3", "f4"} {
		e.bot.AddFile(id, []byte("img-"+id))
	}

	e.press(managerID, managerID, 1, callback.StartFlow{Flow: domain.FlowScreenshotImport})
	assert.Equal(t, textEnterName, e.lastText(managerID))

	e.text(managerID, "   ")
	assert.Equal(t, textBadName, e.lastText(managerID))
	e.text(managerID, "Jane Doe")
	assert.Equal(t, textEnterPhone, e.lastText(managerID))

	e.text(managerID, "12")
	assert.Equal(t, textBadPhone, e.lastText(managerID))
	assert.Equal(t, domain.StepEnterPhone, e.wizard(domain.FlowScreenshotImport, managerID).Step)
	e.text(managerID, "+66 81 234 5678")
	assert.Equal(t, textSendScreenshots, e.lastText(managerID))

	e.press(managerID, managerID, 2, callback.Continue{})
	assert.Equal(t, textNeedScreenshot, e.lastText(managerID))

	// An album arrives as separate updates and is stored as one batch.
	writes := e.stores.Wizard.Writes()
	e.photo(managerID, "f1", "album-9")
	e.photo(managerID, "f2", "album-9")
	e.photo(managerID, "f3", "album-9")
	require.Eventually(t, func() bool {
		st := e.wizard(domain.FlowScreenshotImport, managerID)
		return st != nil && len(st.Screenshot.Attachments) == 3
	}, 2*time.Second, 5*time.Millisecond)
	e.settle()
	assert.Equal(t, writes+1, e.stores.Wizard.Writes())

	progress := 0
	for _, m := range e.bot.SentTo(managerID) {
		if strings.HasPrefix(m.Text, "Screenshots received") {
			progress++
			assert.Contains(t, m.Text, "received: 3")
		}
	}
	assert.Equal(t, 1, progress)

	// A lone photo is stored at once and the progress message is edited.
	e.photo(managerID, "f4", "")
	e.settle()
	edits := e.bot.Edits()
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Text, "received: 4")
	assert.Equal(t, e.wizard(domain.FlowScreenshotImport, managerID).Screenshot.ProgressMessageID, edits[0].MessageID)

	e.press(managerID, managerID, 3, callback.Continue{})
	msg, _ := e.bot.Last(managerID)
	assert.Equal(t, textChooseGroup, msg.Text)
	assert.NotContains(t, keyboardData(msg.Keyboard), "dst:self")

	e.press(managerID, managerID, 4, callback.SelectDestination{GroupID: e.group.ID})
	assert.Equal(t, textEnterNote, e.lastText(managerID))
	e.press(managerID, managerID, 5, callback.SkipNote{})

	leads := e.stores.Lead.All()
	require.Len(t, leads, 1)
	lead := leads[0]
	assert.Equal(t, domain.OriginScreenshotImport, lead.Origin)
	assert.Equal(t, domain.LeadStatusNew, lead.Status)
	assert.Equal(t, "+66812345678", lead.ClientPhone)
	assert.Empty(t, lead.Note)
	assert.Nil(t, lead.AgentID)

	msgs, err := e.stores.Lead.ListMessages(e.ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for _, m := range msgs {
		require.NotNil(t, m.MediaPath)
		assert.True(t, strings.HasPrefix(*m.MediaPath, "screenshots/"))
		assert.Equal(t, "image/jpeg", m.MimeType)
	}

	card, ok := e.bot.Last(groupChat)
	require.True(t, ok)
	assert.Equal(t, []string{callback.Accept{LeadID: lead.ID}.Encode()}, keyboardData(card.Keyboard))
	assert.Contains(t, e.lastText(managerID), "sent to Sales A.")
	assert.Zero(t, e.stores.Wizard.CountForChat(managerID))
}

func TestContinueStoresAlbumsStillBuffering(t *testing.T) {
	e := newEnv(t)
	e.router.albums.stop()
	e.router.albums = newDebouncer(time.Hour, e.router.enqueueAlbum)
	t.Cleanup(e.router.albums.stop)
	for _, id := range []string{"s1", "a1", "a2"} {
		e.bot.AddFile(id, []byte("img-"+id))
	}

	e.press(managerID, managerID, 1, callback.StartFlow{Flow: domain.FlowScreenshotImport})
	e.text(managerID, "Jane Doe")
	e.text(managerID, "+66 81 234 5678")

	e.photo(managerID, "s1", "")
	e.photo(managerID, "a1", "album-1")
	e.photo(managerID, "a2", "album-1")
	e.press(managerID, managerID, 2, callback.Continue{})

	st := e.wizard(domain.FlowScreenshotImport, managerID)
	require.NotNil(t, st)
	assert.Equal(t, domain.StepSelectGroup, st.Step)
	assert.Len(t, st.Screenshot.Attachments, 3)
	assert.Equal(t, textChooseGroup, e.lastText(managerID))
	assert.Zero(t, e.router.albums.pending())
}

func TestPhotosOutsideUploadStepAreIgnored(t *testing.T) {
	e := newEnv(t)
	e.bot.AddFile("f1", []byte("img"))

	e.photo(managerID, "f1", "")
	e.settle()

	assert.Empty(t, e.bot.SentTo(managerID))
	assert.Empty(t, e.stores.Media.Paths())
}

func TestCancelAndFlowSwitching(t *testing.T) {
	e := newEnv(t)
	e.connectAccount()

	e.press(managerID, managerID, 1, callback.StartFlow{Flow: domain.FlowScreenshotImport})
	st := e.wizard(domain.FlowScreenshotImport, managerID)
	require.NotNil(t, st)
	assert.WithinDuration(t, time.Now().Add(time.Hour), st.ExpiresAt, time.Minute)

	// Starting the other flow replaces the first one.
	e.press(managerID, managerID, 2, callback.StartFlow{Flow: domain.FlowMessagingImport})
	assert.Equal(t, 1, e.stores.Wizard.CountForChat(managerID))
	assert.Nil(t, e.wizard(domain.FlowScreenshotImport, managerID))
	assert.NotNil(t, e.wizard(domain.FlowMessagingImport, managerID))

	e.command(managerID, "cancel")
	assert.Equal(t, textCancelled, e.lastText(managerID))
	assert.Zero(t, e.stores.Wizard.CountForChat(managerID))

	e.text(managerID, "hello?")
	assert.Equal(t, textUseMenu, e.lastText(managerID))

	e.press(managerID, managerID, 3, callback.SelectContact{ContactID: 500})
	assert.Equal(t, textStaleButton, e.lastText(managerID))
}

func TestWrongInputAtButtonStep(t *testing.T) {
	e := newEnv(t)
	e.connectAccount()

	e.press(managerID, managerID, 1, callback.StartFlow{Flow: domain.FlowMessagingImport})
	e.text(managerID, "Somchai")

	assert.Equal(t, textUseButtons, e.lastText(managerID))
	assert.Equal(t, domain.StepSelectAccount, e.wizard(domain.FlowMessagingImport, managerID).Step)
}

func groupLead(t *testing.T, e *env) *domain.Lead {
	t.Helper()
	manager, err := e.svc.Staff.Resolve(e.ctx, managerID, "Boss", "")
	require.NoError(t, err)
	lead, err := e.svc.Lead.Create(e.ctx, service.NewLead{
		Origin:      domain.OriginScreenshotImport,
		ClientName:  "Jane Doe",
		ClientPhone: "+66812345678",
		Creator:     manager,
		GroupID:     &e.group.ID,
	})
	require.NoError(t, err)
	return lead
}

func TestTakeLeadFromGroup(t *testing.T) {
	e := newEnv(t)
	lead := groupLead(t, e)

	e.press(annID, groupChat, 77, callback.Accept{LeadID: lead.ID})
	e.press(bobID, groupChat, 77, callback.Accept{LeadID: lead.ID})

	stored, err := e.stores.Lead.GetByID(e.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusInProgress, stored.Status)
	ann, err := e.stores.Staff.GetByTelegramID(e.ctx, annID)
	require.NoError(t, err)
	agent, err := e.stores.Agent.GetByStaffID(e.ctx, ann.ID)
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, agent.ID, *stored.AgentID)

	edits := e.bot.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, groupChat, edits[0].ChatID)
	assert.Equal(t, 77, edits[0].MessageID)
	assert.Contains(t, edits[0].Text, "Accepted by Ann")
	assert.Empty(t, edits[0].Keyboard)

	assert.True(t, e.bot.Contains(annID, "You accepted this lead"))
	assert.Contains(t, e.lastText(bobID), textAlreadyTaken)

	answers := e.bot.Answers()
	require.Len(t, answers, 2)
	assert.Equal(t, "Lead #"+lead.PublicID+" is yours.", answers[0].Text)
	assert.Equal(t, textAlreadyTaken, answers[1].Text)
	// Nothing extra is posted to the group for the loser.
	assert.Len(t, e.bot.SentTo(groupChat), 1)
}

func TestTakeLeadRace(t *testing.T) {
	e := newEnv(t)
	lead := groupLead(t, e)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := int64(100 + i)
		require.NoError(t, e.stores.Staff.Create(e.ctx, &domain.StaffUser{TelegramID: id, Name: fmt.Sprintf("agent-%d", i), Role: domain.RoleAgent, IsActive: true}))
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.router.Dispatch(e.ctx, telegram.Update{
				ChatID:    id,
				MessageID: 9,
				From:      user(id),
				Callback:  &telegram.CallbackQuery{ID: fmt.Sprintf("r-%d", id), Data: callback.Accept{LeadID: lead.ID}.Encode()},
			})
		}()
	}
	wg.Wait()
	e.settle()

	taken := 0
	for i := 0; i < 8; i++ {
		if e.bot.Contains(int64(100+i), textAlreadyTaken) {
			taken++
		}
	}
	assert.Equal(t, 7, taken)
	require.Len(t, e.bot.Edits(), 1)

	answers := e.bot.Answers()
	require.Len(t, answers, 8)
	refused := 0
	for _, a := range answers {
		if a.Text == textAlreadyTaken {
			refused++
		}
	}
	assert.Equal(t, 7, refused)

	stored, err := e.stores.Lead.GetByID(e.ctx, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AgentID)
	winner, err := e.stores.Agent.GetByID(e.ctx, *stored.AgentID)
	require.NoError(t, err)
	assert.Equal(t, e.bot.Edits()[0].ChatID, winner.TelegramID)
}

func TestMyLeadsAndClosing(t *testing.T) {
	e := newEnv(t)
	lead := groupLead(t, e)

	e.press(annID, annID, 1, callback.MyLeads{})
	assert.Equal(t, textNoLeads, e.lastText(annID))

	e.press(annID, groupChat, 10, callback.Accept{LeadID: lead.ID})
	e.press(annID, annID, 2, callback.MyLeads{})
	card, _ := e.bot.Last(annID)
	assert.True(t, card.Markdown)
	assert.Contains(t, card.Text, "Jane Doe")
	assert.Contains(t, keyboardData(card.Keyboard), callback.RequestContract{LeadID: lead.ID}.Encode())

	e.press(annID, annID, 11, callback.RequestContract{LeadID: lead.ID})
	assert.Equal(t, textContractAsked, e.lastText(annID))
	assert.True(t, e.bot.Contains(adminChat, "contract requested by Ann"))

	// Bob does not hold the lead.
	e.press(bobID, bobID, 1, callback.ChangeStatus{LeadID: lead.ID, Status: domain.LeadStatusRejected})
	assert.Equal(t, textNotYourLead, e.lastText(bobID))

	e.press(annID, annID, 11, callback.ChangeStatus{LeadID: lead.ID, Status: domain.LeadStatusDealCreated})
	stored, err := e.stores.Lead.GetByID(e.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusDealCreated, stored.Status)
	edits := e.bot.Edits()
	last := edits[len(edits)-1]
	assert.Equal(t, 11, last.MessageID)
	assert.Contains(t, last.Text, "deal created")

	e.press(annID, annID, 11, callback.ChangeStatus{LeadID: lead.ID, Status: domain.LeadStatusCompleted})
	assert.Equal(t, textNotYourLead, e.lastText(annID))
}

func TestTokenCommand(t *testing.T) {
	e := newEnv(t)

	e.command(managerID, "token")
	msg, _ := e.bot.Last(managerID)
	assert.True(t, msg.Markdown)
	assert.Contains(t, msg.Text, "API token")
}

func TestHandlerPanicIsReported(t *testing.T) {
	e := newEnv(t)

	e.router.runJob(e.ctx, managerID, func(context.Context) error { panic("boom") })
	assert.Equal(t, textGenericError, e.lastText(managerID))

	e.router.runJob(e.ctx, annID, func(context.Context) error { return errors.New("db down") })
	assert.Equal(t, textGenericError, e.lastText(annID))
}

func TestGroupChatterIsIgnored(t *testing.T) {
	e := newEnv(t)

	e.dispatch(telegram.Update{ChatID: groupChat, From: user(annID), Text: "hi all"})
	e.dispatch(telegram.Update{ChatID: groupChat, From: user(42), Text: "spam"})

	assert.Empty(t, e.bot.Sent())
}
