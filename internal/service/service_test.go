package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/repository/memory"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/naperu/estatebot/pkg/logger"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) NotifyBestEffort(_ context.Context, ev domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Kinds() []domain.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventKind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (n *recordingNotifier) Last() domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
	reads int
	hits  int
}

func newMapCache() *mapCache { return &mapCache{items: make(map[string][]byte)} }

func (c *mapCache) GetJSON(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dst)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items[key] = raw
	return nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

type fakeSessions struct {
	live       []*telegram.Session
	started    []domain.Credentials
	completed  []string
	aborted    []uuid.UUID
	disconnect []uuid.UUID
}

func (f *fakeSessions) AbortLogin(id uuid.UUID) {
	f.aborted = append(f.aborted, id)
}

func (f *fakeSessions) StartLogin(_ context.Context, _ uuid.UUID, creds domain.Credentials) (string, error) {
	f.started = append(f.started, creds)
	return "code-hash", nil
}

func (f *fakeSessions) CompleteLogin(_ context.Context, _ uuid.UUID, code, _, _ string) (telegram.LoginResult, error) {
	f.completed = append(f.completed, code)
	return telegram.LoginResult{SessionToken: "tok"}, nil
}

func (f *fakeSessions) Reload(context.Context) (int, error) { return len(f.live), nil }

func (f *fakeSessions) Disconnect(_ context.Context, id uuid.UUID) error {
	f.disconnect = append(f.disconnect, id)
	return nil
}

func (f *fakeSessions) Live() []*telegram.Session { return f.live }

func (f *fakeSessions) LiveCount() int { return len(f.live) }

type env struct {
	stores   *memory.Stores
	notifier *recordingNotifier
	cache    *mapCache
	sessions *fakeSessions
	svc      *Services
	manager  *domain.StaffUser
	group    *domain.AgentGroup
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		stores:   memory.New(),
		notifier: &recordingNotifier{},
		cache:    newMapCache(),
		sessions: &fakeSessions{},
	}
	e.svc = NewServices(Deps{
		Staff:              e.stores.Staff,
		Agent:              e.stores.Agent,
		Group:              e.stores.Group,
		Lead:               e.stores.Lead,
		Accounts:           e.stores.Account,
		Sessions:           e.sessions,
		Notifier:           e.notifier,
		Cache:              e.cache,
		IsBootstrapManager: func(id int64) bool { return id == 1 },
		Log:                logger.Discard(),
	})
	e.manager = e.staff(t, 1, domain.RoleManager)
	e.group = &domain.AgentGroup{Name: "Sales A", ChatID: -100, IsActive: true}
	e.stores.Group.Add(e.group)
	return e
}

func (e *env) staff(t *testing.T, telegramID int64, role string) *domain.StaffUser {
	t.Helper()
	u := &domain.StaffUser{TelegramID: telegramID, Name: "staff", Role: role, IsActive: true}
	require.NoError(t, e.stores.Staff.Create(context.Background(), u))
	return u
}

func (e *env) groupLead(t *testing.T) *domain.Lead {
	t.Helper()
	lead, err := e.svc.Lead.Create(context.Background(), NewLead{
		Origin:      domain.OriginScreenshotImport,
		ClientName:  "Jane Doe",
		ClientPhone: "+66812345678",
		Creator:     e.manager,
		GroupID:     &e.group.ID,
	})
	require.NoError(t, err)
	return lead
}
