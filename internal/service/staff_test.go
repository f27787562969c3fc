package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/repository/memory"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/naperu/estatebot/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStaff(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	got, err := e.svc.Staff.Resolve(ctx, 1, "Boss", "boss")
	require.NoError(t, err)
	assert.Equal(t, e.manager.ID, got.ID)

	_, err = e.svc.Staff.Resolve(ctx, 999, "Stranger", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	off := &domain.StaffUser{TelegramID: 50, Role: domain.RoleAgent, IsActive: false}
	require.NoError(t, e.stores.Staff.Create(ctx, off))
	_, err = e.svc.Staff.Resolve(ctx, 50, "", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestResolveBootstrapsManager(t *testing.T) {
	e := newEnv(t)
	e.svc.Staff.bootstrap = func(id int64) bool { return id == 77 }

	got, err := e.svc.Staff.Resolve(context.Background(), 77, "Owner", "owner")
	require.NoError(t, err)
	assert.True(t, got.IsManager())
	assert.Equal(t, "@owner", got.DisplayName())

	again, err := e.svc.Staff.Resolve(context.Background(), 77, "Owner", "owner")
	require.NoError(t, err)
	assert.Equal(t, got.ID, again.ID)
}

func TestTokenRoundTrip(t *testing.T) {
	e := newEnv(t)
	token, err := e.svc.Auth.IssueToken(e.manager, "secret")
	require.NoError(t, err)

	claims, err := e.svc.Auth.ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, e.manager.ID, claims.StaffID)
	assert.True(t, claims.IsManager())
	assert.True(t, claims.ExpiresAt.After(time.Now().Add(6*24*time.Hour)))

	_, err = e.svc.Auth.ValidateToken(token, "other")
	assert.Error(t, err)

	_, err = e.svc.Auth.IssueToken(&domain.StaffUser{ID: uuid.New()}, "secret")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAccountServiceValidatesBeforeLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := e.svc.Account.StartLogin(ctx, id, domain.Credentials{Phone: "+66 81 234 5678", AppID: 0, AppHash: "h"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, e.sessions.started)

	token, err := e.svc.Account.StartLogin(ctx, id, domain.Credentials{Phone: "66 81 234 5678", AppID: 1, AppHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, "code-hash", token)
	assert.Equal(t, "+66812345678", e.sessions.started[0].Phone)

	_, err = e.svc.Account.CompleteLogin(ctx, id, CompleteLoginRequest{Code: "12a45", CodeRequestToken: "code-hash"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, []uuid.UUID{id}, e.sessions.aborted)
	res, err := e.svc.Account.CompleteLogin(ctx, id, CompleteLoginRequest{Code: " 12345 ", CodeRequestToken: "code-hash"})
	require.NoError(t, err)
	assert.Equal(t, "tok", res.SessionToken)
	assert.Equal(t, []string{"12345"}, e.sessions.completed)
}

type loginConn struct {
	closed bool
}

func (c *loginConn) Contacts(context.Context, int) ([]telegram.RemoteContact, error) { return nil, nil }

func (c *loginConn) History(context.Context, int64, int) ([]telegram.RemoteMessage, error) {
	return nil, nil
}

func (c *loginConn) Download(context.Context, *telegram.RemoteMedia) ([]byte, error) {
	return nil, errors.New("no media")
}

func (c *loginConn) Close() error {
	c.closed = true
	return nil
}

func (c *loginConn) SendCode(context.Context, string) (string, error) { return "code-hash", nil }

func (c *loginConn) SignIn(context.Context, string, string, string) error { return nil }

func (c *loginConn) CheckPassword(context.Context, string) error { return nil }

func (c *loginConn) SessionToken() (string, error) { return "tok", nil }

type loginDialer struct {
	conn *loginConn
}

func (d *loginDialer) Dial(context.Context, *domain.LinkedAccount) (telegram.AccountClient, error) {
	return nil, errors.New("not used")
}

func (d *loginDialer) DialLogin(context.Context, domain.Credentials) (telegram.LoginClient, error) {
	return d.conn, nil
}

func TestMalformedCodeEndsPendingLogin(t *testing.T) {
	ctx := context.Background()
	accounts := memory.NewAccountStore()
	conn := &loginConn{}
	sessions := telegram.NewSessionManager(&loginDialer{conn: conn}, accounts, time.Minute, logger.Discard())
	svc := NewServices(Deps{Accounts: accounts, Sessions: sessions, Log: logger.Discard()})

	a, err := svc.Account.Create(ctx, "Sales phone")
	require.NoError(t, err)
	token, err := svc.Account.StartLogin(ctx, a.ID, domain.Credentials{Phone: "+66812345678", AppID: 1, AppHash: "h"})
	require.NoError(t, err)
	require.Equal(t, 1, sessions.PendingLogins())

	_, err = svc.Account.CompleteLogin(ctx, a.ID, CompleteLoginRequest{Code: "12ab", CodeRequestToken: token})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 0, sessions.PendingLogins())
	assert.True(t, conn.closed)

	_, err = svc.Account.CompleteLogin(ctx, a.ID, CompleteLoginRequest{Code: "12345", CodeRequestToken: token})
	assert.ErrorIs(t, err, domain.ErrLoginNotStarted)
}

func TestAccountServiceDisconnectDeactivates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, err := e.svc.Account.Create(ctx, "Sales phone")
	require.NoError(t, err)
	require.NoError(t, e.stores.Account.SaveSession(ctx, a.ID, domain.Credentials{Phone: "+66800000000", AppID: 1, AppHash: "h"}, "tok"))
	e.sessions.live = []*telegram.Session{{Account: a, ConnectedAt: time.Now()}}

	live := e.svc.Account.Live()
	require.Len(t, live, 1)
	assert.Equal(t, "Sales phone", live[0].Name)

	require.NoError(t, e.svc.Account.Disconnect(ctx, a.ID))
	assert.Equal(t, []uuid.UUID{a.ID}, e.sessions.disconnect)
	stored, err := e.stores.Account.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+66812345678", NormalizePhone(" +66 (81) 234-5678 "))
	assert.Equal(t, "+14155550100", NormalizePhone("1.415.555.0100"))
	assert.Equal(t, "", NormalizePhone("  "))

	_, err := ValidatePhone("12")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = ValidatePhone("+0123")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
