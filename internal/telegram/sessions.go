package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/sirupsen/logrus"
)

// Account status values broadcast to staff web clients
const (
	AccountStatusConnecting   = "connecting"
	AccountStatusConnected    = "connected"
	AccountStatusDisconnected = "disconnected"
	AccountStatusFailed       = "failed"
	AccountStatusLoginPending = "login_pending"
)

// StatusBroadcaster receives account connection changes.
type StatusBroadcaster interface {
	BroadcastAccountStatus(accountID uuid.UUID, status, detail string)
}

// Session is a live connection for one linked account.
type Session struct {
	Account     *domain.LinkedAccount
	Client      AccountClient
	ConnectedAt time.Time
}

type pendingLogin struct {
	client           LoginClient
	creds            domain.Credentials
	codeHash         string
	awaitingPassword bool
	timer            *time.Timer
}

// LoginResult is returned by CompleteLogin. SessionToken is empty when
// NeedsSecondFactor is set.
type LoginResult struct {
	SessionToken      string `json:"session_token,omitempty"`
	NeedsSecondFactor bool   `json:"needs_second_factor"`
}

// SessionManager owns every live account connection and pending login.
// One account failing to connect never affects the others.
type SessionManager struct {
	dialer   Dialer
	accounts domain.AccountStore
	status   StatusBroadcaster
	loginTTL time.Duration
	log      *logrus.Entry

	live    map[uuid.UUID]*Session
	pending map[uuid.UUID]*pendingLogin
	// expired remembers logins dropped by the timeout until the next attempt.
	expired map[uuid.UUID]bool
	mu      sync.RWMutex
}

func NewSessionManager(dialer Dialer, accounts domain.AccountStore, loginTTL time.Duration, log *logrus.Entry) *SessionManager {
	if loginTTL <= 0 {
		loginTTL = 5 * time.Minute
	}
	return &SessionManager{
		dialer:   dialer,
		accounts: accounts,
		loginTTL: loginTTL,
		log:      log,
		live:     make(map[uuid.UUID]*Session),
		pending:  make(map[uuid.UUID]*pendingLogin),
		expired:  make(map[uuid.UUID]bool),
	}
}

// SetStatusBroadcaster sets where connection changes are reported
func (m *SessionManager) SetStatusBroadcaster(b StatusBroadcaster) {
	m.status = b
}

func (m *SessionManager) broadcast(accountID uuid.UUID, status, detail string) {
	if m.status != nil {
		m.status.BroadcastAccountStatus(accountID, status, detail)
	}
}

// LoadActive connects every active account concurrently and waits for all
// attempts. Individual failures are logged.
func (m *SessionManager) LoadActive(ctx context.Context) (int, error) {
	accounts, err := m.accounts.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(a *domain.LinkedAccount) {
			defer wg.Done()
			if err := m.Connect(ctx, a); err != nil {
				m.log.WithError(err).WithField("account_id", a.ID).Warn("failed to connect account")
			}
		}(account)
	}
	wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live), nil
}

// Connect opens a live connection from the account's stored session.
// It is a no-op when the account is already live.
func (m *SessionManager) Connect(ctx context.Context, account *domain.LinkedAccount) error {
	if !account.HasSession() {
		return fmt.Errorf("account %s has no session token", account.ID)
	}

	m.mu.RLock()
	_, exists := m.live[account.ID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	m.broadcast(account.ID, AccountStatusConnecting, "")
	client, err := m.dialer.Dial(ctx, account)
	if err != nil {
		m.broadcast(account.ID, AccountStatusFailed, err.Error())
		return fmt.Errorf("failed to connect account %s: %w", account.ID, err)
	}

	m.mu.Lock()
	if _, exists := m.live[account.ID]; exists {
		m.mu.Unlock()
		client.Close()
		return nil
	}
	m.live[account.ID] = &Session{Account: account, Client: client, ConnectedAt: time.Now()}
	m.mu.Unlock()

	if err := m.accounts.MarkConnected(ctx, account.ID); err != nil {
		m.log.WithError(err).WithField("account_id", account.ID).Warn("failed to record connection time")
	}
	m.broadcast(account.ID, AccountStatusConnected, "")
	m.log.WithField("account_id", account.ID).Info("account connected")
	return nil
}

// Lookup returns the live session of an account.
func (m *SessionManager) Lookup(accountID uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.live[accountID]
	return s, ok
}

// Live lists connected accounts ordered by name.
func (m *SessionManager) Live() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Account.Name != sessions[j].Account.Name {
			return sessions[i].Account.Name < sessions[j].Account.Name
		}
		return sessions[i].Account.ID.String() < sessions[j].Account.ID.String()
	})
	return sessions
}

// LiveCount returns the number of connected accounts
func (m *SessionManager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// StartLogin opens a temporary connection and requests a login code. Any
// previous pending login for the account is discarded.
func (m *SessionManager) StartLogin(ctx context.Context, accountID uuid.UUID, creds domain.Credentials) (string, error) {
	account, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return "", fmt.Errorf("linked account %s: %w", accountID, domain.ErrNotFound)
	}

	m.discardLogin(accountID)

	client, err := m.dialer.DialLogin(ctx, creds)
	if err != nil {
		return "", fmt.Errorf("failed to open login connection: %w", err)
	}
	codeHash, err := client.SendCode(ctx, creds.Phone)
	if err != nil {
		client.Close()
		return "", err
	}

	p := &pendingLogin{client: client, creds: creds, codeHash: codeHash}
	p.timer = time.AfterFunc(m.loginTTL, func() { m.expireLogin(accountID, p) })

	m.mu.Lock()
	if prev := m.pending[accountID]; prev != nil {
		m.mu.Unlock()
		m.teardown(prev)
		m.mu.Lock()
	}
	m.pending[accountID] = p
	delete(m.expired, accountID)
	m.mu.Unlock()

	m.broadcast(accountID, AccountStatusLoginPending, "")
	m.log.WithField("account_id", accountID).Info("login code requested")
	return codeHash, nil
}

// CompleteLogin finishes a login started by StartLogin. A missing second
// factor keeps the slot open; any other failure tears it down.
func (m *SessionManager) CompleteLogin(ctx context.Context, accountID uuid.UUID, code, codeToken, password string) (LoginResult, error) {
	p := m.claimLogin(accountID)
	if p == nil {
		m.mu.Lock()
		expired := m.expired[accountID]
		delete(m.expired, accountID)
		m.mu.Unlock()
		if expired {
			return LoginResult{}, domain.ErrLoginExpired
		}
		return LoginResult{}, domain.ErrLoginNotStarted
	}
	log := m.log.WithField("account_id", accountID)

	if codeToken != p.codeHash {
		m.teardown(p)
		return LoginResult{}, domain.ErrCodeTokenMismatch
	}

	if !p.awaitingPassword {
		err := p.client.SignIn(ctx, p.creds.Phone, code, p.codeHash)
		switch {
		case errors.Is(err, domain.ErrSecondFactorNeeded):
			p.awaitingPassword = true
		case err != nil:
			m.teardown(p)
			log.WithError(err).Warn("login rejected")
			return LoginResult{}, err
		}
	}

	if p.awaitingPassword {
		if password == "" {
			m.restoreLogin(accountID, p)
			return LoginResult{NeedsSecondFactor: true}, nil
		}
		if err := p.client.CheckPassword(ctx, password); err != nil {
			m.teardown(p)
			log.WithError(err).Warn("second factor rejected")
			return LoginResult{}, err
		}
	}

	token, err := p.client.SessionToken()
	if err != nil {
		m.teardown(p)
		return LoginResult{}, fmt.Errorf("failed to export session: %w", err)
	}
	if err := m.accounts.SaveSession(ctx, accountID, p.creds, token); err != nil {
		m.teardown(p)
		return LoginResult{}, fmt.Errorf("failed to persist session: %w", err)
	}

	account, err := m.accounts.GetByID(ctx, accountID)
	if err != nil || account == nil {
		account = &domain.LinkedAccount{ID: accountID, Phone: p.creds.Phone, AppID: p.creds.AppID, IsActive: true, SessionToken: &token}
	}

	// Promote the login connection to the live one.
	m.mu.Lock()
	prev := m.live[accountID]
	m.live[accountID] = &Session{Account: account, Client: p.client, ConnectedAt: time.Now()}
	m.mu.Unlock()
	if prev != nil {
		prev.Client.Close()
	}

	if err := m.accounts.MarkConnected(ctx, accountID); err != nil {
		log.WithError(err).Warn("failed to record connection time")
	}
	m.broadcast(accountID, AccountStatusConnected, "")
	log.Info("account logged in")
	return LoginResult{SessionToken: token}, nil
}

// claimLogin removes the pending slot so only one completion runs at a time.
func (m *SessionManager) claimLogin(accountID uuid.UUID) *pendingLogin {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending[accountID]
	if p != nil {
		delete(m.pending, accountID)
	}
	return p
}

func (m *SessionManager) restoreLogin(accountID uuid.UUID, p *pendingLogin) {
	m.mu.Lock()
	prev := m.pending[accountID]
	m.pending[accountID] = p
	m.mu.Unlock()
	if prev != nil && prev != p {
		m.teardown(prev)
	}
	p.timer.Reset(m.loginTTL)
}

func (m *SessionManager) discardLogin(accountID uuid.UUID) {
	if p := m.claimLogin(accountID); p != nil {
		m.teardown(p)
	}
}

// AbortLogin closes the pending login of an account, if any. Used when a
// completion request is rejected before it reaches the login connection.
func (m *SessionManager) AbortLogin(accountID uuid.UUID) {
	p := m.claimLogin(accountID)
	if p == nil {
		return
	}
	m.teardown(p)
	m.broadcast(accountID, AccountStatusDisconnected, "login aborted")
	m.log.WithField("account_id", accountID).Info("pending login aborted")
}

func (m *SessionManager) expireLogin(accountID uuid.UUID, p *pendingLogin) {
	m.mu.Lock()
	if m.pending[accountID] != p {
		m.mu.Unlock()
		return
	}
	delete(m.pending, accountID)
	m.expired[accountID] = true
	m.mu.Unlock()

	p.client.Close()
	m.broadcast(accountID, AccountStatusDisconnected, domain.ErrLoginExpired.Error())
	m.log.WithField("account_id", accountID).Info("pending login expired")
}

func (m *SessionManager) teardown(p *pendingLogin) {
	p.timer.Stop()
	p.client.Close()
}

// PendingLogins returns the number of open login slots
func (m *SessionManager) PendingLogins() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// Reload closes every live connection and reconnects all active accounts.
func (m *SessionManager) Reload(ctx context.Context) (int, error) {
	m.closeAll()
	return m.LoadActive(ctx)
}

// Disconnect closes an account's live connection. Missing accounts are ignored.
func (m *SessionManager) Disconnect(_ context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.live[accountID]
	delete(m.live, accountID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.Client.Close(); err != nil {
		m.log.WithError(err).WithField("account_id", accountID).Warn("error closing account connection")
	}
	m.broadcast(accountID, AccountStatusDisconnected, "")
	m.log.WithField("account_id", accountID).Info("account disconnected")
	return nil
}

func (m *SessionManager) closeAll() {
	m.mu.Lock()
	live := m.live
	m.live = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for id, s := range live {
		s.Client.Close()
		m.broadcast(id, AccountStatusDisconnected, "")
	}
}

// Shutdown closes all live connections and pending logins
func (m *SessionManager) Shutdown() {
	m.closeAll()

	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uuid.UUID]*pendingLogin)
	m.mu.Unlock()
	for _, p := range pending {
		m.teardown(p)
	}
}
