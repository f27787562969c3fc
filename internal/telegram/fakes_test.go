package telegram

import (
	"context"
	"errors"
	"sync"

	"github.com/naperu/estatebot/internal/domain"
)

type fakeClient struct {
	mu       sync.Mutex
	contacts []RemoteContact
	history  []RemoteMessage
	blobs    map[string][]byte // keyed by RemoteMedia.FileName
	closed   bool

	codeHash   string
	code       string
	password   string
	token      string
	signedIn   bool
	needs2FA   bool
	passwordOK bool
}

func (c *fakeClient) Contacts(context.Context, int) ([]RemoteContact, error) {
	return c.contacts, nil
}

func (c *fakeClient) History(_ context.Context, _ int64, limit int) ([]RemoteMessage, error) {
	out := append([]RemoteMessage(nil), c.history...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *fakeClient) Download(_ context.Context, media *RemoteMedia) ([]byte, error) {
	data, ok := c.blobs[media.FileName]
	if !ok {
		return nil, errors.New("file reference expired")
	}
	return data, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) SendCode(context.Context, string) (string, error) {
	return c.codeHash, nil
}

func (c *fakeClient) SignIn(_ context.Context, _, code, _ string) error {
	if code != c.code {
		return errors.New("PHONE_CODE_INVALID")
	}
	if c.needs2FA {
		return domain.ErrSecondFactorNeeded
	}
	c.signedIn = true
	return nil
}

func (c *fakeClient) CheckPassword(_ context.Context, password string) error {
	if password != c.password {
		return errors.New("PASSWORD_HASH_INVALID")
	}
	c.passwordOK = true
	c.signedIn = true
	return nil
}

func (c *fakeClient) SessionToken() (string, error) {
	if !c.signedIn {
		return "", errors.New("session not established")
	}
	return c.token, nil
}

type fakeDialer struct {
	mu      sync.Mutex
	clients map[string]*fakeClient // keyed by session token
	fail    map[string]error
	login   *fakeClient
	dials   int
}

func (d *fakeDialer) Dial(_ context.Context, account *domain.LinkedAccount) (AccountClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if err := d.fail[*account.SessionToken]; err != nil {
		return nil, err
	}
	c := &fakeClient{}
	if d.clients == nil {
		d.clients = make(map[string]*fakeClient)
	}
	d.clients[*account.SessionToken] = c
	return c, nil
}

func (d *fakeDialer) DialLogin(context.Context, domain.Credentials) (LoginClient, error) {
	return d.login, nil
}

func (d *fakeDialer) client(token string) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[token]
}
