package telegram

import (
	"context"
	"time"

	"github.com/naperu/estatebot/internal/domain"
)

type RemoteContact struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Label is the button text for a contact.
func (c RemoteContact) Label() string {
	switch {
	case c.Name != "" && c.Username != "":
		return c.Name + " (@" + c.Username + ")"
	case c.Name != "":
		return c.Name
	case c.Username != "":
		return "@" + c.Username
	case c.Phone != "":
		return "+" + c.Phone
	}
	return "unknown"
}

// RemoteMedia describes a downloadable payload. ref is owned by the client
// implementation that produced it.
type RemoteMedia struct {
	MimeType string
	FileName string
	Size     int64
	Width    int
	Height   int
	Duration int
	ref      interface{}
}

type RemoteMessage struct {
	ID       int
	SenderID int64
	Date     time.Time
	Kind     domain.MessageKind
	Text     string
	Duration int
	Media    *RemoteMedia
}

// AccountClient is a live, authenticated connection for one linked account.
type AccountClient interface {
	// Contacts returns recent private conversations.
	Contacts(ctx context.Context, limit int) ([]RemoteContact, error)
	// History returns up to limit messages with contactID, newest first.
	History(ctx context.Context, contactID int64, limit int) ([]RemoteMessage, error)
	Download(ctx context.Context, media *RemoteMedia) ([]byte, error)
	Close() error
}

// LoginClient is a temporary connection used for the two-step login. After a
// successful sign-in it is promoted to the account's live client.
type LoginClient interface {
	AccountClient
	SendCode(ctx context.Context, phone string) (string, error)
	// SignIn returns domain.ErrSecondFactorNeeded when a password is required.
	SignIn(ctx context.Context, phone, code, codeHash string) error
	CheckPassword(ctx context.Context, password string) error
	SessionToken() (string, error)
}

type Dialer interface {
	Dial(ctx context.Context, account *domain.LinkedAccount) (AccountClient, error)
	DialLogin(ctx context.Context, creds domain.Credentials) (LoginClient, error)
}
