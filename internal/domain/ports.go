package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lookups return nil, nil when the row does not exist.

type AccountStore interface {
	Create(ctx context.Context, account *LinkedAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*LinkedAccount, error)
	ListActive(ctx context.Context) ([]*LinkedAccount, error)
	SaveSession(ctx context.Context, id uuid.UUID, creds Credentials, token string) error
	MarkConnected(ctx context.Context, id uuid.UUID) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// Credentials identify the application and phone used for an account login.
type Credentials struct {
	Phone   string `json:"phone" validate:"required,e164"`
	AppID   int    `json:"app_id" validate:"required,gt=0"`
	AppHash string `json:"app_hash" validate:"required"`
}

type StaffStore interface {
	Create(ctx context.Context, staff *StaffUser) error
	GetByTelegramID(ctx context.Context, telegramID int64) (*StaffUser, error)
}

type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Agent, error)
	GetByStaffID(ctx context.Context, staffID uuid.UUID) (*Agent, error)
	// GetOrCreate returns the agent row of a staff user, inserting it on first use.
	GetOrCreate(ctx context.Context, staff *StaffUser) (*Agent, error)
}

type GroupStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*AgentGroup, error)
	ListActive(ctx context.Context) ([]*AgentGroup, error)
}

type AdminChannelStore interface {
	GetActive(ctx context.Context) (*AdminChannel, error)
}

type LeadStore interface {
	// Create stores the lead and its messages atomically.
	Create(ctx context.Context, lead *Lead, messages []*ImportedMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lead, error)
	// Accept assigns an unassigned lead. It reports false when another agent
	// already holds it.
	Accept(ctx context.Context, leadID, agentID uuid.UUID) (bool, error)
	// Transition closes an in-progress lead held by agentID.
	Transition(ctx context.Context, leadID, agentID uuid.UUID, to LeadStatus) (bool, error)
	MarkContractRequested(ctx context.Context, leadID, agentID uuid.UUID) (bool, error)
	// UpdateField sets one editable column and returns its previous value.
	UpdateField(ctx context.Context, leadID uuid.UUID, field, value string) (string, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, status LeadStatus) ([]*Lead, error)
	ListMessages(ctx context.Context, leadID uuid.UUID) ([]*ImportedMessage, error)
	CountByStatus(ctx context.Context) (map[LeadStatus]int, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type WizardStore interface {
	// Get ignores rows whose ExpiresAt has passed.
	Get(ctx context.Context, flow Flow, chatID int64) (*WizardState, error)
	// Put inserts or replaces the row for (flow, chat) in one statement.
	Put(ctx context.Context, state *WizardState) error
	Delete(ctx context.Context, flow Flow, chatID int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type MediaDir string

const (
	MediaImports     MediaDir = "imports"
	MediaScreenshots MediaDir = "screenshots"
)

// MediaStore persists binary payloads and returns paths relative to the
// configured storage root.
type MediaStore interface {
	Save(ctx context.Context, dir MediaDir, filename string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, path string) ([]byte, error)
}
