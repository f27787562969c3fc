package domain

import (
	"time"

	"github.com/google/uuid"
)

// LinkedAccount is an external messaging account used to read client
// conversations. It is only usable once a session token exists.
type LinkedAccount struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	AppID           int        `json:"app_id"`
	AppHash         string     `json:"-"`
	SessionToken    *string    `json:"-"`
	IsActive        bool       `json:"is_active"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasSession reports whether the account can be connected without a login.
func (a *LinkedAccount) HasSession() bool {
	return a.SessionToken != nil && *a.SessionToken != ""
}

// Staff role constants
const (
	RoleManager = "manager"
	RoleAgent   = "agent"
)

// StaffUser is a human operator of the bot
type StaffUser struct {
	ID         uuid.UUID `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Name       string    `json:"name"`
	Username   string    `json:"username"`
	Role       string    `json:"role"` // manager, agent
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *StaffUser) IsManager() bool {
	return s != nil && s.IsActive && s.Role == RoleManager
}

// DisplayName prefers the @handle when one exists.
func (s *StaffUser) DisplayName() string {
	if s.Username != "" {
		return "@" + s.Username
	}
	if s.Name != "" {
		return s.Name
	}
	return "staff"
}

// Agent is the lead-handling identity of a staff user, created lazily on
// the first accept.
type Agent struct {
	ID         uuid.UUID `json:"id"`
	StaffID    uuid.UUID `json:"staff_id"`
	TelegramID int64     `json:"telegram_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// AgentGroup is a broadcast channel whose members may accept leads.
type AgentGroup struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	ChatID    int64     `json:"chat_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type AdminChannel struct {
	ID        uuid.UUID `json:"id"`
	ChatID    int64     `json:"chat_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type LeadOrigin string

const (
	OriginMessagingImport  LeadOrigin = "messaging_import"
	OriginScreenshotImport LeadOrigin = "screenshot_import"
)

type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "new"
	LeadStatusInProgress  LeadStatus = "in_progress"
	LeadStatusCompleted   LeadStatus = "completed"
	LeadStatusRejected    LeadStatus = "rejected"
	LeadStatusDealCreated LeadStatus = "deal_created"
)

// IsClosing reports whether an in-progress lead may move to s.
func (s LeadStatus) IsClosing() bool {
	switch s {
	case LeadStatusCompleted, LeadStatusRejected, LeadStatusDealCreated:
		return true
	}
	return false
}

func ParseLeadStatus(s string) (LeadStatus, bool) {
	switch st := LeadStatus(s); st {
	case LeadStatusNew, LeadStatusInProgress, LeadStatusCompleted, LeadStatusRejected, LeadStatusDealCreated:
		return st, true
	}
	return "", false
}

// Lead is a client inquiry. AgentID is set if and only if Status is not new.
type Lead struct {
	ID                  uuid.UUID  `json:"id"`
	PublicID            string     `json:"public_id"`
	Origin              LeadOrigin `json:"origin"`
	ClientName          string     `json:"client_name"`
	ClientPhone         string     `json:"client_phone"`
	Note                string     `json:"note"`
	Status              LeadStatus `json:"status"`
	AgentID             *uuid.UUID `json:"agent_id,omitempty"`
	GroupID             *uuid.UUID `json:"group_id,omitempty"`
	CreatedBy           *uuid.UUID `json:"created_by,omitempty"`
	SourceAccountID     *uuid.UUID `json:"source_account_id,omitempty"`
	SourceContactID     *int64     `json:"source_contact_id,omitempty"`
	AcceptedAt          *time.Time `json:"accepted_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	RejectedAt          *time.Time `json:"rejected_at,omitempty"`
	DealCreatedAt       *time.Time `json:"deal_created_at,omitempty"`
	ContractRequestedAt *time.Time `json:"contract_requested_at,omitempty"`
	DeletedAt           *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`

	// Populated on demand
	Messages []*ImportedMessage `json:"messages,omitempty"`
}

// Lead fields editable after creation
const (
	LeadFieldClientName  = "client_name"
	LeadFieldClientPhone = "client_phone"
	LeadFieldNote        = "note"
)

func IsEditableLeadField(field string) bool {
	switch field {
	case LeadFieldClientName, LeadFieldClientPhone, LeadFieldNote:
		return true
	}
	return false
}

type MessageKind string

const (
	KindText      MessageKind = "text"
	KindPhoto     MessageKind = "photo"
	KindVideo     MessageKind = "video"
	KindVoice     MessageKind = "voice"
	KindVideoNote MessageKind = "video_note"
	KindAudio     MessageKind = "audio"
	KindDocument  MessageKind = "document"
	KindSticker   MessageKind = "sticker"
	KindCall      MessageKind = "call"
)

// ImportedMessage is one entry of a lead's conversation, either copied from
// a linked account or uploaded as a screenshot. MediaPath is relative to the
// storage root and nil when the payload could not be fetched.
type ImportedMessage struct {
	ID        uuid.UUID   `json:"id"`
	LeadID    uuid.UUID   `json:"lead_id"`
	RemoteID  int         `json:"remote_id"`
	SenderID  int64       `json:"sender_id"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body"`
	MediaPath *string     `json:"media_path,omitempty"`
	MimeType  string      `json:"mime_type,omitempty"`
	Width     int         `json:"width,omitempty"`
	Height    int         `json:"height,omitempty"`
	Duration  int         `json:"duration,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
	Position  int         `json:"position"`
	CreatedAt time.Time   `json:"created_at"`
}

// LeadStats backs the manager menu.
type LeadStats struct {
	New          int `json:"new"`
	InProgress   int `json:"in_progress"`
	Completed    int `json:"completed"`
	Rejected     int `json:"rejected"`
	DealCreated  int `json:"deal_created"`
	LiveAccounts int `json:"live_accounts"`
}
