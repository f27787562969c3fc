package domain

import (
	"time"

	"github.com/google/uuid"
)

type Flow string

const (
	FlowMessagingImport  Flow = "messaging_import"
	FlowScreenshotImport Flow = "screenshot_import"
)

// Flows lists every top-level wizard. Starting one clears the others.
var Flows = []Flow{FlowMessagingImport, FlowScreenshotImport}

type Step string

// Messaging-import steps
const (
	StepSelectAccount     Step = "select_account"
	StepSelectContact     Step = "select_contact"
	StepSelectDestination Step = "select_destination"
	StepEnterNote         Step = "enter_note"
)

// Screenshot-import steps
const (
	StepEnterClientName     Step = "enter_client_name"
	StepEnterPhone          Step = "enter_phone"
	StepAwaitAttachments    Step = "await_attachments"
	StepSelectGroup         Step = "select_group"
	StepEnterScreenshotNote Step = "enter_screenshot_note"
)

// Destination of a new lead: the creator personally, or a group channel.
type Destination struct {
	Self    bool       `json:"self"`
	GroupID *uuid.UUID `json:"group_id,omitempty"`
}

type MessagingImportData struct {
	AccountID    uuid.UUID   `json:"account_id,omitempty"`
	ContactID    int64       `json:"contact_id,omitempty"`
	ContactName  string      `json:"contact_name,omitempty"`
	ContactPhone string      `json:"contact_phone,omitempty"`
	Destination  Destination `json:"destination"`
}

type ScreenshotImportData struct {
	ClientName        string     `json:"client_name,omitempty"`
	ClientPhone       string     `json:"client_phone,omitempty"`
	Attachments       []string   `json:"attachments,omitempty"`
	ProgressMessageID int        `json:"progress_message_id,omitempty"`
	GroupID           *uuid.UUID `json:"group_id,omitempty"`
}

// WizardState is the persisted position of one chat inside one flow.
// Exactly one of the payload pointers is set, matching Flow.
type WizardState struct {
	Flow       Flow                  `json:"flow"`
	ChatID     int64                 `json:"chat_id"`
	StaffID    uuid.UUID             `json:"staff_id"`
	Step       Step                  `json:"step"`
	Messaging  *MessagingImportData  `json:"messaging,omitempty"`
	Screenshot *ScreenshotImportData `json:"screenshot,omitempty"`
	UpdatedAt  time.Time             `json:"updated_at"`
	ExpiresAt  time.Time             `json:"expires_at"`
}

func NewMessagingWizard(chatID int64, staffID uuid.UUID) *WizardState {
	return &WizardState{
		Flow:      FlowMessagingImport,
		ChatID:    chatID,
		StaffID:   staffID,
		Step:      StepSelectAccount,
		Messaging: &MessagingImportData{},
	}
}

func NewScreenshotWizard(chatID int64, staffID uuid.UUID) *WizardState {
	return &WizardState{
		Flow:       FlowScreenshotImport,
		ChatID:     chatID,
		StaffID:    staffID,
		Step:       StepEnterClientName,
		Screenshot: &ScreenshotImportData{},
	}
}

// Valid reports whether the payload variant matches the flow.
func (w *WizardState) Valid() bool {
	switch w.Flow {
	case FlowMessagingImport:
		return w.Messaging != nil && w.Screenshot == nil
	case FlowScreenshotImport:
		return w.Screenshot != nil && w.Messaging == nil
	}
	return false
}

func (w *WizardState) Expired(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && !now.Before(w.ExpiresAt)
}
