// Package callback encodes and decodes inline button payloads. Payloads are
// colon separated tokens of at most 64 bytes and are turned into typed
// actions as soon as they arrive.
package callback

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
)

// MaxPayload is the platform limit for callback data.
const MaxPayload = 64

const sep = ":"

// Action is a decoded button press.
type Action interface {
	Encode() string
}

type Menu struct{}

type NewLead struct{}

type StartFlow struct {
	Flow domain.Flow
}

type Cancel struct{}

type SelectAccount struct {
	AccountID uuid.UUID
}

type SelectContact struct {
	ContactID int64
}

// SelectDestination picks either the creator (Self) or a group.
type SelectDestination struct {
	Self    bool
	GroupID uuid.UUID
}

type SkipNote struct{}

type Continue struct{}

type Accept struct {
	LeadID uuid.UUID
}

type MyLeads struct{}

type ChangeStatus struct {
	LeadID uuid.UUID
	Status domain.LeadStatus
}

type RequestContract struct {
	LeadID uuid.UUID
}

var flowTokens = map[domain.Flow]string{
	domain.FlowMessagingImport:  "msg",
	domain.FlowScreenshotImport: "shot",
}

func (Menu) Encode() string { return "menu" }

func (NewLead) Encode() string { return "new" }

func (Cancel) Encode() string { return "cancel" }

func (SkipNote) Encode() string { return "skip" }

func (Continue) Encode() string { return "cont" }

func (MyLeads) Encode() string { return "my" }

func (a StartFlow) Encode() string { return "flow" + sep + flowTokens[a.Flow] }

func (a SelectAccount) Encode() string { return "acc" + sep + a.AccountID.String() }

func (a SelectContact) Encode() string {
	return "ct" + sep + strconv.FormatInt(a.ContactID, 10)
}

func (a SelectDestination) Encode() string {
	if a.Self {
		return "dst" + sep + "self"
	}
	return "dst" + sep + "grp" + sep + a.GroupID.String()
}

func (a Accept) Encode() string { return "take" + sep + a.LeadID.String() }

func (a ChangeStatus) Encode() string {
	return "st" + sep + a.LeadID.String() + sep + string(a.Status)
}

func (a RequestContract) Encode() string { return "ctr" + sep + a.LeadID.String() }

// Parse decodes a callback payload. Unknown or malformed payloads return an
// error wrapping domain.ErrInvalidInput.
func Parse(data string) (Action, error) {
	if data == "" || len(data) > MaxPayload {
		return nil, invalid(data)
	}
	parts := strings.Split(data, sep)

	switch parts[0] {
	case "menu", "new", "cancel", "skip", "cont", "my":
		if len(parts) != 1 {
			return nil, invalid(data)
		}
		return simple[parts[0]], nil

	case "flow":
		if len(parts) != 2 {
			return nil, invalid(data)
		}
		for flow, token := range flowTokens {
			if token == parts[1] {
				return StartFlow{Flow: flow}, nil
			}
		}
		return nil, invalid(data)

	case "acc":
		id, err := oneID(parts)
		if err != nil {
			return nil, invalid(data)
		}
		return SelectAccount{AccountID: id}, nil

	case "ct":
		if len(parts) != 2 {
			return nil, invalid(data)
		}
		contactID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, invalid(data)
		}
		return SelectContact{ContactID: contactID}, nil

	case "dst":
		if len(parts) == 2 && parts[1] == "self" {
			return SelectDestination{Self: true}, nil
		}
		if len(parts) == 3 && parts[1] == "grp" {
			id, err := uuid.Parse(parts[2])
			if err != nil {
				return nil, invalid(data)
			}
			return SelectDestination{GroupID: id}, nil
		}
		return nil, invalid(data)

	case "take":
		id, err := oneID(parts)
		if err != nil {
			return nil, invalid(data)
		}
		return Accept{LeadID: id}, nil

	case "st":
		if len(parts) != 3 {
			return nil, invalid(data)
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, invalid(data)
		}
		status, ok := domain.ParseLeadStatus(parts[2])
		if !ok || !status.IsClosing() {
			return nil, invalid(data)
		}
		return ChangeStatus{LeadID: id, Status: status}, nil

	case "ctr":
		id, err := oneID(parts)
		if err != nil {
			return nil, invalid(data)
		}
		return RequestContract{LeadID: id}, nil
	}
	return nil, invalid(data)
}

var simple = map[string]Action{
	"menu":   Menu{},
	"new":    NewLead{},
	"cancel": Cancel{},
	"skip":   SkipNote{},
	"cont":   Continue{},
	"my":     MyLeads{},
}

func oneID(parts []string) (uuid.UUID, error) {
	if len(parts) != 2 {
		return uuid.Nil, fmt.Errorf("expected one parameter, got %d", len(parts)-1)
	}
	return uuid.Parse(parts[1])
}

func invalid(data string) error {
	return fmt.Errorf("callback %q: %w", data, domain.ErrInvalidInput)
}
