// Package notify delivers lead lifecycle events to staff chats and to the
// optional event sinks (web clients, message bus).
package notify

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/naperu/estatebot/internal/callback"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/telegram"
	"github.com/sirupsen/logrus"
)

// maxAttachmentPhotos caps the photos sent to an agent on accept.
const maxAttachmentPhotos = 20

// Sink receives every event after chat delivery.
type Sink interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Stores are the lookups the dispatcher needs to resolve targets.
type Stores struct {
	AdminChannel domain.AdminChannelStore
	Group        domain.GroupStore
	Agent        domain.AgentStore
	Lead         domain.LeadStore
	Media        domain.MediaStore
}

type Dispatcher struct {
	bot    telegram.Bot
	stores Stores
	sinks  []Sink
	log    *logrus.Entry
}

func NewDispatcher(bot telegram.Bot, stores Stores, log *logrus.Entry, sinks ...Sink) *Dispatcher {
	return &Dispatcher{bot: bot, stores: stores, sinks: sinks, log: log}
}

// AddSink registers an additional event sink. Not safe for use once events flow.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// NotifyBestEffort delivers ev and logs any failure. It never fails the caller.
func (d *Dispatcher) NotifyBestEffort(ctx context.Context, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("kind", ev.Kind).Errorf("panic while notifying: %v", r)
		}
	}()
	if err := d.Notify(ctx, ev); err != nil {
		fields := logrus.Fields{"kind": ev.Kind}
		if ev.Lead != nil {
			fields["lead_id"] = ev.Lead.ID
		}
		d.log.WithError(err).WithFields(fields).Warn("notification delivery incomplete")
	}
}

// Notify delivers ev to every target of its kind and returns the joined
// delivery errors. Targets are independent; one failure does not skip others.
func (d *Dispatcher) Notify(ctx context.Context, ev domain.Event) error {
	if ev.Lead == nil {
		return fmt.Errorf("event %s without lead: %w", ev.Kind, domain.ErrInvalidInput)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch ev.Kind {
	case domain.EventLeadCreatedSelf:
		collect(d.toAdmin(ctx, createdSelfText(ev)))

	case domain.EventLeadCreatedGroup:
		if err := d.resolveGroup(ctx, &ev); err != nil {
			collect(err)
			break
		}
		collect(d.toGroup(ctx, ev))
		collect(d.toAdmin(ctx, createdGroupText(ev)))

	case domain.EventLeadAccepted:
		collect(d.resolveAgent(ctx, &ev))
		if ev.Lead.GroupID != nil {
			collect(d.resolveGroup(ctx, &ev))
		}
		if ev.Agent != nil {
			collect(d.toChat(ctx, ev.Agent.TelegramID, acceptedAgentText(ev), nil))
			collect(d.sendAttachments(ctx, ev))
		}
		collect(d.toAdmin(ctx, acceptedAdminText(ev)))

	case domain.EventLeadClosed:
		collect(d.resolveAgent(ctx, &ev))
		collect(d.toAdmin(ctx, closedText(ev)))

	case domain.EventFieldChanged:
		collect(d.resolveAgent(ctx, &ev))
		text := fieldChangedText(ev)
		collect(d.toAdmin(ctx, text))
		if ev.Agent != nil {
			collect(d.toChat(ctx, ev.Agent.TelegramID, text, nil))
		}

	case domain.EventContractRequested:
		collect(d.resolveAgent(ctx, &ev))
		collect(d.toAdmin(ctx, contractRequestedText(ev)))

	case domain.EventDocumentReady:
		collect(d.resolveAgent(ctx, &ev))
		if ev.Agent != nil {
			collect(d.toChat(ctx, ev.Agent.TelegramID, documentReadyText(ev), nil))
		} else {
			collect(d.toAdmin(ctx, documentReadyText(ev)))
		}

	default:
		return fmt.Errorf("event kind %q: %w", ev.Kind, domain.ErrInvalidInput)
	}

	for _, s := range d.sinks {
		collect(s.Publish(ctx, ev))
	}
	return errors.Join(errs...)
}

// toAdmin looks the admin channel up on every send. A missing channel is not
// an error.
func (d *Dispatcher) toAdmin(ctx context.Context, text string) error {
	channel, err := d.stores.AdminChannel.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to get admin channel: %w", err)
	}
	if channel == nil {
		d.log.Debug("no admin channel configured")
		return nil
	}
	return d.toChat(ctx, channel.ChatID, text, nil)
}

func (d *Dispatcher) toGroup(ctx context.Context, ev domain.Event) error {
	if ev.Group == nil {
		return fmt.Errorf("lead %s has no group: %w", ev.Lead.ID, domain.ErrInvalidInput)
	}
	kb := telegram.Keyboard{telegram.Row(telegram.Button{
		Text: "Take lead",
		Data: callback.Accept{LeadID: ev.Lead.ID}.Encode(),
	})}
	return d.toChat(ctx, ev.Group.ChatID, groupCardText(ev), kb)
}

func (d *Dispatcher) toChat(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) error {
	if _, err := d.bot.Send(ctx, telegram.OutMessage{ChatID: chatID, Text: text, Markdown: true, Keyboard: kb}); err != nil {
		return fmt.Errorf("failed to send to chat %d: %w", chatID, err)
	}
	return nil
}

func (d *Dispatcher) resolveGroup(ctx context.Context, ev *domain.Event) error {
	if ev.Group != nil || ev.Lead.GroupID == nil {
		return nil
	}
	g, err := d.stores.Group.GetByID(ctx, *ev.Lead.GroupID)
	if err != nil {
		return fmt.Errorf("failed to get group: %w", err)
	}
	if g == nil {
		return fmt.Errorf("group %s: %w", *ev.Lead.GroupID, domain.ErrNotFound)
	}
	ev.Group = g
	return nil
}

func (d *Dispatcher) resolveAgent(ctx context.Context, ev *domain.Event) error {
	if ev.Agent != nil || ev.Lead.AgentID == nil {
		return nil
	}
	a, err := d.stores.Agent.GetByID(ctx, *ev.Lead.AgentID)
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}
	ev.Agent = a
	return nil
}

// sendAttachments forwards the lead's stored photos to the accepting agent.
func (d *Dispatcher) sendAttachments(ctx context.Context, ev domain.Event) error {
	if d.stores.Lead == nil || d.stores.Media == nil {
		return nil
	}
	messages, err := d.stores.Lead.ListMessages(ctx, ev.Lead.ID)
	if err != nil {
		return fmt.Errorf("failed to list lead messages: %w", err)
	}

	var errs []error
	sent := 0
	for _, m := range messages {
		if m.Kind != domain.KindPhoto || m.MediaPath == nil {
			continue
		}
		if sent == maxAttachmentPhotos {
			break
		}
		data, err := d.stores.Media.Open(ctx, *m.MediaPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to open %s: %w", *m.MediaPath, err))
			continue
		}
		photo := telegram.Photo{ChatID: ev.Agent.TelegramID, Name: path.Base(*m.MediaPath), Data: data, Caption: m.Body}
		if err := d.bot.SendPhoto(ctx, photo); err != nil {
			errs = append(errs, fmt.Errorf("failed to send %s: %w", *m.MediaPath, err))
			continue
		}
		sent++
	}
	return errors.Join(errs...)
}
