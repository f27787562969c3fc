// Package telegramtest provides an in-memory telegram.Bot for tests.
package telegramtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/naperu/estatebot/internal/telegram"
)

var ErrChatUnavailable = errors.New("chat unavailable")

type Answer struct {
	CallbackID string
	Text       string
}

// Bot records every outbound call. Sends to chats listed in FailChats fail.
type Bot struct {
	mu        sync.Mutex
	nextID    int
	sent      []telegram.OutMessage
	edits     []telegram.EditMessage
	answers   []Answer
	photos    []telegram.Photo
	files     map[string][]byte
	failChats map[int64]bool
	failEdits bool
}

func NewBot() *Bot {
	return &Bot{nextID: 100, files: make(map[string][]byte), failChats: make(map[int64]bool)}
}

// AddFile makes fileID downloadable.
func (b *Bot) AddFile(fileID string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[fileID] = data
}

func (b *Bot) FailChat(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failChats[chatID] = true
}

func (b *Bot) FailEdits() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failEdits = true
}

func (b *Bot) Send(_ context.Context, msg telegram.OutMessage) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failChats[msg.ChatID] {
		return 0, ErrChatUnavailable
	}
	b.nextID++
	b.sent = append(b.sent, msg)
	return b.nextID, nil
}

func (b *Bot) Edit(_ context.Context, msg telegram.EditMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failEdits {
		return errors.New("message can't be edited")
	}
	b.edits = append(b.edits, msg)
	return nil
}

func (b *Bot) AnswerCallback(_ context.Context, callbackID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, Answer{CallbackID: callbackID, Text: text})
	return nil
}

func (b *Bot) SendPhoto(_ context.Context, photo telegram.Photo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failChats[photo.ChatID] {
		return ErrChatUnavailable
	}
	b.photos = append(b.photos, photo)
	return nil
}

func (b *Bot) Download(_ context.Context, fileID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return data, nil
}

func (b *Bot) Sent() []telegram.OutMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]telegram.OutMessage(nil), b.sent...)
}

// SentTo returns the messages sent to one chat.
func (b *Bot) SentTo(chatID int64) []telegram.OutMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []telegram.OutMessage
	for _, m := range b.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message sent to chatID.
func (b *Bot) Last(chatID int64) (telegram.OutMessage, bool) {
	msgs := b.SentTo(chatID)
	if len(msgs) == 0 {
		return telegram.OutMessage{}, false
	}
	return msgs[len(msgs)-1], true
}

// Contains reports whether any message to chatID includes substr.
func (b *Bot) Contains(chatID int64, substr string) bool {
	for _, m := range b.SentTo(chatID) {
		if strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

func (b *Bot) Edits() []telegram.EditMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]telegram.EditMessage(nil), b.edits...)
}

func (b *Bot) Answers() []Answer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Answer(nil), b.answers...)
}

func (b *Bot) Photos() []telegram.Photo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]telegram.Photo(nil), b.photos...)
}

var _ telegram.Bot = (*Bot)(nil)
