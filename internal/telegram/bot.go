package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// maxDownloadSize is the Bot API limit for getFile downloads.
const maxDownloadSize = 20 << 20

type Button struct {
	Text string
	Data string
}

type Keyboard [][]Button

// Row groups buttons into one keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}

type OutMessage struct {
	ChatID   int64
	Text     string
	Markdown bool
	Keyboard Keyboard
}

type EditMessage struct {
	ChatID    int64
	MessageID int
	Text      string
	Markdown  bool
	Keyboard  Keyboard
}

type Photo struct {
	ChatID  int64
	Name    string
	Data    []byte
	Caption string
}

// Bot is the outbound surface of the staff-facing bot.
type Bot interface {
	Send(ctx context.Context, msg OutMessage) (int, error)
	Edit(ctx context.Context, msg EditMessage) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendPhoto(ctx context.Context, photo Photo) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

type User struct {
	ID       int64
	Name     string
	Username string
}

type PhotoUpload struct {
	FileID   string
	AlbumID  string
	MimeType string
}

type CallbackQuery struct {
	ID   string
	Data string
}

// Update is one inbound bot event reduced to what the router needs.
type Update struct {
	ChatID    int64
	MessageID int
	From      User
	Text      string
	Command   string
	Photo     *PhotoUpload
	Callback  *CallbackQuery
}

// EscapeMarkdown escapes MarkdownV2 reserved characters in free text.
func EscapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}

// BotClient implements Bot on top of the Telegram Bot API.
type BotClient struct {
	api  *tgbotapi.BotAPI
	http *http.Client
	log  *logrus.Entry
}

func NewBotClient(token string, debug bool, log *logrus.Entry) (*BotClient, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot client: %w", err)
	}
	api.Debug = debug
	log.WithField("username", api.Self.UserName).Info("bot authorized")

	return &BotClient{
		api:  api,
		http: &http.Client{Timeout: 60 * time.Second},
		log:  log,
	}, nil
}

// Updates streams inbound events until ctx is cancelled.
func (b *BotClient) Updates(ctx context.Context) <-chan Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	raw := b.api.GetUpdatesChan(cfg)

	out := make(chan Update, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			case u, ok := <-raw:
				if !ok {
					return
				}
				if up, ok := convertUpdate(u); ok {
					select {
					case out <- up:
					case <-ctx.Done():
						b.api.StopReceivingUpdates()
						return
					}
				}
			}
		}
	}()
	return out
}

func convertUser(u *tgbotapi.User) User {
	if u == nil {
		return User{}
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return User{ID: u.ID, Name: name, Username: u.UserName}
}

func convertUpdate(u tgbotapi.Update) (Update, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return Update{}, false
		}
		return Update{
			ChatID:    cq.Message.Chat.ID,
			MessageID: cq.Message.MessageID,
			From:      convertUser(cq.From),
			Callback:  &CallbackQuery{ID: cq.ID, Data: cq.Data},
		}, true
	}

	m := u.Message
	if m == nil || m.Chat == nil {
		return Update{}, false
	}
	up := Update{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		From:      convertUser(m.From),
		Text:      m.Text,
	}
	if m.IsCommand() {
		up.Command = m.Command()
		up.Text = m.CommandArguments()
	}
	switch {
	case len(m.Photo) > 0:
		largest := m.Photo[len(m.Photo)-1]
		up.Photo = &PhotoUpload{FileID: largest.FileID, AlbumID: m.MediaGroupID, MimeType: "image/jpeg"}
		up.Text = m.Caption
	case m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/"):
		up.Photo = &PhotoUpload{FileID: m.Document.FileID, AlbumID: m.MediaGroupID, MimeType: m.Document.MimeType}
		up.Text = m.Caption
	}
	return up, true
}

func inlineMarkup(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *BotClient) Send(ctx context.Context, msg OutMessage) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.Markdown {
		out.ParseMode = tgbotapi.ModeMarkdownV2
	}
	if len(msg.Keyboard) > 0 {
		out.ReplyMarkup = inlineMarkup(msg.Keyboard)
	}
	sent, err := b.api.Send(out)
	if err != nil {
		return 0, fmt.Errorf("failed to send message to %d: %w", msg.ChatID, err)
	}
	return sent.MessageID, nil
}

func (b *BotClient) Edit(ctx context.Context, msg EditMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(msg.ChatID, msg.MessageID, msg.Text)
	if msg.Markdown {
		edit.ParseMode = tgbotapi.ModeMarkdownV2
	}
	if len(msg.Keyboard) > 0 {
		markup := inlineMarkup(msg.Keyboard)
		edit.ReplyMarkup = &markup
	}
	if _, err := b.api.Request(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("failed to edit message %d in %d: %w", msg.MessageID, msg.ChatID, err)
	}
	return nil
}

func (b *BotClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

func (b *BotClient) SendPhoto(ctx context.Context, photo Photo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := tgbotapi.NewPhoto(photo.ChatID, tgbotapi.FileBytes{Name: photo.Name, Bytes: photo.Data})
	out.Caption = photo.Caption
	if _, err := b.api.Send(out); err != nil {
		return fmt.Errorf("failed to send photo to %d: %w", photo.ChatID, err)
	}
	return nil
}

func (b *BotClient) Download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file %s: status %d", fileID, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
}

var _ Bot = (*BotClient)(nil)
