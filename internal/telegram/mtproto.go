package telegram

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/sirupsen/logrus"
)

// memorySession holds the MTProto session; its encoded bytes are the
// session token persisted on the linked account.
type memorySession struct {
	mu   sync.Mutex
	data []byte
}

func (s *memorySession) LoadSession(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *memorySession) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *memorySession) token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return "", errors.New("session not established")
	}
	return base64.StdEncoding.EncodeToString(s.data), nil
}

// MTProtoDialer opens user-level connections with gotd.
type MTProtoDialer struct {
	log *logrus.Entry
}

func NewMTProtoDialer(log *logrus.Entry) *MTProtoDialer {
	return &MTProtoDialer{log: log}
}

func (d *MTProtoDialer) Dial(ctx context.Context, account *domain.LinkedAccount) (AccountClient, error) {
	if !account.HasSession() {
		return nil, fmt.Errorf("account %s has no session", account.ID)
	}
	data, err := base64.StdEncoding.DecodeString(*account.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session token: %w", err)
	}

	c, err := d.start(ctx, account.AppID, account.AppHash, &memorySession{data: data})
	if err != nil {
		return nil, err
	}
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to check authorization: %w", err)
	}
	if !status.Authorized {
		c.Close()
		return nil, errors.New("session is no longer authorized")
	}
	return c, nil
}

func (d *MTProtoDialer) DialLogin(ctx context.Context, creds domain.Credentials) (LoginClient, error) {
	return d.start(ctx, creds.AppID, creds.AppHash, &memorySession{})
}

// start runs the client in the background until Close is called.
func (d *MTProtoDialer) start(ctx context.Context, appID int, appHash string, storage *memorySession) (*mtprotoClient, error) {
	client := telegram.NewClient(appID, appHash, telegram.Options{SessionStorage: storage})

	runCtx, cancel := context.WithCancel(context.Background())
	c := &mtprotoClient{
		client:  client,
		storage: storage,
		cancel:  cancel,
		done:    make(chan struct{}),
		users:   make(map[int64]*tg.User),
		log:     d.log,
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.runErr = client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		return c, nil
	case <-c.done:
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", c.runErr)
	case <-ctx.Done():
		cancel()
		<-c.done
		return nil, ctx.Err()
	}
}

type mtprotoClient struct {
	client  *telegram.Client
	storage *memorySession
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	once    sync.Once
	log     *logrus.Entry

	mu     sync.Mutex
	users  map[int64]*tg.User
	selfID int64
}

func (c *mtprotoClient) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to send code: %w", err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("unexpected sent code response %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (c *mtprotoClient) SignIn(ctx context.Context, phone, code, codeHash string) error {
	_, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return domain.ErrSecondFactorNeeded
	}
	var signUp *auth.SignUpRequired
	if errors.As(err, &signUp) {
		return errors.New("phone number is not registered")
	}
	if err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	return nil
}

func (c *mtprotoClient) CheckPassword(ctx context.Context, password string) error {
	if _, err := c.client.Auth().Password(ctx, password); err != nil {
		return fmt.Errorf("failed to check password: %w", err)
	}
	return nil
}

func (c *mtprotoClient) SessionToken() (string, error) {
	return c.storage.token()
}

func (c *mtprotoClient) Contacts(ctx context.Context, limit int) ([]RemoteContact, error) {
	res, err := c.client.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get dialogs: %w", err)
	}

	var dialogs []tg.DialogClass
	var users []tg.UserClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		dialogs, users = d.Dialogs, d.Users
	case *tg.MessagesDialogsSlice:
		dialogs, users = d.Dialogs, d.Users
	default:
		return nil, nil
	}

	byID := make(map[int64]*tg.User, len(users))
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok {
			byID[u.ID] = u
		}
	}
	c.mu.Lock()
	for id, u := range byID {
		c.users[id] = u
	}
	c.mu.Unlock()

	contacts := make([]RemoteContact, 0, len(dialogs))
	for _, dc := range dialogs {
		dlg, ok := dc.(*tg.Dialog)
		if !ok {
			continue
		}
		peer, ok := dlg.Peer.(*tg.PeerUser)
		if !ok {
			continue
		}
		u := byID[peer.UserID]
		if u == nil || u.Bot || u.Self || u.Deleted {
			continue
		}
		contacts = append(contacts, RemoteContact{
			ID:       u.ID,
			Name:     joinName(u.FirstName, u.LastName),
			Username: u.Username,
			Phone:    u.Phone,
		})
	}
	return contacts, nil
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

func (c *mtprotoClient) user(ctx context.Context, id int64) (*tg.User, error) {
	c.mu.Lock()
	u := c.users[id]
	c.mu.Unlock()
	if u != nil {
		return u, nil
	}
	if _, err := c.Contacts(ctx, 100); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if u = c.users[id]; u == nil {
		return nil, fmt.Errorf("contact %d: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

func (c *mtprotoClient) self(ctx context.Context) int64 {
	c.mu.Lock()
	id := c.selfID
	c.mu.Unlock()
	if id != 0 {
		return id
	}
	me, err := c.client.Self(ctx)
	if err != nil {
		c.log.WithError(err).Warn("failed to resolve own user id")
		return 0
	}
	c.mu.Lock()
	c.selfID = me.ID
	c.mu.Unlock()
	return me.ID
}

func (c *mtprotoClient) History(ctx context.Context, contactID int64, limit int) ([]RemoteMessage, error) {
	u, err := c.user(ctx, contactID)
	if err != nil {
		return nil, err
	}
	res, err := c.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	}

	selfID := c.self(ctx)
	out := make([]RemoteMessage, 0, len(raw))
	for _, mc := range raw {
		if m, ok := convertMessage(mc, contactID, selfID); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *mtprotoClient) Download(ctx context.Context, media *RemoteMedia) ([]byte, error) {
	loc, ok := media.ref.(tg.InputFileLocationClass)
	if !ok {
		return nil, errors.New("media has no file location")
	}
	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(c.client.API(), loc).Stream(ctx, &buf); err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *mtprotoClient) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

func senderOf(from tg.PeerClass, hasFrom, out bool, contactID, selfID int64) int64 {
	if hasFrom {
		if pu, ok := from.(*tg.PeerUser); ok {
			return pu.UserID
		}
	}
	if out {
		return selfID
	}
	return contactID
}

func convertMessage(mc tg.MessageClass, contactID, selfID int64) (RemoteMessage, bool) {
	switch m := mc.(type) {
	case *tg.Message:
		from, hasFrom := m.GetFromID()
		rm := RemoteMessage{
			ID:       m.ID,
			SenderID: senderOf(from, hasFrom, m.Out, contactID, selfID),
			Date:     time.Unix(int64(m.Date), 0).UTC(),
			Kind:     domain.KindText,
			Text:     m.Message,
		}
		if m.Media != nil {
			classifyMedia(m.Media, &rm)
		}
		return rm, true
	case *tg.MessageService:
		call, ok := m.Action.(*tg.MessageActionPhoneCall)
		if !ok {
			return RemoteMessage{}, false
		}
		from, hasFrom := m.GetFromID()
		rm := RemoteMessage{
			ID:       m.ID,
			SenderID: senderOf(from, hasFrom, m.Out, contactID, selfID),
			Date:     time.Unix(int64(m.Date), 0).UTC(),
			Kind:     domain.KindCall,
		}
		if d, ok := call.GetDuration(); ok {
			rm.Duration = d
		}
		return rm, true
	}
	return RemoteMessage{}, false
}

func classifyMedia(media tg.MessageMediaClass, rm *RemoteMessage) {
	switch md := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := md.Photo.(*tg.Photo)
		if !ok {
			return
		}
		thumb, w, h := largestPhotoSize(photo.Sizes)
		rm.Kind = domain.KindPhoto
		rm.Media = &RemoteMedia{
			MimeType: "image/jpeg",
			Width:    w,
			Height:   h,
			ref: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     thumb,
			},
		}

	case *tg.MessageMediaDocument:
		doc, ok := md.Document.(*tg.Document)
		if !ok {
			return
		}
		media := &RemoteMedia{
			MimeType: doc.MimeType,
			Size:     doc.Size,
			ref: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
		var sticker, video, round, audio, voice bool
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeSticker:
				sticker = true
			case *tg.DocumentAttributeVideo:
				video, round = true, a.RoundMessage
				media.Width, media.Height = a.W, a.H
				media.Duration = int(a.Duration)
			case *tg.DocumentAttributeAudio:
				audio, voice = true, a.Voice
				media.Duration = int(a.Duration)
			case *tg.DocumentAttributeImageSize:
				media.Width, media.Height = a.W, a.H
			case *tg.DocumentAttributeFilename:
				media.FileName = a.FileName
			}
		}
		switch {
		case sticker:
			rm.Kind = domain.KindSticker
		case round:
			rm.Kind = domain.KindVideoNote
		case video:
			rm.Kind = domain.KindVideo
		case voice:
			rm.Kind = domain.KindVoice
		case audio:
			rm.Kind = domain.KindAudio
		default:
			rm.Kind = domain.KindDocument
		}
		rm.Duration = media.Duration
		rm.Media = media
	}
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) (thumb string, w, h int) {
	best := -1
	for _, sc := range sizes {
		switch s := sc.(type) {
		case *tg.PhotoSize:
			if area := s.W * s.H; area > best {
				best, thumb, w, h = area, s.Type, s.W, s.H
			}
		case *tg.PhotoSizeProgressive:
			if area := s.W * s.H; area > best {
				best, thumb, w, h = area, s.Type, s.W, s.H
			}
		}
	}
	return thumb, w, h
}

var (
	_ Dialer      = (*MTProtoDialer)(nil)
	_ LoginClient = (*mtprotoClient)(nil)
)
