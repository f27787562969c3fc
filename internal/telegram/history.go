package telegram

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/sirupsen/logrus"
)

// Importer copies a contact's recent conversation into lead messages.
type Importer struct {
	media    domain.MediaStore
	pageSize int
	log      *logrus.Entry
}

func NewImporter(media domain.MediaStore, pageSize int, log *logrus.Entry) *Importer {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Importer{media: media, pageSize: pageSize, log: log}
}

// Import fetches the most recent page of history with contactID and returns
// it oldest first. Media that cannot be fetched or stored keeps a nil path.
func (im *Importer) Import(ctx context.Context, client AccountClient, contactID int64) ([]*domain.ImportedMessage, error) {
	history, err := client.History(ctx, contactID, im.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].Date.Equal(history[j].Date) {
			return history[i].Date.Before(history[j].Date)
		}
		return history[i].ID < history[j].ID
	})

	log := im.log.WithField("contact_id", contactID)
	messages := make([]*domain.ImportedMessage, 0, len(history))
	stored := 0
	for i := range history {
		rm := &history[i]
		m := &domain.ImportedMessage{
			RemoteID: rm.ID,
			SenderID: rm.SenderID,
			Kind:     rm.Kind,
			Body:     rm.Text,
			Duration: rm.Duration,
			SentAt:   rm.Date,
		}
		if rm.Media != nil && rm.Kind != domain.KindText && rm.Kind != domain.KindCall {
			m.MimeType = rm.Media.MimeType
			m.Width, m.Height = rm.Media.Width, rm.Media.Height
			if p := im.storeMedia(ctx, log, client, rm); p != nil {
				m.MediaPath = p
				stored++
			}
		}
		messages = append(messages, m)
	}

	log.WithFields(logrus.Fields{"messages": len(messages), "media": stored}).Info("history imported")
	return messages, nil
}

func (im *Importer) storeMedia(ctx context.Context, log *logrus.Entry, client AccountClient, rm *RemoteMessage) *string {
	log = log.WithFields(logrus.Fields{"message_id": rm.ID, "kind": rm.Kind})

	data, err := client.Download(ctx, rm.Media)
	if err != nil {
		log.WithError(err).Warn("media download failed")
		return nil
	}

	filename := uuid.NewString() + ExtensionFor(rm.Media.MimeType, rm.Kind)
	path, err := im.media.Save(ctx, domain.MediaImports, filename, data, rm.Media.MimeType)
	if err != nil {
		log.WithError(err).Warn("media store failed")
		return nil
	}
	return &path
}
