package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/repository/memory"
	"github.com/naperu/estatebot/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportOrdersOldestFirst(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{
		history: []RemoteMessage{
			{ID: 5, SenderID: 1, Date: base.Add(3 * time.Minute), Kind: domain.KindText, Text: "see you"},
			{ID: 4, SenderID: 2, Date: base.Add(2 * time.Minute), Kind: domain.KindPhoto, Media: &RemoteMedia{MimeType: "image/jpeg", FileName: "front"}},
			{ID: 3, SenderID: 2, Date: base.Add(2 * time.Minute), Kind: domain.KindText, Text: "here is the house"},
			{ID: 2, SenderID: 1, Date: base.Add(time.Minute), Kind: domain.KindCall, Duration: 95},
			{ID: 1, SenderID: 2, Date: base, Kind: domain.KindText, Text: "hello"},
		},
		blobs: map[string][]byte{"front": []byte("jpeg-bytes")},
	}
	media := memory.NewMediaStore()
	im := NewImporter(media, 100, logger.Discard())

	msgs, err := im.Import(context.Background(), client, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].SentAt.Before(msgs[i-1].SentAt), "position %d goes back in time", i)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, []int{msgs[0].RemoteID, msgs[1].RemoteID, msgs[2].RemoteID, msgs[3].RemoteID, msgs[4].RemoteID})

	call := msgs[1]
	assert.Equal(t, domain.KindCall, call.Kind)
	assert.Equal(t, 95, call.Duration)
	assert.Nil(t, call.MediaPath)

	photo := msgs[3]
	require.NotNil(t, photo.MediaPath)
	assert.True(t, strings.HasPrefix(*photo.MediaPath, "imports/"))
	assert.True(t, strings.HasSuffix(*photo.MediaPath, ".jpg"))
	data, err := media.Open(context.Background(), *photo.MediaPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestImportKeepsMessageWhenDownloadFails(t *testing.T) {
	client := &fakeClient{
		history: []RemoteMessage{
			{ID: 2, Date: time.Unix(200, 0), Kind: domain.KindVoice, Media: &RemoteMedia{MimeType: "audio/ogg", FileName: "gone"}},
			{ID: 1, Date: time.Unix(100, 0), Kind: domain.KindText, Text: "hi"},
		},
	}
	media := memory.NewMediaStore()
	im := NewImporter(media, 100, logger.Discard())

	msgs, err := im.Import(context.Background(), client, 9)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.KindVoice, msgs[1].Kind)
	assert.Nil(t, msgs[1].MediaPath)
	assert.Equal(t, "audio/ogg", msgs[1].MimeType)
	assert.Empty(t, media.Paths())
}

func TestImportPageSizeIsCapped(t *testing.T) {
	history := make([]RemoteMessage, 150)
	for i := range history {
		history[i] = RemoteMessage{ID: 150 - i, Date: time.Unix(int64(1000-i), 0), Kind: domain.KindText}
	}
	im := NewImporter(memory.NewMediaStore(), 500, logger.Discard())

	msgs, err := im.Import(context.Background(), &fakeClient{history: history}, 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 100)
	assert.Equal(t, 51, msgs[0].RemoteID)
	assert.Equal(t, 150, msgs[99].RemoteID)
}
