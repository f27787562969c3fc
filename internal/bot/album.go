package bot

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/naperu/estatebot/internal/telegram"
)

// debouncer groups photos that share an album id. Every arrival re-arms the
// album timer. When it fires, onReady receives a take func that claims the
// whole album as one batch; the album stays buffered until something takes
// it, so takeChat can still claim it first. Photos without an album id are
// returned to the caller at once.
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	albums  map[string]*albumBuffer
	onReady func(chatID int64, take func() []telegram.PhotoUpload)
	seq     uint64
	stopped bool
}

type albumBuffer struct {
	chatID  int64
	seq     uint64
	uploads []telegram.PhotoUpload
	timer   *time.Timer
}

func newDebouncer(window time.Duration, onReady func(chatID int64, take func() []telegram.PhotoUpload)) *debouncer {
	if window <= 0 {
		window = time.Second
	}
	return &debouncer{window: window, albums: make(map[string]*albumBuffer), onReady: onReady}
}

func albumKey(chatID int64, albumID string) string {
	return strconv.FormatInt(chatID, 10) + "/" + albumID
}

// add buffers up and returns the batch to flush immediately, if any.
func (d *debouncer) add(chatID int64, up telegram.PhotoUpload) []telegram.PhotoUpload {
	if up.AlbumID == "" {
		return []telegram.PhotoUpload{up}
	}

	key := albumKey(chatID, up.AlbumID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	buf := d.albums[key]
	if buf == nil {
		d.seq++
		buf = &albumBuffer{chatID: chatID, seq: d.seq}
		d.albums[key] = buf
		buf.timer = time.AfterFunc(d.window, func() { d.fire(key, buf) })
	} else {
		buf.timer.Reset(d.window)
	}
	buf.uploads = append(buf.uploads, up)
	return nil
}

func (d *debouncer) fire(key string, buf *albumBuffer) {
	d.mu.Lock()
	live := d.albums[key] == buf
	d.mu.Unlock()
	if !live {
		return
	}
	d.onReady(buf.chatID, func() []telegram.PhotoUpload { return d.take(key, buf) })
}

// take claims one album. It returns nil when the album was already claimed.
func (d *debouncer) take(key string, buf *albumBuffer) []telegram.PhotoUpload {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.albums[key] != buf {
		return nil
	}
	delete(d.albums, key)
	buf.timer.Stop()
	return buf.uploads
}

// takeChat claims every album still buffered for a chat, oldest first.
func (d *debouncer) takeChat(chatID int64) [][]telegram.PhotoUpload {
	d.mu.Lock()
	defer d.mu.Unlock()
	var bufs []*albumBuffer
	for key, buf := range d.albums {
		if buf.chatID != chatID {
			continue
		}
		delete(d.albums, key)
		buf.timer.Stop()
		bufs = append(bufs, buf)
	}
	sort.Slice(bufs, func(i, j int) bool { return bufs[i].seq < bufs[j].seq })
	out := make([][]telegram.PhotoUpload, 0, len(bufs))
	for _, buf := range bufs {
		out = append(out, buf.uploads)
	}
	return out
}

// pending returns the number of albums not yet taken.
func (d *debouncer) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.albums)
}

// stop drops buffered albums and disarms their timers.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, buf := range d.albums {
		buf.timer.Stop()
		delete(d.albums, key)
	}
}
