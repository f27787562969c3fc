package telegram

import (
	"path"
	"strings"

	"github.com/naperu/estatebot/internal/domain"
)

const defaultExtension = ".bin"

var mimeExtensions = map[string]string{
	"image/jpeg":       ".jpg",
	"image/jpg":        ".jpg",
	"image/png":        ".png",
	"image/webp":       ".webp",
	"image/gif":        ".gif",
	"image/heic":       ".heic",
	"video/mp4":        ".mp4",
	"video/quicktime":  ".mov",
	"video/webm":       ".webm",
	"audio/ogg":        ".ogg",
	"audio/opus":       ".opus",
	"audio/mpeg":       ".mp3",
	"audio/mp4":        ".m4a",
	"audio/x-m4a":      ".m4a",
	"audio/wav":        ".wav",
	"audio/x-wav":      ".wav",
	"application/pdf":  ".pdf",
	"application/zip":  ".zip",
	"application/json": ".json",
	"text/plain":       ".txt",
	"text/csv":         ".csv",

	"application/msword":       ".doc",
	"application/vnd.ms-excel": ".xls",
	"application/x-tgsticker":  ".tgs",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
}

// extensionMimes is the reverse of mimeExtensions for files saved under those
// extensions.
var extensionMimes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".heic": "image/heic",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".json": "application/json",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".tgs":  "application/x-tgsticker",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// kindExtensions covers payloads the platform sends without a MIME type.
var kindExtensions = map[domain.MessageKind]string{
	domain.KindPhoto:     ".jpg",
	domain.KindVoice:     ".ogg",
	domain.KindVideoNote: ".mp4",
	domain.KindSticker:   ".webp",
}

// ExtensionFor maps a MIME type to a file extension, falling back to the
// message kind and finally to ".bin".
func ExtensionFor(mimeType string, kind domain.MessageKind) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if ext, ok := mimeExtensions[mt]; ok {
		return ext
	}
	if mt == "" {
		if ext, ok := kindExtensions[kind]; ok {
			return ext
		}
	}
	return defaultExtension
}

// MimeForPath maps a stored file name back to its MIME type. Unknown
// extensions fall back to the default for the message kind, then to
// "application/octet-stream".
func MimeForPath(name string, kind domain.MessageKind) string {
	if mt, ok := extensionMimes[strings.ToLower(path.Ext(name))]; ok {
		return mt
	}
	if ext, ok := kindExtensions[kind]; ok {
		return extensionMimes[ext]
	}
	return "application/octet-stream"
}
