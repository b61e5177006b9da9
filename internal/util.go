package internal

import (
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"
)

// TimeTrack reports elapsed time and the running average over all calls of
// the returned func, which may be shared between goroutines.
func TimeTrack(name string) func(time.Time) {
	var mu sync.Mutex
	var avg int64
	var n int64
	return func(start time.Time) {
		elapsed := time.Since(start)
		mu.Lock()
		defer mu.Unlock()
		n++
		avg = (avg*(n-1) + int64(elapsed)) / n
		slog.Debug("elapsed", "name", name, "n", n, "elapsed", elapsed, "average", time.Duration(avg))
	}
}

// HeaderValue returns the first value of the named header, matching the name
// case-insensitively even for keys that were stored without canonicalization.
func HeaderValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	for k, vs := range h {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// DefaultContentType is used for extensions missing from the table.
const DefaultContentType = "application/octet-stream"

var mimeTypes = map[string]string{
	// images
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",

	// documents
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",

	// audio
	"mp3": "audio/mpeg",
	"wav": "audio/wav",
	"m4a": "audio/mp4",

	// video
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"avi":  "video/x-msvideo",

	"txt":  "text/plain",
	"json": "application/json",
	"zip":  "application/zip",
	"md":   "text/markdown",
}

// ContentType looks the MIME type up by the file name extension.
func ContentType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return DefaultContentType
}
