package upload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/gostones/cloudattach/internal"
	"github.com/gostones/cloudattach/internal/notice"
	"github.com/gostones/cloudattach/internal/types"
	"github.com/gostones/cloudattach/internal/vault"
)

// trackFingerprint keeps a running average of hashing time across files.
var trackFingerprint = internal.TimeTrack("fingerprint")

// Engine uploads a single file under key. progress is called with the
// number of bytes of the file storage has confirmed so far.
type Engine interface {
	Upload(ctx context.Context, f vault.File, key string, progress func(confirmed int64)) (Outcome, error)
}

// SessionAPI negotiates resumable upload sessions.
type SessionAPI interface {
	StartUpload(ctx context.Context, hash, name string, size int64) (*types.InitUploadResponse, error)
	NextPart(ctx context.Context, uploadID string, part int64, etag string, uploaded int64) (*types.UploadPartResponse, error)
	CompleteUpload(ctx context.Context, uploadID string) (*types.Object, error)
}

// PartPutter transfers one part and returns its identifier.
type PartPutter interface {
	Put(ctx context.Context, url string, part int64, body []byte) (string, error)
}

// SessionEngine uploads files part by part through sessions held by the
// control plane. The server decides part numbers, part URLs and offsets.
type SessionEngine struct {
	fs       afero.Fs
	api      SessionAPI
	parts    PartPutter
	window   int64
	notifier notice.Notifier
	log      *slog.Logger
}

func NewSessionEngine(fs afero.Fs, api SessionAPI, parts PartPutter, n notice.Notifier, log *slog.Logger) *SessionEngine {
	if log == nil {
		log = slog.Default()
	}
	return &SessionEngine{
		fs:       fs,
		api:      api,
		parts:    parts,
		window:   internal.FingerprintWindow,
		notifier: n,
		log:      log,
	}
}

// SetFingerprintWindow changes the hashing window, mainly for tests.
func (e *SessionEngine) SetFingerprintWindow(n int64) {
	if n > 0 {
		e.window = n
	}
}

func (e *SessionEngine) fingerprint(f vault.File) (string, error) {
	defer trackFingerprint(timeNow())

	var p notice.Progress
	if e.notifier != nil && f.Size > 3*e.window {
		p = e.notifier.Progress("Calculating MD5 for " + f.Name)
		defer p.Hide()
	}
	return internal.FingerprintFile(e.fs, f.Path, e.window, func(done int64) {
		if p != nil {
			percent := int(done * 100 / f.Size)
			p.Update(percent, fmt.Sprintf("Calculating MD5 for %s - %d%%", f.Name, percent))
		}
	})
}

func (e *SessionEngine) Upload(ctx context.Context, f vault.File, key string, progress func(int64)) (Outcome, error) {
	hash, err := e.fingerprint(f)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", f.Path, err)
	}

	start, err := e.api.StartUpload(ctx, hash, key, f.Size)
	if err != nil {
		return nil, fmt.Errorf("start upload %s: %w", f.Name, err)
	}
	switch start.UploadStatus {
	case types.StatusCompleted:
		e.log.Info("file already uploaded", "file", f.Name, "key", start.FileKey)
		progress(f.Size)
		return success(start.Object), nil
	case types.StatusStorageLimit:
		progress(f.Size)
		return StorageQuotaExceeded{}, nil
	case types.StatusPerFileMaxLimit:
		progress(f.Size)
		return PerFileLimitExceeded{}, nil
	}

	if err := e.transfer(ctx, f, start, progress); err != nil {
		return nil, err
	}

	obj, err := e.api.CompleteUpload(ctx, start.UploadID)
	if err != nil {
		return nil, fmt.Errorf("complete upload %s: %w", f.Name, err)
	}
	return success(*obj), nil
}

// transfer sends parts one at a time, starting at the offset the server
// confirmed, until the server has confirmed the whole file.
func (e *SessionEngine) transfer(ctx context.Context, f vault.File, s *types.InitUploadResponse, progress func(int64)) error {
	uploadID := s.UploadID
	part, url, partSize, uploaded := s.PartNumber, s.URL, s.PartSize, s.UploadedBytes
	if uploaded >= f.Size {
		return nil
	}
	if partSize <= 0 {
		return fmt.Errorf("upload %s: invalid part size %d", uploadID, partSize)
	}
	progress(uploaded)

	fc := internal.NewFileChunk(e.fs, f.Path)
	if err := fc.Open(); err != nil {
		return err
	}
	defer fc.Close()
	if fc.Size() != f.Size {
		return fmt.Errorf("%s changed size during upload", fc.Filename())
	}

	for uploaded < f.Size {
		end := min(uploaded+partSize, f.Size)
		body, err := fc.ReadPart(uploaded, end)
		if err != nil {
			return fmt.Errorf("read part %d of %s: %w", part, fc.Filename(), err)
		}

		etag, err := e.parts.Put(ctx, url, part, body)
		if err != nil {
			return err
		}

		next, err := e.api.NextPart(ctx, uploadID, part, etag, end)
		if err != nil {
			return fmt.Errorf("confirm part %d of %s: %w", part, f.Name, err)
		}
		if next.UploadedBytes <= uploaded || next.UploadedBytes > f.Size || (next.UploadedBytes < f.Size && next.URL == "") {
			return fmt.Errorf("%w: %s confirmed %d bytes after %d", ErrSessionStalled, uploadID, next.UploadedBytes, uploaded)
		}
		e.log.Debug("part uploaded", "file", fc.Name(), "upload_id", uploadID, "part", part, "uploaded", next.UploadedBytes, "read", fc.Count(), "size", f.Size)

		uploaded = next.UploadedBytes
		part, url = next.PartNumber, next.URL
		progress(uploaded)
	}
	return nil
}

func success(o types.Object) Success {
	return Success{
		RemoteKey:   o.FileKey,
		ContainerID: o.FolderID,
		PublicCode:  o.PublicCode,
		PrivateCode: o.PrivateCode,
	}
}

// ObjectPutter writes whole objects to a bucket.
type ObjectPutter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// DirectEngine uploads each file as a single object to the user's bucket,
// below the account folder.
type DirectEngine struct {
	fs     afero.Fs
	bucket ObjectPutter
	folder string
}

func NewDirectEngine(fs afero.Fs, bucket ObjectPutter, folder string) *DirectEngine {
	return &DirectEngine{
		fs:     fs,
		bucket: bucket,
		folder: folder,
	}
}

func (e *DirectEngine) Upload(ctx context.Context, f vault.File, key string, progress func(int64)) (Outcome, error) {
	body, err := afero.ReadFile(e.fs, f.Path)
	if err != nil {
		return nil, err
	}
	fullKey := key
	if e.folder != "" {
		fullKey = e.folder + "/" + key
	}
	if err := e.bucket.Put(ctx, fullKey, body, internal.ContentType(f.Name)); err != nil {
		return nil, err
	}
	progress(f.Size)
	return Success{RemoteKey: fullKey}, nil
}
