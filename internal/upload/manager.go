package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gostones/cloudattach/internal/api"
	"github.com/gostones/cloudattach/internal/lock"
	"github.com/gostones/cloudattach/internal/notice"
	"github.com/gostones/cloudattach/internal/retry"
	"github.com/gostones/cloudattach/internal/rewrite"
	"github.com/gostones/cloudattach/internal/vault"
)

var timeNow = time.Now

// Disposition modes for local files whose references were rewritten.
const (
	DispositionTrash = "trash"
	DispositionMove  = "move"
)

// DefaultMoveFolder receives uploaded files when no folder is configured.
const DefaultMoveFolder = "Uploaded_Attachments"

// Config tunes a Manager.
type Config struct {
	// Stagger separates the start of consecutive files of a batch.
	Stagger time.Duration
	// MaxConcurrent caps files in flight. Zero lets all files run at once.
	MaxConcurrent int
	// FileRetry bounds the attempts of a whole file.
	FileRetry retry.Policy

	// Rename gives files unique names in the cloud, except on the
	// register tier.
	Rename   bool
	UserType string

	Disposition string
	MoveFolder  string
}

// DefaultConfig matches the behaviour users expect from interactive uploads.
func DefaultConfig() Config {
	return Config{
		Stagger:     50 * time.Millisecond,
		FileRetry:   retry.Policy{Attempts: 3, Base: 5 * time.Second},
		Disposition: DispositionTrash,
		MoveFolder:  DefaultMoveFolder,
	}
}

// Result pairs a file with its outcome.
type Result struct {
	File    vault.File
	Outcome Outcome
}

// Manager runs upload batches, one at a time.
type Manager struct {
	engine   Engine
	vault    *vault.Vault
	rewriter *rewrite.Rewriter
	linker   rewrite.Linker
	notifier notice.Notifier
	cfg      Config
	log      *slog.Logger

	busy lock.NonBlocking
}

func NewManager(cfg Config, engine Engine, v *vault.Vault, linker rewrite.Linker, n notice.Notifier, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if n == nil {
		n = notice.Log{Logger: log}
	}
	return &Manager{
		engine:   engine,
		vault:    v,
		rewriter: rewrite.New(v, log),
		linker:   linker,
		notifier: n,
		cfg:      cfg,
		log:      log,
	}
}

// Busy reports whether a batch is running.
func (m *Manager) Busy() bool {
	return m.busy.Locked()
}

// UploadFiles uploads files concurrently, rewrites their references and
// disposes of the local copies. When doc is not empty the references are
// first looked for in that document only. A batch started while another
// one runs is rejected with ErrBatchInProgress.
func (m *Manager) UploadFiles(ctx context.Context, t *Tracker, files []vault.File, doc string) ([]Result, error) {
	if !m.busy.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer m.busy.Unlock()
	defer t.Finish()

	if len(files) == 0 {
		return nil, nil
	}
	var size int64
	for _, f := range files {
		size += f.Size
	}
	t.Enqueue(len(files), size)

	results := make([]Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.MaxConcurrent > 0 {
		g.SetLimit(m.cfg.MaxConcurrent)
	}
	for i, f := range files {
		if i > 0 && m.cfg.Stagger > 0 {
			if err := sleep(ctx, m.cfg.Stagger); err != nil {
				break
			}
		}
		g.Go(func() error {
			results[i] = Result{File: f, Outcome: m.processFile(gctx, t, f, doc)}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// processFile runs the whole sequence for one file and records the outcome
// on t. The upload itself is retried; rewriting and disposal are not.
func (m *Manager) processFile(ctx context.Context, t *Tracker, f vault.File, doc string) Outcome {
	key := f.Name
	if m.cfg.Rename && m.cfg.UserType != vault.UserTypeRegister {
		key = GenerateNewFileName(f.Name, timeNow())
	}
	log := m.log.With("file", f.Path, "key", key)

	// credit each confirmed byte once across attempts
	var credited int64
	progress := func(confirmed int64) {
		if confirmed > credited {
			t.Confirm(confirmed - credited)
			credited = confirmed
		}
	}

	var outcome Outcome
	op := func() error {
		log.Debug("uploading")
		o, err := m.engine.Upload(ctx, f, key, progress)
		if err != nil {
			var pe *api.PolicyError
			if errors.As(err, &pe) {
				return retry.Permanent(err)
			}
			return err
		}
		outcome = o
		return nil
	}
	notify := func(err error, attempt int, delay time.Duration) {
		log.Warn("upload attempt failed", "attempt", attempt, "delay", delay, "error", err)
		m.notifier.Notify(fmt.Sprintf("%s retrying...", f.Name))
	}
	if err := retry.Do(ctx, m.cfg.FileRetry, op, notify); err != nil {
		log.Error("upload failed", "error", err)
		var pe *api.PolicyError
		if errors.As(err, &pe) {
			m.notifier.Error(pe.Message)
		} else {
			m.notifier.Error(fmt.Sprintf("Failed to upload %s after %d attempts: %v", f.Name, m.cfg.FileRetry.Attempts, err))
		}
		t.Fail()
		return TransferError{Err: err}
	}

	switch o := outcome.(type) {
	case Success:
		t.Succeed()
		log.Info("uploaded", "remote_key", o.RemoteKey)
		m.reconcile(ctx, log, f, o, doc)
	case StorageQuotaExceeded:
		log.Info("skipped, storage limit reached")
		t.Skip()
	case PerFileLimitExceeded:
		log.Info("skipped, file too large for account")
		t.Skip()
	}
	return outcome
}

// reconcile points documents at the uploaded object and disposes of the
// local file once a reference was rewritten.
func (m *Manager) reconcile(ctx context.Context, log *slog.Logger, f vault.File, s Success, doc string) {
	ref := rewrite.Ref{
		Name: f.Name,
		Ext:  f.Ext,
		URL: m.linker.URL(rewrite.Object{
			Key:         s.RemoteKey,
			FolderID:    s.ContainerID,
			PublicCode:  s.PublicCode,
			PrivateCode: s.PrivateCode,
		}),
	}

	all, err := m.documents()
	if err != nil {
		log.Warn("list documents", "error", err)
	}
	primary := all
	if doc != "" {
		primary = []string{doc}
	}

	ok, err := m.rewriter.Primary(ctx, primary, ref)
	if err != nil {
		log.Warn("rewrite references", "error", err)
	}
	if !ok {
		ok, err = m.rewriter.Secondary(ctx, all, ref)
		if err != nil {
			log.Warn("rewrite references", "error", err)
		}
	}
	if !ok {
		m.notifier.Error(fmt.Sprintf("Failed to update file references for %s in documents.", f.Name))
		return
	}
	m.dispose(log, f)
}

func (m *Manager) documents() ([]string, error) {
	docs, err := m.vault.Documents()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(docs))
	for i, d := range docs {
		paths[i] = d.Path
	}
	return paths, nil
}

func (m *Manager) dispose(log *slog.Logger, f vault.File) {
	var (
		target string
		err    error
	)
	switch m.cfg.Disposition {
	case DispositionMove:
		folder := m.cfg.MoveFolder
		if folder == "" {
			folder = DefaultMoveFolder
		}
		target, err = m.vault.MoveTo(f.Path, folder)
	default:
		target, err = m.vault.Trash(f.Path)
	}
	if err != nil {
		log.Error("dispose of local file", "error", err)
		return
	}
	log.Debug("disposed of local file", "target", target)
}

// GenerateNewFileName makes name unique in the cloud:
// name_YYYYMMDDTHHMMSS_xxxx.ext, with white space replaced by underscores.
func GenerateNewFileName(name string, now time.Time) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
	ts := now.UTC().Format("20060102T150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]

	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name + "_" + ts + "_" + suffix
	}
	return name[:i] + "_" + ts + "_" + suffix + name[i:]
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
