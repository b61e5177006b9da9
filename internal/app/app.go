// Package app runs upload batches for the command line client: it connects
// to the account, picks the upload engine and applies the attachment filter.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gostones/cloudattach/internal/api"
	"github.com/gostones/cloudattach/internal/config"
	"github.com/gostones/cloudattach/internal/notice"
	"github.com/gostones/cloudattach/internal/transfer"
	"github.com/gostones/cloudattach/internal/upload"
	"github.com/gostones/cloudattach/internal/vault"
)

var (
	// ErrNotLoggedIn is returned when no refresh token is configured.
	ErrNotLoggedIn = errors.New("please log in first")
	// ErrOffline is returned when the account could not be reached.
	ErrOffline = errors.New("network error, please check your internet connection")
	// ErrNoFolders is returned by UploadFolders without monitored folders.
	ErrNoFolders = errors.New("no monitored folders found, please add monitored folders first")
)

// Message returns the text shown to the user for err.
func Message(err error) string {
	var policy *api.PolicyError
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return "Please log in first."
	case errors.Is(err, ErrOffline):
		return "Network error. Please check your internet connection."
	case errors.Is(err, ErrNoFolders):
		return "No monitored folders found.Please add monitored folders first."
	case errors.Is(err, upload.ErrBatchInProgress):
		return "Please wait for the previous upload to finish."
	case errors.As(err, &policy):
		return policy.Message
	}
	return err.Error()
}

// App holds what one client process needs to run batches.
type App struct {
	cfg      *config.Config
	vault    *vault.Vault
	api      *api.Client
	notifier notice.Notifier
	out      io.Writer
	log      *slog.Logger

	// per batch, refreshed by connect
	mu       sync.Mutex
	filter   vault.Filter
	manager  *upload.Manager
	userType string

	engine func(info Account) (upload.Engine, error)
	remind sync.Once
}

// Account is what the control plane reports about the user.
type Account struct {
	UserType   string
	FolderName string
	Verified   bool
}

type Option func(*App)

// WithAPIOptions passes options to the control plane client.
func WithAPIOptions(opts ...api.Option) Option {
	return func(a *App) {
		a.api = newAPI(a.cfg, a.log, opts...)
	}
}

// WithEngine replaces engine selection, mainly for tests.
func WithEngine(fn func(info Account) (upload.Engine, error)) Option {
	return func(a *App) { a.engine = fn }
}

func newAPI(cfg *config.Config, log *slog.Logger, opts ...api.Option) *api.Client {
	base := []api.Option{api.WithLogger(log)}
	if path := cfg.File(); path != "" {
		base = append(base, api.WithTokenSaver(func(tok string) error {
			return config.SaveAccessToken(path, tok)
		}))
	}
	return api.New(cfg.Account.APIURL, cfg.Account.AccessToken, cfg.Account.RefreshToken, append(base, opts...)...)
}

// New returns an App. Summaries are printed to out.
func New(cfg *config.Config, v *vault.Vault, n notice.Notifier, out io.Writer, log *slog.Logger, opts ...Option) *App {
	if log == nil {
		log = slog.Default()
	}
	a := &App{
		cfg:      cfg,
		vault:    v,
		notifier: n,
		out:      out,
		log:      log,
	}
	a.api = newAPI(cfg, log)
	a.engine = a.defaultEngine
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) defaultEngine(info Account) (upload.Engine, error) {
	topts := []transfer.Option{
		transfer.WithRetry(a.cfg.PartRetry()),
		transfer.WithLogger(a.log),
	}
	if a.cfg.Custom() {
		bucket, err := transfer.NewBucket(a.cfg.Bucket(), topts...)
		if err != nil {
			return nil, err
		}
		return upload.NewDirectEngine(a.vault.Fs(), bucket, info.FolderName), nil
	}
	e := upload.NewSessionEngine(a.vault.Fs(), a.api, transfer.NewPartUploader(topts...), a.notifier, a.log)
	e.SetFingerprintWindow(int64(a.cfg.Upload.FingerprintWindow))
	return e, nil
}

// connect asks the control plane for the account tier and prepares the
// filter and manager of the next batch. The manager survives reconnects so
// that its batch lock keeps holding.
func (a *App) connect(ctx context.Context) error {
	if a.cfg.Account.RefreshToken == "" {
		return ErrNotLoggedIn
	}
	info, err := a.api.UserInfo(ctx, a.cfg.Storage.Kind)
	if err != nil {
		a.log.Warn("get user info", "error", err)
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	acct := Account{UserType: info.UserType, FolderName: info.FolderName, Verified: info.IsVerified}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.manager != nil && a.userType == acct.UserType {
		a.filter = a.cfg.AttachmentFilter(acct.UserType)
		return nil
	}
	engine, err := a.engine(acct)
	if err != nil {
		return err
	}
	a.userType = acct.UserType
	a.filter = a.cfg.AttachmentFilter(acct.UserType)
	a.manager = upload.NewManager(a.cfg.ManagerConfig(acct.UserType), engine, a.vault, a.cfg.Linker(), a.notifier, a.log)
	a.log.Debug("connected", "user_type", acct.UserType, "folder", acct.FolderName, "verified", acct.Verified)
	return nil
}

func (a *App) current() (*upload.Manager, vault.Filter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager, a.filter
}

// Busy reports whether a batch is running.
func (a *App) Busy() bool {
	m, _ := a.current()
	return m != nil && m.Busy()
}

// selectFiles applies the filter, counting rejected files as skipped.
func (a *App) selectFiles(t *upload.Tracker, flt vault.Filter, files []vault.File, auto bool) []vault.File {
	var selected []vault.File
	for _, f := range files {
		if flt.Allow(f, auto) {
			selected = append(selected, f)
			continue
		}
		a.log.Info("skipped by filter", "file", f.Path, "size", f.Size)
		a.notifier.Notify(fmt.Sprintf("Skipping file %s,Please check your file size or other settings.", f.Path))
		t.Skip()
	}
	return selected
}

// Summary is the line printed after every batch.
func Summary(s upload.Stats) string {
	return fmt.Sprintf("Upload complete: %d successful, %d failed, %d skipped", s.Succeeded, s.Failed, s.Skipped)
}

func (a *App) report(t *upload.Tracker) upload.Stats {
	s := t.Stats()
	fmt.Fprintln(a.out, Summary(s))
	return s
}

// UploadDocument uploads the attachments embedded in doc.
func (a *App) UploadDocument(ctx context.Context, doc string) (upload.Stats, error) {
	doc = vault.Clean(doc)
	if err := a.connect(ctx); err != nil {
		return upload.Stats{}, err
	}
	files, err := a.vault.Attachments(doc)
	if err != nil {
		return upload.Stats{}, err
	}
	m, flt := a.current()
	t := upload.NewTracker(a.notifier)
	if _, err := m.UploadFiles(ctx, t, a.selectFiles(t, flt, files, false), doc); err != nil {
		return t.Stats(), err
	}
	return a.report(t), nil
}

// UploadFolders uploads every attachment stored in the monitored folders,
// one folder at a time.
func (a *App) UploadFolders(ctx context.Context) (upload.Stats, error) {
	if len(a.cfg.Vault.MonitoredFolders) == 0 {
		return upload.Stats{}, ErrNoFolders
	}
	if err := a.connect(ctx); err != nil {
		return upload.Stats{}, err
	}
	m, flt := a.current()
	t := upload.NewTracker(a.notifier)

	seen := map[string]bool{}
	for _, dir := range a.cfg.Vault.MonitoredFolders {
		files, err := a.vault.Folder(dir, a.cfg.Vault.MonitorSubfolders)
		if err != nil {
			a.log.Warn("scan folder", "folder", dir, "error", err)
			continue
		}
		var fresh []vault.File
		for _, f := range files {
			if !seen[f.Path] {
				seen[f.Path] = true
				fresh = append(fresh, f)
			}
		}
		a.log.Info("scanning folder", "folder", dir, "files", len(fresh))
		if _, err := m.UploadFiles(ctx, t, a.selectFiles(t, flt, fresh, false), ""); err != nil {
			return t.Stats(), err
		}
	}
	return a.report(t), nil
}

// AutoUpload uploads the attachments of a document that was created or
// changed. It does nothing while another batch runs.
func (a *App) AutoUpload(ctx context.Context, doc string) (upload.Stats, error) {
	if !a.cfg.Upload.Auto || a.Busy() {
		return upload.Stats{}, nil
	}
	doc = vault.Clean(doc)
	files, err := a.vault.Attachments(doc)
	if err != nil || len(files) == 0 {
		return upload.Stats{}, err
	}
	if err := a.connect(ctx); err != nil {
		return upload.Stats{}, err
	}
	m, flt := a.current()
	t := upload.NewTracker(a.notifier)
	if _, err := m.UploadFiles(ctx, t, a.selectFiles(t, flt, files, true), doc); err != nil {
		if errors.Is(err, upload.ErrBatchInProgress) {
			return upload.Stats{}, nil
		}
		return t.Stats(), err
	}
	return a.report(t), nil
}

// CheckBucket verifies the custom bucket settings.
func (a *App) CheckBucket(ctx context.Context) error {
	if !a.cfg.Custom() {
		return fmt.Errorf("storage kind is %q, not %q", a.cfg.Storage.Kind, config.StorageCustom)
	}
	bucket, err := transfer.NewBucket(a.cfg.Bucket(), transfer.WithLogger(a.log))
	if err != nil {
		return err
	}
	return bucket.Check(ctx)
}
