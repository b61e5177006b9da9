package app

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gostones/cloudattach/internal/vault"
)

// DefaultSettleDelay lets editors finish writing a document before its
// attachments are looked up.
const DefaultSettleDelay = time.Second

// Watch uploads the new attachments of documents created or modified below
// the vault root until ctx is done. Events for one document closer than
// delay to each other trigger a single upload.
func (a *App) Watch(ctx context.Context, delay time.Duration) error {
	// pending timers and uploads end with the watcher, however it stops
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	root, err := filepath.Abs(a.cfg.Vault.Root)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := watchTree(w, root); err != nil {
		return err
	}
	a.log.Info("watching vault", "root", root)

	var (
		wg      sync.WaitGroup
		pending = map[string]*time.Timer{}
		settled = make(chan string)
	)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil || hidden(rel) {
				continue
			}
			if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
				if err := watchTree(w, ev.Name); err != nil {
					a.log.Warn("watch folder", "folder", rel, "error", err)
				}
				continue
			}
			doc := filepath.ToSlash(rel)
			if vault.Ext(doc) != "md" {
				continue
			}
			if t, ok := pending[doc]; ok {
				t.Reset(delay)
				continue
			}
			pending[doc] = time.AfterFunc(delay, func() {
				select {
				case settled <- doc:
				case <-ctx.Done():
				}
			})

		case doc := <-settled:
			delete(pending, doc)
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.autoUpload(ctx, doc)
			}()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("watcher error", "error", err)
		}
	}
}

func (a *App) autoUpload(ctx context.Context, doc string) {
	if _, err := a.AutoUpload(ctx, doc); err != nil {
		a.log.Warn("auto upload", "doc", doc, "error", err)
		// connection problems are reported once per process
		a.remind.Do(func() { a.notifier.Error(Message(err)) })
	}
}

func watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// hidden reports whether rel lies below a dot directory such as .trash.
func hidden(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}
	return false
}
