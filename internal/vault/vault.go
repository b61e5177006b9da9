// Package vault is the document store that attachments are uploaded from:
// a directory tree of markdown documents and the files they embed.
package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/gostones/cloudattach/internal/lock"
)

const (
	// TrashDir holds files removed from the vault.
	TrashDir = ".trash"

	documentExt = "md"
)

// File is a read-only view of a vault file. Path is relative to the vault
// root, uses forward slashes and identifies the file.
type File struct {
	Path string
	Name string
	Ext  string // lower case, without the dot
	Size int64
}

func (f File) IsDocument() bool {
	return f.Ext == documentExt
}

// Vault gives access to the files below a root directory.
type Vault struct {
	fs    afero.Fs
	now   func() time.Time
	log   *slog.Logger
	edits *lock.Keyed
}

type Option func(*Vault)

// WithClock sets the time source used for collision suffixes.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.log = l }
}

// New returns a vault over fsys, whose root is the vault root.
func New(fsys afero.Fs, opts ...Option) *Vault {
	v := &Vault{
		fs:    fsys,
		now:   time.Now,
		log:   slog.Default(),
		edits: lock.NewKeyed(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open returns a vault rooted at dir on the OS file system.
func Open(dir string, opts ...Option) (*Vault, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), opts...), nil
}

func (v *Vault) Fs() afero.Fs {
	return v.fs
}

// Clean normalizes p to a vault path.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func newFile(p string, fi fs.FileInfo) File {
	return File{
		Path: p,
		Name: fi.Name(),
		Ext:  Ext(fi.Name()),
		Size: fi.Size(),
	}
}

// Ext returns the lower case extension of name without the dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

func (v *Vault) Stat(p string) (File, error) {
	p = Clean(p)
	fi, err := v.fs.Stat(p)
	if err != nil {
		return File{}, err
	}
	if fi.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", p)
	}
	return newFile(p, fi), nil
}

func (v *Vault) Exists(p string) bool {
	ok, err := afero.Exists(v.fs, Clean(p))
	return err == nil && ok
}

func (v *Vault) Read(p string) (string, error) {
	b, err := afero.ReadFile(v.fs, Clean(p))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (v *Vault) Write(p, content string) error {
	return afero.WriteFile(v.fs, Clean(p), []byte(content), 0o644)
}

func (v *Vault) walk(root string, recursive bool, fn func(File)) error {
	root = Clean(root)
	if root == "" {
		root = "."
	}
	return afero.Walk(v.fs, root, func(p string, fi fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		p = Clean(p)
		if fi.IsDir() {
			if p == "." || p == "" || p == Clean(root) {
				return nil
			}
			if !recursive || strings.HasPrefix(fi.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		fn(newFile(p, fi))
		return nil
	})
}

// Documents lists every markdown document in the vault, sorted by path.
func (v *Vault) Documents() ([]File, error) {
	var docs []File
	err := v.walk("", true, func(f File) {
		if f.IsDocument() {
			docs = append(docs, f)
		}
	})
	if err != nil {
		return nil, err
	}
	sortFiles(docs)
	return docs, nil
}

// Folder lists the attachments (files other than documents) in dir, and in
// its subfolders when recursive is set. Hidden folders are never entered.
func (v *Vault) Folder(dir string, recursive bool) ([]File, error) {
	fi, err := v.fs.Stat(Clean(dir))
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a folder", dir)
	}
	var files []File
	err = v.walk(dir, recursive, func(f File) {
		if !f.IsDocument() {
			files = append(files, f)
		}
	})
	if err != nil {
		return nil, err
	}
	sortFiles(files)
	return files, nil
}

func sortFiles(files []File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// Trash moves p into the vault trash folder and returns its new path.
func (v *Vault) Trash(p string) (string, error) {
	return v.MoveTo(p, TrashDir)
}

// MoveTo moves p into folder, creating the folder when missing. A file of
// the same name already in folder is kept and the moved file gets a
// timestamp suffix instead.
func (v *Vault) MoveTo(p, folder string) (string, error) {
	p, folder = Clean(p), Clean(folder)
	if err := v.fs.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", folder, err)
	}

	name := path.Base(p)
	target := path.Join(folder, name)
	if target == p {
		return p, nil
	}
	if v.Exists(target) {
		target = path.Join(folder, v.uniqueName(name))
	}
	if err := v.fs.Rename(p, target); err != nil {
		return "", fmt.Errorf("move %s: %w", p, err)
	}
	v.log.Debug("moved file", "from", p, "to", target)
	return target, nil
}

func (v *Vault) uniqueName(name string) string {
	ts := v.now().Format("20060102150405")
	ext := path.Ext(name)
	if ext == "" || ext == name {
		return name + "_" + ts
	}
	return strings.TrimSuffix(name, ext) + "_" + ts + ext
}

// Update rewrites document p with fn and saves it when the content changed.
// Updates of the same document are applied one after another.
func (v *Vault) Update(p string, fn func(content string) string) (bool, error) {
	p = Clean(p)
	if err := v.edits.Lock(context.Background(), p); err != nil {
		return false, err
	}
	defer v.edits.Unlock(p)

	old, err := v.Read(p)
	if err != nil {
		return false, err
	}
	content := fn(old)
	if content == old {
		return false, nil
	}
	if err := v.Write(p, content); err != nil {
		return false, err
	}
	return true, nil
}
