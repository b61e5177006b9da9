// Package rewrite replaces embeds of uploaded attachments in documents with
// links to their remote copies.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gostones/cloudattach/internal/lock"
	"github.com/gostones/cloudattach/internal/vault"
)

var imageExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "webp": true,
	"svg": true, "gif": true, "bmp": true, "tiff": true,
}

// Documents is the store whose documents are rewritten in place. Update
// passes the content of path to fn and saves the result if it differs.
type Documents interface {
	Update(path string, fn func(content string) string) (bool, error)
}

// Ref is an uploaded attachment as referenced from documents.
type Ref struct {
	// Name is the file name the documents embed.
	Name string
	Ext  string
	URL  string
}

// Link returns the markup that replaces embeds of the attachment.
func (r Ref) Link() string {
	prefix := ""
	if imageExts[strings.ToLower(r.Ext)] {
		prefix = "!"
	}
	return prefix + "[" + r.Name + "](" + r.URL + ")"
}

// Rewriter updates documents under a per attachment name lock, so that
// uploads of files sharing a name never interleave their edits of a
// document while differently named files are rewritten concurrently.
type Rewriter struct {
	docs  Documents
	locks *lock.Keyed
	log   *slog.Logger
}

func New(docs Documents, log *slog.Logger) *Rewriter {
	if log == nil {
		log = slog.Default()
	}
	return &Rewriter{
		docs:  docs,
		locks: lock.NewKeyed(),
		log:   log,
	}
}

// Primary rewrites the documents among docs that embed ref.Name by exactly
// that link. It reports whether any document changed.
func (w *Rewriter) Primary(ctx context.Context, docs []string, ref Ref) (bool, error) {
	return w.rewrite(ctx, docs, ref, true)
}

// Secondary rewrites every embed of ref in docs, whatever path the link
// was written with.
func (w *Rewriter) Secondary(ctx context.Context, docs []string, ref Ref) (bool, error) {
	return w.rewrite(ctx, docs, ref, false)
}

func (w *Rewriter) rewrite(ctx context.Context, docs []string, ref Ref, exact bool) (bool, error) {
	updated := false
	for _, doc := range docs {
		changed, err := w.update(ctx, doc, ref, exact)
		if err != nil {
			return updated, err
		}
		if changed {
			w.log.Debug("rewrote references", "doc", doc, "file", ref.Name)
			updated = true
		}
	}
	return updated, nil
}

func (w *Rewriter) update(ctx context.Context, doc string, ref Ref, exact bool) (bool, error) {
	if err := w.locks.Lock(ctx, ref.Name); err != nil {
		return false, err
	}
	defer w.locks.Unlock(ref.Name)

	changed, err := w.docs.Update(doc, func(content string) string {
		if exact && !vault.References(content, ref.Name) {
			return content
		}
		return Replace(content, ref)
	})
	if err != nil {
		return false, fmt.Errorf("rewrite %s: %w", doc, err)
	}
	return changed, nil
}

// Replace substitutes the wiki embeds and local markdown embeds of ref in
// content with ref.Link().
func Replace(content string, ref Ref) string {
	link := ref.Link()

	wiki := regexp.MustCompile(`!?\[\[([^\[\]|]*?/)?` + regexp.QuoteMeta(ref.Name) + `\s*?(\|[^\]]*?)?\]\]`)
	content = wiki.ReplaceAllLiteralString(content, link)

	md := regexp.MustCompile(`!?\[[^\]]*\]\(([^()\s]*?/)?` + regexp.QuoteMeta(encodeComponent(ref.Name)) + `\s*?(\|[^)]*?)?\)`)
	return md.ReplaceAllStringFunc(content, func(m string) string {
		target := m[strings.Index(m, "](")+2:]
		if strings.HasPrefix(target, "http") {
			return m
		}
		return link
	})
}
