package vault

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	wikiEmbed     = regexp.MustCompile(`!\[\[([^\]|#^]+)(?:[#^][^\]|]*)?(?:\|[^\]]*)?\]\]`)
	markdownEmbed = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?([^)<>]+?)>?(?:\s+"[^"]*")?\s*\)`)
)

// Embeds returns the link targets of the files embedded in content, in
// order of appearance. Links to web resources are not included.
func Embeds(content string) []string {
	type hit struct {
		at   int
		link string
	}
	var hits []hit
	for _, m := range wikiEmbed.FindAllStringSubmatchIndex(content, -1) {
		link := strings.TrimSpace(content[m[2]:m[3]])
		if link != "" {
			hits = append(hits, hit{m[0], link})
		}
	}
	for _, m := range markdownEmbed.FindAllStringSubmatchIndex(content, -1) {
		link := strings.TrimSpace(content[m[2]:m[3]])
		if link == "" || isRemote(link) {
			continue
		}
		if u, err := url.PathUnescape(link); err == nil {
			link = u
		}
		hits = append(hits, hit{m[0], link})
	}

	// merge both kinds back into document order
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].at < hits[j-1].at; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	links := make([]string, len(hits))
	for i, h := range hits {
		links[i] = h.link
	}
	return links
}

func isRemote(link string) bool {
	l := strings.ToLower(link)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "data:")
}

// Embeds reads doc and returns its embed links.
func (v *Vault) Embeds(doc string) ([]string, error) {
	content, err := v.Read(doc)
	if err != nil {
		return nil, err
	}
	return Embeds(content), nil
}

// Resolve finds the file a link written in document from points to. The
// link is tried as a vault path, then relative to the document, then as a
// path suffix anywhere in the vault, nearest to the document first. A link
// without an extension may name a document.
func (v *Vault) Resolve(link, from string) (File, bool) {
	link = Clean(link)
	if link == "" {
		return File{}, false
	}
	candidates := []string{link}
	if path.Ext(link) == "" {
		candidates = append(candidates, link+"."+documentExt)
	}

	dir := path.Dir(Clean(from))
	for _, c := range candidates {
		if f, err := v.Stat(c); err == nil {
			return f, true
		}
		if dir != "." {
			if f, err := v.Stat(path.Join(dir, c)); err == nil {
				return f, true
			}
		}
	}

	var best File
	found := false
	_ = v.walk("", true, func(f File) {
		for _, c := range candidates {
			if f.Path != c && !strings.HasSuffix(f.Path, "/"+c) {
				continue
			}
			if !found || closer(f.Path, best.Path, dir) {
				best, found = f, true
			}
		}
	})
	return best, found
}

// closer reports whether a is a better match than b for a link written in dir.
func closer(a, b, dir string) bool {
	aa, bb := inDir(a, dir), inDir(b, dir)
	if aa != bb {
		return aa
	}
	if da, db := strings.Count(a, "/"), strings.Count(b, "/"); da != db {
		return da < db
	}
	return a < b
}

func inDir(p, dir string) bool {
	return dir != "." && strings.HasPrefix(p, dir+"/")
}

// Attachments resolves the embeds of doc to vault files, skipping
// documents, unresolved links and duplicates.
func (v *Vault) Attachments(doc string) ([]File, error) {
	links, err := v.Embeds(doc)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var files []File
	for _, link := range links {
		f, ok := v.Resolve(link, doc)
		if !ok {
			v.log.Debug("unresolved embed", "doc", doc, "link", link)
			continue
		}
		if f.IsDocument() || seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		files = append(files, f)
	}
	return files, nil
}

// References reports whether content embeds a file by exactly this link.
func References(content, link string) bool {
	for _, l := range Embeds(content) {
		if l == link {
			return true
		}
	}
	return false
}
