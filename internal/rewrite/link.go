package rewrite

import (
	"strings"
)

// Linker builds the public URL of an uploaded object.
type Linker struct {
	// Custom selects the user's own bucket, served below BaseURL.
	Custom  bool
	BaseURL string

	// LinkURL serves objects of the managed storage.
	LinkURL string
	Private bool
}

// Object identifies an uploaded file.
type Object struct {
	Key         string
	FolderID    string
	PublicCode  string
	PrivateCode string
}

func (l Linker) URL(obj Object) string {
	if l.Custom {
		return encodeURI(join(l.BaseURL, obj.Key))
	}
	kind, code := "public", obj.PublicCode
	if l.Private {
		kind, code = "private", obj.PrivateCode
	}
	return encodeURI(join(l.LinkURL, kind, obj.FolderID, code, obj.Key))
}

func join(base string, elems ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(elems, "/")
}

const upperhex = "0123456789ABCDEF"

// encodeURI escapes s the way browsers escape a complete URL: reserved
// characters are kept.
func encodeURI(s string) string {
	return escape(s, "-_.!~*'();,/?:@&=+$#")
}

// encodeComponent escapes s as a single URL component.
func encodeComponent(s string) string {
	return escape(s, "-_.!~*'()")
}

func escape(s, keep string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || strings.IndexByte(keep, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}
