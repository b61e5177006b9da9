package vault

import (
	"strings"
)

// RegisterMaxFileSize caps uploads of accounts on the register tier.
const RegisterMaxFileSize int64 = 5 * 1024 * 1024

// UserTypeRegister is the entry level account tier.
const UserTypeRegister = "register"

type FilterMode string

const (
	Allowlist FilterMode = "allowlist"
	Denylist  FilterMode = "denylist"
)

// Filter decides which attachments may be uploaded.
type Filter struct {
	UserType        string
	Mode            FilterMode
	Extensions      string // comma separated
	MaxFileSize     int64  // 0 disables the check
	AutoMaxFileSize int64  // applies to automatic uploads only, 0 disables
}

// Allow reports whether f passes the filter. auto marks uploads that were
// not requested explicitly.
func (flt Filter) Allow(f File, auto bool) bool {
	if auto && flt.AutoMaxFileSize > 0 && f.Size > flt.AutoMaxFileSize {
		return false
	}
	switch flt.UserType {
	case "":
		// account unknown
		return false
	case UserTypeRegister:
		return f.Size <= RegisterMaxFileSize
	}

	if flt.MaxFileSize > 0 && f.Size > flt.MaxFileSize {
		return false
	}
	exts := flt.extensions()
	switch flt.Mode {
	case Allowlist:
		return exts[f.Ext]
	case Denylist:
		if f.Ext == "" {
			return true
		}
		return !exts[f.Ext]
	}
	return true
}

func (flt Filter) extensions() map[string]bool {
	m := map[string]bool{}
	for _, e := range strings.Split(flt.Extensions, ",") {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			m[e] = true
		}
	}
	return m
}
