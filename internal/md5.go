package internal

import (
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"
)

// FingerprintWindow is the number of bytes fed to the hash per step.
const FingerprintWindow int64 = 64 * 1024 * 1024

// Fingerprint computes the MD5 message digest of r and returns it hex encoded.
// The input is consumed in windows of the given size so the whole content is
// never held in memory; progress, if not nil, is called after every window
// with the number of bytes hashed so far.
func Fingerprint(r io.Reader, window int64, progress func(done int64)) (string, error) {
	if window <= 0 {
		window = FingerprintWindow
	}
	h := md5.New()
	var done int64
	for {
		n, err := io.CopyN(h, r, window)
		done += n
		if n > 0 && progress != nil {
			progress(done)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintFile computes the checksum of the named file on fs.
func FingerprintFile(fs afero.Fs, name string, window int64, progress func(done int64)) (string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return Fingerprint(f, window, progress)
}
