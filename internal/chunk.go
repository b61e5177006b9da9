package internal

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// FileChunk gives ranged access to a file that is uploaded in parts.
// Part boundaries are decided by the caller (the control plane dictates them),
// so FileChunk only keeps the open handle and a count of the bytes read.
type FileChunk struct {
	fs       afero.Fs
	filename string

	file  afero.File
	name  string
	size  int64   // file size
	count Counter // bytes read
}

func NewFileChunk(fs afero.Fs, filename string) *FileChunk {
	return &FileChunk{
		fs:       fs,
		filename: filename,
	}
}

func (r *FileChunk) Open() error {
	file, err := r.fs.Open(r.filename)
	if err != nil {
		return err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	r.file = file
	r.name = fi.Name()
	r.size = fi.Size()
	return nil
}

func (r *FileChunk) Close() error {
	if r.file == nil {
		return os.ErrInvalid
	}
	return r.file.Close()
}

// Part returns a reader over [off, limit). The limit is clamped to the file size.
func (r *FileChunk) Part(off, limit int64) *ChunkReader {
	if limit > r.size {
		limit = r.size
	}
	return NewChunkReader(r, off, limit)
}

// ReadPart reads the whole [off, limit) range into memory so that it can be
// sent again unchanged when a transfer is retried.
func (r *FileChunk) ReadPart(off, limit int64) ([]byte, error) {
	if off < 0 || off > r.size {
		return nil, fmt.Errorf("part offset %d out of range (size %d)", off, r.size)
	}
	cr := r.Part(off, limit)
	if cr.Size() < 0 {
		return nil, fmt.Errorf("part range [%d, %d) is empty", off, limit)
	}
	buf := make([]byte, cr.Size())
	if _, err := io.ReadFull(cr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *FileChunk) Filename() string {
	return r.filename
}

func (r *FileChunk) Name() string {
	return r.name
}

func (r *FileChunk) Size() int64 {
	return r.size
}

func (r *FileChunk) Count() int64 {
	return r.count.Get()
}

type ChunkReader struct {
	reader *FileChunk
	base   int64
	off    int64
	limit  int64
}

func NewChunkReader(r *FileChunk, off, limit int64) *ChunkReader {
	return &ChunkReader{
		reader: r,
		base:   off,
		off:    off,
		limit:  limit,
	}
}

func (r *ChunkReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if max := r.limit - r.off; int64(len(p)) > max {
		p = p[0:max]
	}
	n, err := r.reader.file.ReadAt(p, r.off)
	r.off += int64(n)
	r.reader.count.Increment(int64(n))
	// ReadAt may report EOF together with the final bytes of the file
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (r *ChunkReader) Size() int64 {
	return r.limit - r.base
}
