package server

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gostones/cloudattach/internal/api"
	"github.com/gostones/cloudattach/internal/logger"
)

// memBackend keeps objects in memory and serves the part URLs it signs.
type memBackend struct {
	srv *httptest.Server

	mu      sync.Mutex
	next    int
	keys    map[string]string
	parts   map[string]map[int64][]byte
	objects map[string][]byte
	puts    int
}

func newMemBackend(t *testing.T) *memBackend {
	b := &memBackend{
		keys:    map[string]string{},
		parts:   map[string]map[int64][]byte{},
		objects: map[string][]byte{},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.servePart))
	t.Cleanup(b.srv.Close)
	return b
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (b *memBackend) servePart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	n, _ := strconv.ParseInt(segs[1], 10, 64)
	data, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	defer b.mu.Unlock()
	parts, ok := b.parts[segs[0]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	parts[n] = data
	b.puts++
	w.Header().Set("ETag", etag(data))
}

func (b *memBackend) CreateMultipart(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := fmt.Sprintf("mp-%d", b.next)
	b.keys[id] = key
	b.parts[id] = map[int64][]byte{}
	return id, nil
}

func (b *memBackend) PartURL(_ context.Context, _, multipartID string, n int64) (string, error) {
	return fmt.Sprintf("%s/%s/%d", b.srv.URL, multipartID, n), nil
}

func (b *memBackend) CompleteMultipart(_ context.Context, key, multipartID string, parts []Part) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf bytes.Buffer
	for _, p := range parts {
		data, ok := b.parts[multipartID][p.Number]
		if !ok || etag(data) != p.ETag {
			return fmt.Errorf("part %d does not match", p.Number)
		}
		buf.Write(data)
	}
	b.objects[key] = buf.Bytes()
	delete(b.parts, multipartID)
	return nil
}

func (b *memBackend) PutObject(_ context.Context, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte{}, body...)
	return nil
}

func (b *memBackend) object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

func (b *memBackend) partPuts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

type testEnv struct {
	store   *Store
	server  *Server
	http    *httptest.Server
	backend *memBackend
}

func testOptions() Options {
	return Options{
		PartSize: 5,
		Account: Account{
			AccessToken:  "access",
			RefreshToken: "refresh",
			UserType:     "basic",
			FolderName:   "notes",
			FolderID:     "f1",
		},
	}
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	store, err := OpenStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend := newMemBackend(t)
	srv, err := New(opts, store, backend, logger.Discard())
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{store: store, server: srv, http: hs, backend: backend}
}

func (e *testEnv) client(access string, opts ...api.Option) *api.Client {
	opts = append([]api.Option{api.WithLogger(logger.Discard())}, opts...)
	return api.New(e.http.URL+"/api", access, "refresh", opts...)
}

func putPart(t *testing.T, url string, body []byte) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return resp.Header.Get("ETag")
}
