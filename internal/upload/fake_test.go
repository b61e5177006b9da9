package upload

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/gostones/cloudattach/internal/api"
	"github.com/gostones/cloudattach/internal/notice"
	"github.com/gostones/cloudattach/internal/retry"
	"github.com/gostones/cloudattach/internal/rewrite"
	"github.com/gostones/cloudattach/internal/transfer"
	"github.com/gostones/cloudattach/internal/types"
	"github.com/gostones/cloudattach/internal/vault"
)

type fakeSession struct {
	id       string
	hash     string
	name     string
	size     int64
	part     int64
	uploaded int64
	data     []byte
}

// fakeCloud is an in-memory control plane that also serves the part URLs
// it hands out.
type fakeCloud struct {
	srv *httptest.Server

	mu       sync.Mutex
	partSize int64
	status   string        // forced init_upload status
	initErr  *types.Status // forced init_upload error
	stall    bool          // upload_part does not advance
	putFn    func(part int64, attempt int) (int, bool)
	sessions map[string]*fakeSession
	done     map[string]types.Object
	attempts map[string]int
	calls    map[string]int
	stored   map[string][]byte
}

func newFakeCloud(t *testing.T, partSize int64) *fakeCloud {
	c := &fakeCloud{
		partSize: partSize,
		sessions: map[string]*fakeSession{},
		done:     map[string]types.Object{},
		attempts: map[string]int{},
		calls:    map[string]int{},
		stored:   map[string][]byte{},
	}
	c.srv = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *fakeCloud) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *fakeCloud) partURL(s *fakeSession) string {
	return fmt.Sprintf("%s/part/%s/%d", c.srv.URL, s.id, s.part)
}

func (c *fakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/part/") {
		c.calls["put"]++
		c.servePart(w, r)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	name := strings.TrimPrefix(r.URL.Path, "/api/")
	c.calls[name]++

	var detail any
	switch name {
	case "init_upload":
		detail = c.initUpload(body)
	case "upload_part":
		detail = c.uploadPart(body)
	case "complete_upload":
		detail = c.completeUpload(body)
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"detail": detail})
}

func (c *fakeCloud) initUpload(body map[string]any) any {
	if c.initErr != nil {
		return c.initErr
	}
	if c.status != "" {
		return map[string]any{"error_code": 0, "upload_status": c.status}
	}
	hash, name := body["file_hash"].(string), body["file_name"].(string)
	size := int64(body["total_bytes"].(float64))
	if obj, ok := c.done[hash]; ok {
		return types.InitUploadResponse{UploadStatus: types.StatusCompleted, Object: obj}
	}
	var s *fakeSession
	for _, existing := range c.sessions {
		if existing.hash == hash && existing.name == name && existing.size == size {
			s = existing
		}
	}
	if s == nil {
		s = &fakeSession{id: "u" + strconv.Itoa(len(c.sessions)+1), hash: hash, name: name, size: size, part: 1}
		c.sessions[s.id] = s
	}
	return types.InitUploadResponse{
		UploadStatus:  types.StatusUploading,
		UploadID:      s.id,
		PartNumber:    s.part,
		URL:           c.partURL(s),
		PartSize:      c.partSize,
		UploadedBytes: s.uploaded,
	}
}

func (c *fakeCloud) servePart(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/part/"), "/")
	s := c.sessions[parts[0]]
	part, _ := strconv.ParseInt(parts[1], 10, 64)
	data, _ := io.ReadAll(r.Body)

	c.attempts[r.URL.Path]++
	status, withETag := http.StatusOK, true
	if c.putFn != nil {
		status, withETag = c.putFn(part, c.attempts[r.URL.Path])
	}
	if status/100 == 2 && withETag {
		c.stored[fmt.Sprintf("%s/%d", s.id, part)] = data
		w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, part))
	}
	w.WriteHeader(status)
}

func (c *fakeCloud) uploadPart(body map[string]any) any {
	s := c.sessions[body["upload_id"].(string)]
	part := int64(body["part_number"].(float64))
	if part != s.part || body["etag"] != fmt.Sprintf(`"etag-%d"`, part) {
		return types.Status{ErrorCode: 4000, ErrorMessage: "unexpected part"}
	}
	if !c.stall {
		s.data = append(s.data, c.stored[fmt.Sprintf("%s/%d", s.id, part)]...)
		s.uploaded = int64(body["uploaded_bytes"].(float64))
		s.part++
	}
	return types.UploadPartResponse{PartNumber: s.part, URL: c.partURL(s), UploadedBytes: s.uploaded}
}

func (c *fakeCloud) completeUpload(body map[string]any) any {
	s := c.sessions[body["upload_id"].(string)]
	if s.uploaded != s.size {
		return types.Status{ErrorCode: 4001, ErrorMessage: "incomplete"}
	}
	obj := types.Object{FolderID: "folder-1", FileKey: s.name, PublicCode: "pub", PrivateCode: "priv"}
	c.done[s.hash] = obj
	return types.CompleteUploadResponse{Object: obj}
}

func (c *fakeCloud) data(name string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s.name == name {
			return s.data
		}
	}
	return nil
}

// recorder collects notices.
type recorder struct {
	mu      sync.Mutex
	notices []string
	errors  []string
	bars    int
	updates []int
	hidden  int
}

func (r *recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, msg)
}

func (r *recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recorder) Progress(string) notice.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars++
	return &recordedProgress{r}
}

func (r *recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

type recordedProgress struct {
	r *recorder
}

func (p *recordedProgress) Update(percent int, _ string) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.r.updates = append(p.r.updates, percent)
}

func (p *recordedProgress) Hide() {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.r.hidden++
}

type env struct {
	fs      afero.Fs
	vault   *vault.Vault
	cloud   *fakeCloud
	notices *recorder
	manager *Manager
}

var fastRetry = retry.Policy{Attempts: 3, Base: time.Millisecond}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Stagger = time.Millisecond
	cfg.FileRetry = fastRetry
	return cfg
}

func newEnv(t *testing.T, files map[string]string, cfgs ...func(*Config)) *env {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0o644))
	}
	clock := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	v := vault.New(fs, vault.WithClock(clock))

	cloud := newFakeCloud(t, 50)
	client := api.New(cloud.srv.URL+"/api", "access", "refresh")
	parts := transfer.NewPartUploader(transfer.WithRetry(fastRetry))
	rec := &recorder{}
	engine := NewSessionEngine(fs, client, parts, rec, nil)

	cfg := testConfig()
	for _, fn := range cfgs {
		fn(&cfg)
	}
	m := NewManager(cfg, engine, v, rewrite.Linker{LinkURL: "https://link.test"}, rec, nil)
	return &env{fs: fs, vault: v, cloud: cloud, notices: rec, manager: m}
}

func (e *env) file(t *testing.T, p string) vault.File {
	t.Helper()
	f, err := e.vault.Stat(p)
	require.NoError(t, err)
	return f
}
