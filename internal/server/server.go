// Package server is a reference control plane for the attachment upload
// protocol. It negotiates resumable sessions, hands out presigned part URLs
// and keeps the authoritative upload state in badger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gostones/cloudattach/internal/lock"
	"github.com/gostones/cloudattach/internal/types"
)

// Error codes returned in the response envelope besides the ones the
// client reacts to.
const (
	CodeBadRequest     = 4000
	CodeIncomplete     = 4001
	CodeUnknownUpload  = 4004
	CodeUnexpectedPart = 4009
	CodeBadRefresh     = 6002
	CodeInternal       = 5000
)

// Account is the single account served.
type Account struct {
	AccessToken  string
	RefreshToken string
	UserType     string
	FolderName   string
	FolderID     string
}

type Options struct {
	PartSize int64
	// StorageLimit caps the bytes stored for the account, 0 disables it.
	StorageLimit int64
	// PerFileLimit caps a single file, 0 disables it.
	PerFileLimit int64
	Account      Account
}

type Server struct {
	opts     Options
	store    *Store
	backend  Backend
	registry *prometheus.Registry
	metrics  *Metrics
	log      *slog.Logger

	// content/<hash>/<size> serializes init_upload for the same content,
	// session/<id> serializes the steps of one session.
	locks *lock.Keyed

	mu          sync.RWMutex
	accessToken string
}

func New(opts Options, store *Store, backend Backend, log *slog.Logger) (*Server, error) {
	if opts.PartSize <= 0 {
		return nil, fmt.Errorf("part size must be positive")
	}
	if log == nil {
		log = slog.Default()
	}
	tok, err := store.AccessToken()
	if err != nil {
		return nil, fmt.Errorf("load access token: %w", err)
	}
	if tok == "" {
		tok = opts.Account.AccessToken
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		opts:        opts,
		store:       store,
		backend:     backend,
		registry:    reg,
		metrics:     NewMetrics(reg),
		log:         log,
		locks:       lock.NewKeyed(),
		accessToken: tok,
	}
	usage, err := store.Usage()
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	s.metrics.stored(usage)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/init_upload", s.endpoint("init_upload", true, s.initUpload)).Methods(http.MethodPost)
	api.HandleFunc("/upload_part", s.endpoint("upload_part", true, s.uploadPart)).Methods(http.MethodPost)
	api.HandleFunc("/complete_upload", s.endpoint("complete_upload", true, s.completeUpload)).Methods(http.MethodPost)
	api.HandleFunc("/get_user_simple_info", s.endpoint("get_user_simple_info", true, s.userInfo)).Methods(http.MethodPost)
	api.HandleFunc("/refresh_access_token", s.endpoint("refresh_access_token", false, s.refreshAccessToken)).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok")
	})
	return r
}

// codedError is reported to the client in the envelope.
type codedError struct {
	Code    int
	Message string
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func errorf(code int, format string, args ...any) error {
	return &codedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type handlerFunc func(r *http.Request) (any, error)

func (s *Server) endpoint(name string, auth bool, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var (
			detail any
			err    error
		)
		if auth && bearer(r) != s.currentToken() {
			err = errorf(types.CodeTokenExpired, "access token expired")
		} else {
			detail, err = fn(r)
		}

		status, code := http.StatusOK, types.CodeOK
		if err != nil {
			var ce *codedError
			if errors.As(err, &ce) {
				code = ce.Code
				detail = types.Status{ErrorCode: ce.Code, ErrorMessage: ce.Message}
				s.log.Debug("request rejected", "endpoint", name, "code", ce.Code, "error", ce.Message)
			} else {
				status, code = http.StatusInternalServerError, CodeInternal
				detail = types.Status{ErrorCode: CodeInternal, ErrorMessage: "internal error"}
				s.log.Error("request failed", "endpoint", name, "error", err)
			}
		}
		s.metrics.observe(name, code, time.Since(start))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"detail": detail})
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errorf(CodeBadRequest, "malformed request: %v", err)
	}
	return nil
}

func (s *Server) currentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *Server) refreshAccessToken(r *http.Request) (any, error) {
	if bearer(r) != s.opts.Account.RefreshToken {
		return nil, errorf(CodeBadRefresh, "invalid refresh token")
	}
	tok := uuid.NewString()
	if err := s.store.SetAccessToken(tok); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.accessToken = tok
	s.mu.Unlock()
	s.log.Info("access token refreshed")
	return types.RefreshTokenResponse{AccessToken: tok}, nil
}

func (s *Server) userInfo(r *http.Request) (any, error) {
	var req types.UserInfoRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	s.log.Debug("user info", "storage_type", req.StorageType, "version", req.Version)
	return types.UserInfoResponse{
		UserType:   s.opts.Account.UserType,
		FolderName: s.opts.Account.FolderName,
		IsVerified: true,
	}, nil
}

func (s *Server) withLock(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if err := s.locks.Lock(ctx, key); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(key)
	return fn()
}
