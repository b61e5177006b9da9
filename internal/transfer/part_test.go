package transfer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gostones/cloudattach/internal/retry"
)

var fastRetry = WithRetry(retry.Policy{Attempts: 3, Base: time.Millisecond})

func TestPutReturnsETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "chunk", string(body))
		w.Header()["etag"] = []string{`"abc"`}
	}))
	defer srv.Close()

	u := NewPartUploader(fastRetry)
	etag, err := u.Put(context.Background(), srv.URL+"/part?n=1", 1, []byte("chunk"))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, etag)
}

func TestPutRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "same bytes", string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("ETag", "e3")
	}))
	defer srv.Close()

	u := NewPartUploader(fastRetry)
	etag, err := u.Put(context.Background(), srv.URL, 2, []byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, "e3", etag)
	assert.EqualValues(t, 3, calls.Load())
}

func TestPutMissingETag(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := NewPartUploader(fastRetry)
	_, err := u.Put(context.Background(), srv.URL, 1, []byte("x"))
	assert.ErrorIs(t, err, ErrMissingETag)
	assert.EqualValues(t, 3, calls.Load())
}

func TestPutStatusError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("ETag", "ignored")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	u := NewPartUploader(fastRetry)
	_, err := u.Put(context.Background(), srv.URL, 1, []byte("x"))
	assert.ErrorContains(t, err, "403")
	assert.EqualValues(t, 3, calls.Load())
}

func TestPutCanceled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := NewPartUploader(WithRetry(retry.Policy{Attempts: 3, Base: time.Hour}))
	_, err := u.Put(ctx, srv.URL, 1, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
