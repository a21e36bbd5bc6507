package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(url string) *Storage {
	s := New(url, "service-key", "exports")
	s.baseDelay = time.Millisecond
	return s
}

func TestUploadRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/storage/v1/object/exports/a/b.mp4", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "video", string(body))

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestStorage(srv.URL).Upload(context.Background(), "a/b.mp4", []byte("video"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUploadStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestStorage(srv.URL).Upload(context.Background(), "x.mp4", []byte("v"), "video/mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestStorage(srv.URL).Upload(context.Background(), "x.mp4", []byte("v"), "video/mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 5 attempts")
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/exports/out.mp4", r.URL.Path)
		w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	data, err := newTestStorage(srv.URL).Download(context.Background(), "out.mp4")
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))
}

func TestGetSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/sign/exports/out.mp4", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"expiresIn":3600}`, string(body))
		w.Write([]byte(`{"signedURL":"/object/sign/exports/out.mp4?token=abc"}`))
	}))
	defer srv.Close()

	url, err := newTestStorage(srv.URL).GetSignedURL(context.Background(), "out.mp4", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/sign/exports/out.mp4?token=abc", url)
}

func TestPaths(t *testing.T) {
	s := New("https://x.supabase.co/", "k", "exports")
	assert.Equal(t, "https://x.supabase.co/storage/v1/object/public/exports/a.mp4", s.GetPublicURL("a.mp4"))

	id := uuid.MustParse("7f0c6a4e-1f6b-4c53-9d0b-0c0d3f7a1e22")
	assert.Equal(t, "exports/7f0c6a4e-1f6b-4c53-9d0b-0c0d3f7a1e22.mp4", ExportPath(id))
}

func TestRetryDelayCapped(t *testing.T) {
	s := New("http://x", "k", "b")
	d := s.retryDelay(20)
	assert.GreaterOrEqual(t, d, maxRetryDelay)
	assert.LessOrEqual(t, d, maxRetryDelay*5/4)
}
