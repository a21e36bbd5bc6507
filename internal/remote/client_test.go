package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/framecast/internal/models"
)

func TestClient_InitSessionUploadsAudio(t *testing.T) {
	sid := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		f, _, err := r.FormFile("audio")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data))
		json.NewEncoder(w).Encode(models.InitSessionResponse{SessionID: sid, PushProgress: true})
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	resp, err := New(srv.URL+"/", "secret").InitSession(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, sid, resp.SessionID)
	assert.True(t, resp.PushProgress)
}

func TestClient_UploadChunkTagsFrames(t *testing.T) {
	var got []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		require.NoError(t, err)
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			idx, err := strconv.Atoi(p.Header.Get(FrameIndexHeader))
			require.NoError(t, err)
			got = append(got, idx)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	frames := []Frame{{Index: 5, Data: []byte{1}}, {Index: 6, Data: []byte{2}}}
	require.NoError(t, New(srv.URL, "").UploadChunk(context.Background(), uuid.New(), frames, "image/jpeg", "jpg"))
	assert.Equal(t, []int{5, 6}, got)
}

func TestClient_StatusErrorCarriesRemoteMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"session already finalized"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "").PutManifest(context.Background(), uuid.New(), nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "manifest", se.Op)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, "session already finalized", se.Message)
}

func TestClient_FinalizeSyncAndAsync(t *testing.T) {
	jobID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.FinalizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Sync {
			w.Header().Set("Content-Type", "video/mp4")
			w.Write([]byte("mp4"))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(models.FinalizeResponse{JobID: jobID})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	res, err := c.Finalize(context.Background(), uuid.New(), models.FinalizeRequest{FPS: 24, TotalFrames: 240, Sync: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4"), res.File)
	assert.Nil(t, res.JobID)

	res, err = c.Finalize(context.Background(), uuid.New(), models.FinalizeRequest{FPS: 24, TotalFrames: 240})
	require.NoError(t, err)
	require.NotNil(t, res.JobID)
	assert.Equal(t, jobID, *res.JobID)
}

func TestClient_SubscribeReadsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteJSON(models.JobEvent{Status: models.JobStatusEncoding, Progress: 40})
		conn.WriteJSON(models.JobEvent{Status: models.JobStatusComplete, Progress: 100})
	}))
	defer srv.Close()

	stream, err := New(srv.URL, "").Subscribe(context.Background(), uuid.New())
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusEncoding, ev.Status)
	ev, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, 100.0, ev.Progress)
}

func TestClient_SubscribeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no push", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Subscribe(context.Background(), uuid.New())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}
