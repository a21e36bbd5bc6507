package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/checksum"
	"github.com/bobarin/framecast/internal/db"
	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
	"github.com/bobarin/framecast/internal/spool"
)

const (
	maxAudioBytes = 512 << 20
	maxChunkBytes = 1 << 30

	signedURLExpiry = time.Hour
)

// Store is the job table as the API uses it. db.DB satisfies it.
type Store interface {
	CreateExportJob(ctx context.Context, job *models.ExportJob) error
	GetExportJobBySession(ctx context.Context, sessionID uuid.UUID) (*models.ExportJob, error)
	GetExportJob(ctx context.Context, jobID uuid.UUID) (*models.ExportJob, error)
	MarkRendering(ctx context.Context, sessionID uuid.UUID) error
	FinalizeExportJob(ctx context.Context, sessionID, jobID uuid.UUID, fps, totalFrames int) error
}

// Queue hands encodes to the workers and streams their events.
// queue.Queue satisfies it.
type Queue interface {
	EnqueueEncode(ctx context.Context, jobID, sessionID uuid.UUID) error
	SubscribeEvents(ctx context.Context, jobID uuid.UUID) (<-chan models.JobEvent, error)
}

// Encoder runs a finalized job inline. worker.Worker satisfies it.
type Encoder interface {
	Encode(ctx context.Context, job *models.ExportJob) (string, error)
}

// URLSigner grants temporary access to persisted results.
type URLSigner interface {
	GetSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error)
}

type Options struct {
	// PushProgress advertises the websocket event stream to clients.
	PushProgress    bool
	ChecksumWorkers int
}

type Handler struct {
	store   Store
	queue   Queue // nil forces synchronous finalize
	spool   *spool.Spool
	encoder Encoder
	signer  URLSigner // nil when results stay on local disk
	opts    Options
	logger  zerolog.Logger
}

func NewHandler(store Store, q Queue, sp *spool.Spool, enc Encoder, signer URLSigner, opts Options) *Handler {
	if opts.ChecksumWorkers < 1 {
		opts.ChecksumWorkers = 4
	}
	return &Handler{
		store:   store,
		queue:   q,
		spool:   sp,
		encoder: enc,
		signer:  signer,
		opts:    opts,
		logger:  logx.Component("api"),
	}
}

// InitSession handles POST /v1/sessions
func (h *Handler) InitSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sessionID := uuid.New()
	audioPath, err := h.spool.Session(sessionID).SaveAudio(header.Filename, file)
	if err != nil {
		h.fail(r, w, http.StatusInternalServerError, "Failed to store audio", err)
		return
	}

	job := &models.ExportJob{
		SessionID: sessionID,
		AudioPath: audioPath,
		Status:    models.JobStatusQueued,
	}
	if err := h.store.CreateExportJob(r.Context(), job); err != nil {
		h.fail(r, w, http.StatusInternalServerError, "Failed to create session", err)
		return
	}

	logger := logx.FromCtx(r.Context(), h.logger)
	logger.Info().Str("session_id", sessionID.String()).Msg("session opened")
	respondJSON(w, http.StatusCreated, models.InitSessionResponse{
		SessionID:    sessionID,
		PushProgress: h.opts.PushProgress && h.queue != nil,
	})
}

// UploadChunk handles POST /v1/sessions/{id}/chunks
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	job, ok := h.openSession(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChunkBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "Expected multipart frames")
		return
	}

	sess := h.spool.Session(job.SessionID)
	received := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "Malformed multipart body")
			return
		}

		index, ext, err := framePartInfo(part.Header.Get("X-Frame-Index"), part.FileName(), part.Header.Get("Content-Type"))
		if err != nil {
			part.Close()
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		err = sess.SaveFrame(index, ext, part)
		part.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		received++
	}

	if received == 0 {
		respondError(w, http.StatusBadRequest, "No frames in chunk")
		return
	}
	if err := h.store.MarkRendering(r.Context(), job.SessionID); err != nil {
		logger := logx.FromCtx(r.Context(), h.logger)
		logger.Warn().Err(err).Msg("failed to mark session rendering")
	}

	respondJSON(w, http.StatusOK, map[string]int{"received": received})
}

// PutManifest handles PUT /v1/sessions/{id}/manifest
func (h *Handler) PutManifest(w http.ResponseWriter, r *http.Request) {
	job, ok := h.openSession(w, r)
	if !ok {
		return
	}

	var req models.ManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	seen := make(map[int]bool, len(req.Frames))
	for _, f := range req.Frames {
		if f.FrameIndex < 0 || seen[f.FrameIndex] {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid manifest entry for frame %d", f.FrameIndex))
			return
		}
		seen[f.FrameIndex] = true
	}

	if err := h.spool.Session(job.SessionID).SaveManifest(req.Frames); err != nil {
		h.fail(r, w, http.StatusInternalServerError, "Failed to store manifest", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Finalize handles POST /v1/sessions/{id}/finalize. Frames are checked
// against the manifest first. Async requests get 202 and a job id; sync
// requests block until the encode is done and receive the video.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	job, ok := h.openSession(w, r)
	if !ok {
		return
	}
	ctx := logx.WithSessionID(r.Context(), job.SessionID.String())
	logger := logx.FromCtx(ctx, h.logger)

	var req models.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.FPS < 1 || req.FPS > 120 || req.TotalFrames < 1 {
		respondError(w, http.StatusBadRequest, "fps must be 1-120 and total_frames positive")
		return
	}

	if err := h.verifyFrames(ctx, job.SessionID, req.TotalFrames); err != nil {
		var merr *checksum.ManifestError
		if errors.As(err, &merr) {
			logger.Warn().Err(err).Msg("manifest verification failed")
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if errors.Is(err, errNoManifest) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.fail(r, w, http.StatusInternalServerError, "Failed to verify frames", err)
		return
	}

	jobID := uuid.New()
	if err := h.store.FinalizeExportJob(ctx, job.SessionID, jobID, req.FPS, req.TotalFrames); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusConflict, "Session already finalized")
			return
		}
		h.fail(r, w, http.StatusInternalServerError, "Failed to finalize session", err)
		return
	}
	job.JobID = &jobID
	job.FPS = req.FPS
	job.TotalFrames = req.TotalFrames
	job.Status = models.JobStatusQueued

	if !req.Sync && h.queue != nil {
		if err := h.queue.EnqueueEncode(ctx, jobID, job.SessionID); err != nil {
			h.fail(r, w, http.StatusInternalServerError, "Failed to queue encode", err)
			return
		}
		logger.Info().Str("job_id", jobID.String()).Int("frames", req.TotalFrames).Msg("encode queued")
		respondJSON(w, http.StatusAccepted, models.FinalizeResponse{JobID: jobID})
		return
	}

	logger.Info().Str("job_id", jobID.String()).Int("frames", req.TotalFrames).Msg("encoding inline")
	if _, err := h.encoder.Encode(ctx, job); err != nil {
		h.fail(r, w, http.StatusInternalServerError, "Encode failed: "+err.Error(), err)
		return
	}
	h.serveLocal(w, r, h.spool.Session(job.SessionID).OutputPath())
}

var errNoManifest = errors.New("checksum manifest required before finalize")

func (h *Handler) verifyFrames(ctx context.Context, sessionID uuid.UUID, totalFrames int) error {
	sess := h.spool.Session(sessionID)
	entries, err := sess.Manifest()
	if err != nil {
		return err
	}
	if entries == nil {
		return errNoManifest
	}
	frames, err := sess.Frames()
	if err != nil {
		return err
	}
	return checksum.VerifyManifest(ctx, checksum.BuildManifest(entries), totalFrames, frames.Indices(), frames.Read, h.opts.ChecksumWorkers)
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// DownloadJob handles GET /v1/jobs/{id}/download
func (h *Handler) DownloadJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status != models.JobStatusComplete || job.ResultHandle == nil {
		respondError(w, http.StatusConflict, fmt.Sprintf("Job is %s", job.Status))
		return
	}

	handle := *job.ResultHandle
	if filepath.IsAbs(handle) {
		h.serveLocal(w, r, handle)
		return
	}
	if h.signer == nil {
		respondError(w, http.StatusInternalServerError, "Result storage not configured")
		return
	}
	url, err := h.signer.GetSignedURL(r.Context(), handle, signedURLExpiry)
	if err != nil {
		h.fail(r, w, http.StatusBadGateway, "Failed to sign download URL", err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) serveLocal(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		h.fail(r, w, http.StatusNotFound, "Result file missing", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.fail(r, w, http.StatusInternalServerError, "Failed to read result", err)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeContent(w, r, "export.mp4", info.ModTime(), f)
}

// openSession loads the {id} session and rejects finalized ones.
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) (*models.ExportJob, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid session ID")
		return nil, false
	}
	job, err := h.store.GetExportJobBySession(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	if err != nil {
		h.fail(r, w, http.StatusInternalServerError, "Failed to get session", err)
		return nil, false
	}
	if job.JobID != nil {
		respondError(w, http.StatusConflict, "Session already finalized")
		return nil, false
	}
	return job, true
}

func (h *Handler) lookupJob(w http.ResponseWriter, r *http.Request) (*models.ExportJob, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return nil, false
	}
	job, err := h.store.GetExportJob(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	if err != nil {
		h.fail(r, w, http.StatusInternalServerError, "Failed to get job", err)
		return nil, false
	}
	return job, true
}

func (h *Handler) fail(r *http.Request, w http.ResponseWriter, status int, msg string, err error) {
	logger := logx.FromCtx(r.Context(), h.logger)
	logger.Error().Err(err).Int("status", status).Str("path", r.URL.Path).Msg(msg)
	respondError(w, status, msg)
}

// framePartInfo reads a frame's index and format from its part headers.
// The index header wins over the file name.
func framePartInfo(indexHeader, filename, contentType string) (int, string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" && contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			ext = strings.TrimPrefix(mt, "image/")
		}
	}
	if ext == "jpeg" {
		ext = "jpg"
	}

	raw := indexHeader
	if raw == "" {
		raw = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, "", fmt.Errorf("frame part has no index")
	}
	return index, ext, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
