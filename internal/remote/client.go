// Package remote is the HTTP and websocket client for the render server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bobarin/framecast/internal/models"
)

const (
	// Finalize in sync mode returns after the whole encode
	requestTimeout = 30 * time.Minute

	// FrameIndexHeader tags each multipart frame part.
	FrameIndexHeader = "X-Frame-Index"
)

// StatusError is a non-success response from the render server.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Frame is one encoded frame in a chunk upload.
type Frame struct {
	Index int
	Data  []byte
}

// FinalizeResult carries either an async job id or, for a synchronous
// finalize, the encoded file.
type FinalizeResult struct {
	JobID *uuid.UUID
	File  []byte
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	dialer  *websocket.Dialer
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// InitSession opens a session and uploads the source audio once.
func (c *Client) InitSession(ctx context.Context, audioPath string) (*models.InitSessionResponse, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	var out models.InitSessionResponse
	if err := c.doJSON(ctx, "init", http.MethodPost, "/v1/sessions", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadChunk sends a batch of encoded frames.
func (c *Client) UploadChunk(ctx context.Context, sessionID uuid.UUID, frames []Frame, contentType, ext string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, fr := range frames {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="frames"; filename="%06d.%s"`, fr.Index, ext))
		h.Set("Content-Type", contentType)
		h.Set(FrameIndexHeader, strconv.Itoa(fr.Index))
		part, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("failed to create frame part: %w", err)
		}
		if _, err := part.Write(fr.Data); err != nil {
			return fmt.Errorf("failed to write frame part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to close multipart body: %w", err)
	}

	path := fmt.Sprintf("/v1/sessions/%s/chunks", sessionID)
	return c.doJSON(ctx, "chunk", http.MethodPost, path, mw.FormDataContentType(), &body, nil)
}

// PutManifest sends the frame checksum manifest ahead of finalize.
func (c *Client) PutManifest(ctx context.Context, sessionID uuid.UUID, entries []models.FrameChecksum) error {
	data, err := json.Marshal(models.ManifestRequest{Frames: entries})
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	path := fmt.Sprintf("/v1/sessions/%s/manifest", sessionID)
	return c.doJSON(ctx, "manifest", http.MethodPut, path, "application/json", bytes.NewReader(data), nil)
}

// Finalize requests the encode. A 200 response carries the file; a 202
// carries the job id.
func (c *Client) Finalize(ctx context.Context, sessionID uuid.UUID, req models.FinalizeRequest) (*FinalizeResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal finalize request: %w", err)
	}

	path := fmt.Sprintf("/v1/sessions/%s/finalize", sessionID)
	resp, err := c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to finalize: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		var out models.FinalizeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to parse finalize response: %w", err)
		}
		return &FinalizeResult{JobID: &out.JobID}, nil
	case http.StatusOK:
		file, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read finalize body: %w", err)
		}
		return &FinalizeResult{File: file}, nil
	default:
		return nil, statusError("finalize", resp)
	}
}

// JobStatus fetches the job record, used when push events are unavailable.
func (c *Client) JobStatus(ctx context.Context, jobID uuid.UUID) (*models.ExportJob, error) {
	var job models.ExportJob
	if err := c.doJSON(ctx, "status", http.MethodGet, fmt.Sprintf("/v1/jobs/%s", jobID), "", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Download fetches the encoded file of a completed job.
func (c *Client) Download(ctx context.Context, jobID uuid.UUID) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/jobs/%s/download", jobID), "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("download", resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download body: %w", err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req.Header)
	return c.client.Do(req)
}

// doJSON performs a request expecting a 2xx and decodes the body into out
// when out is non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("X-API-Key", c.apiKey)
	}
}

// statusError builds a StatusError from a {"error": "..."} body, falling
// back to the raw body or the status text.
func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}
