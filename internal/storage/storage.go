package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/logx"
)

const (
	// Per attempt. Finished exports can run to hundreds of MB.
	uploadTimeout   = 300 * time.Second
	downloadTimeout = 120 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Storage is a Supabase Storage bucket client for finished exports.
type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	baseDelay  time.Duration
	logger     zerolog.Logger
}

func New(url, serviceKey, bucket string) *Storage {
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseDelay: baseRetryDelay,
		logger:    logx.Component("storage"),
	}
}

// ExportPath is the object path of a finished export.
func ExportPath(id uuid.UUID) string {
	return path.Join("exports", id.String()+".mp4")
}

// Upload stores data at path, overwriting any existing object. Transient
// failures are retried with exponential backoff.
func (s *Storage) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	_, err := s.withRetry(ctx, "upload", objectPath, uploadTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(objectPath), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.ContentLength = int64(len(data))
		return req, nil
	})
	return err
}

// UploadFile uploads a file from a local path.
func (s *Storage) UploadFile(ctx context.Context, objectPath, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", localPath, err)
	}
	return s.Upload(ctx, objectPath, data, contentType)
}

func (s *Storage) Download(ctx context.Context, objectPath string) ([]byte, error) {
	return s.withRetry(ctx, "download", objectPath, downloadTimeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(objectPath), nil)
	})
}

// GetPublicURL returns the public URL for an object.
func (s *Storage) GetPublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, objectPath)
}

// GetSignedURL creates a URL granting temporary read access.
func (s *Storage) GetSignedURL(ctx context.Context, objectPath string, expiresIn time.Duration) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, objectPath)

	body, _ := json.Marshal(map[string]int{"expiresIn": int(expiresIn.Seconds())})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed with status %d: %s", resp.StatusCode, truncate(string(b), 200))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}
	return s.url + "/storage/v1" + result.SignedURL, nil
}

func (s *Storage) objectURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, objectPath)
}

// withRetry runs a request until it returns 200/201, a non-retryable
// status, or the attempts run out. Each attempt gets its own timeout.
func (s *Storage) withRetry(ctx context.Context, op, objectPath string, timeout time.Duration, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	logger := logx.FromCtx(ctx, s.logger).With().Str("op", op).Str("path", objectPath).Logger()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("wait", delay).Msg("retrying")

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s cancelled: %w", op, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, status, err := s.attempt(ctx, timeout, build)
		if err != nil {
			lastErr = fmt.Errorf("failed to %s: %w", op, err)
			if ctx.Err() == nil && isRetryableError(err) {
				continue
			}
			return nil, lastErr
		}

		if status == http.StatusOK || status == http.StatusCreated {
			if attempt > 0 {
				logger.Info().Int("attempt", attempt+1).Msg("succeeded after retry")
			}
			return body, nil
		}

		lastErr = fmt.Errorf("%s failed with status %d: %s", op, status, truncate(string(body), 200))
		if !isRetryableStatus(status) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries+1, lastErr)
}

func (s *Storage) attempt(ctx context.Context, timeout time.Duration, build func(context.Context) (*http.Request, error)) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := build(ctx)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// retryDelay is base * 2^(attempt-1), capped, plus up to 25% jitter.
func (s *Storage) retryDelay(attempt int) time.Duration {
	delay := float64(s.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
