// Package checksum hashes encoded frames and verifies transfer manifests.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/framecast/internal/models"
)

// Hash returns the hex SHA-256 digest of buf.
func Hash(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Verify re-hashes buf and compares it with expected.
func Verify(buf []byte, expected string) bool {
	return strings.EqualFold(Hash(buf), expected)
}

// Frame is an encoded frame awaiting hashing.
type Frame struct {
	Index int
	Data  []byte
}

// Manager hashes frames with a fixed-size pool and accumulates the
// manifest for one export.
type Manager struct {
	workers  int
	manifest models.Manifest
}

// NewManager sizes the pool from workers, lowered when available memory
// cannot hold that many frames of frameBytes in flight.
func NewManager(workers int, frameBytes int) *Manager {
	return &Manager{
		workers:  PoolSize(workers, frameBytes),
		manifest: make(models.Manifest),
	}
}

// Workers returns the pool size in use.
func (m *Manager) Workers() int { return m.workers }

// HashBatch hashes frames with at most Workers() running at once and
// records them in the manifest.
func (m *Manager) HashBatch(ctx context.Context, frames []Frame) ([]models.FrameChecksum, error) {
	out := make([]models.FrameChecksum, len(frames))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, f := range frames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = models.FrameChecksum{
				FrameIndex: f.Index,
				Checksum:   Hash(f.Data),
				SizeBytes:  len(f.Data),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range out {
		m.manifest[c.FrameIndex] = c
	}
	return out, nil
}

// Manifest returns the accumulated manifest.
func (m *Manager) Manifest() models.Manifest { return m.manifest }

// Entries returns the manifest sorted by frame index.
func (m *Manager) Entries() []models.FrameChecksum {
	return Entries(m.manifest)
}

// BuildManifest indexes checksums by frame.
func BuildManifest(entries []models.FrameChecksum) models.Manifest {
	man := make(models.Manifest, len(entries))
	for _, e := range entries {
		man[e.FrameIndex] = e
	}
	return man
}

// Entries flattens a manifest in frame order.
func Entries(man models.Manifest) []models.FrameChecksum {
	out := make([]models.FrameChecksum, 0, len(man))
	for _, e := range man {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrameIndex < out[j].FrameIndex })
	return out
}

// ManifestError lists every frame that failed verification.
type ManifestError struct {
	Missing    []int
	Unexpected []int
	SizeDiff   []int
	Corrupted  []int
}

func (e *ManifestError) Error() string {
	var parts []string
	add := func(label string, idx []int) {
		if len(idx) > 0 {
			parts = append(parts, fmt.Sprintf("%d %s (first %d)", len(idx), label, idx[0]))
		}
	}
	add("missing", e.Missing)
	add("unexpected", e.Unexpected)
	add("size mismatch", e.SizeDiff)
	add("checksum mismatch", e.Corrupted)
	return "manifest verification failed: " + strings.Join(parts, ", ")
}

func (e *ManifestError) empty() bool {
	return len(e.Missing)+len(e.Unexpected)+len(e.SizeDiff)+len(e.Corrupted) == 0
}

// FrameReader loads a received frame by index.
type FrameReader func(index int) ([]byte, error)

// VerifyManifest checks that frames 0..totalFrames-1 exist and match the
// manifest, re-hashing with at most workers goroutines. present lists the
// indexes actually received. The result is nil or a *ManifestError.
func VerifyManifest(ctx context.Context, man models.Manifest, totalFrames int, present []int, read FrameReader, workers int) error {
	merr := &ManifestError{}

	have := make(map[int]bool, len(present))
	for _, idx := range present {
		have[idx] = true
		if idx < 0 || idx >= totalFrames {
			merr.Unexpected = append(merr.Unexpected, idx)
		}
	}
	for i := 0; i < totalFrames; i++ {
		if !have[i] {
			merr.Missing = append(merr.Missing, i)
		}
		if _, ok := man[i]; !ok && have[i] {
			merr.Unexpected = append(merr.Unexpected, i)
		}
	}

	type result struct {
		size, corrupt bool
	}
	results := make([]result, totalFrames)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for i := 0; i < totalFrames; i++ {
		entry, ok := man[i]
		if !ok || !have[i] {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := read(i)
			if err != nil {
				return fmt.Errorf("failed to read frame %d: %w", i, err)
			}
			if len(data) != entry.SizeBytes {
				results[i].size = true
				return nil
			}
			results[i].corrupt = !Verify(data, entry.Checksum)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, r := range results {
		if r.size {
			merr.SizeDiff = append(merr.SizeDiff, i)
		}
		if r.corrupt {
			merr.Corrupted = append(merr.Corrupted, i)
		}
	}
	sort.Ints(merr.Unexpected)

	if merr.empty() {
		return nil
	}
	return merr
}

// PoolSize caps workers so that workers*frameBytes stays under a quarter
// of available memory. Falls back to workers when memory is unknown.
func PoolSize(workers, frameBytes int) int {
	if workers < 1 {
		workers = 1
	}
	if frameBytes <= 0 {
		return workers
	}
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return workers
	}
	fit := int(vm.Available / 4 / uint64(frameBytes))
	if fit < 1 {
		return 1
	}
	return min(workers, fit)
}
