package checksum

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/framecast/internal/models"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	for _, buf := range [][]byte{nil, []byte("a"), make([]byte, 4096)} {
		assert.True(t, Verify(buf, Hash(buf)))
	}

	buf := []byte("frame payload")
	sum := Hash(buf)
	assert.Len(t, sum, 64)
	buf[3] ^= 0x01
	assert.False(t, Verify(buf, sum))
}

func frames(n int) []Frame {
	out := make([]Frame, n)
	for i := range out {
		out[i] = Frame{Index: i, Data: []byte(fmt.Sprintf("frame-%03d", i))}
	}
	return out
}

func TestManager_HashBatchBuildsManifest(t *testing.T) {
	m := NewManager(3, 1024)
	assert.GreaterOrEqual(t, m.Workers(), 1)
	assert.LessOrEqual(t, m.Workers(), 3)

	sums, err := m.HashBatch(context.Background(), frames(10))
	require.NoError(t, err)
	require.Len(t, sums, 10)
	assert.Equal(t, 4, sums[4].FrameIndex)
	assert.Equal(t, Hash([]byte("frame-004")), sums[4].Checksum)
	assert.Equal(t, 9, sums[4].SizeBytes)

	_, err = m.HashBatch(context.Background(), []Frame{{Index: 10, Data: []byte("x")}})
	require.NoError(t, err)

	entries := m.Entries()
	assert.Len(t, entries, 11)
	assert.Equal(t, 10, entries[10].FrameIndex)
}

func TestManager_HashBatchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewManager(2, 0).HashBatch(ctx, frames(5))
	assert.ErrorIs(t, err, context.Canceled)
}

func store(fs []Frame) (FrameReader, []int) {
	byIndex := make(map[int][]byte)
	var present []int
	for _, f := range fs {
		byIndex[f.Index] = f.Data
		present = append(present, f.Index)
	}
	return func(i int) ([]byte, error) {
		d, ok := byIndex[i]
		if !ok {
			return nil, errors.New("not found")
		}
		return d, nil
	}, present
}

func TestVerifyManifest(t *testing.T) {
	fs := frames(6)
	m := NewManager(2, 0)
	_, err := m.HashBatch(context.Background(), fs)
	require.NoError(t, err)
	man := BuildManifest(m.Entries())

	read, present := store(fs)
	require.NoError(t, VerifyManifest(context.Background(), man, 6, present, read, 2))

	// dropped, corrupted and resized frames
	bad := frames(6)
	bad = append(bad[:2], bad[3:]...)
	bad[2].Data = []byte("frame-XXX")
	bad[3].Data = []byte("short")
	read, present = store(bad)

	err = VerifyManifest(context.Background(), man, 6, present, read, 2)
	var merr *ManifestError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, []int{2}, merr.Missing)
	assert.Equal(t, []int{3}, merr.Corrupted)
	assert.Equal(t, []int{4}, merr.SizeDiff)
	assert.Contains(t, merr.Error(), "1 missing")
}

func TestVerifyManifest_UnexpectedFrame(t *testing.T) {
	fs := frames(3)
	man := BuildManifest([]models.FrameChecksum{
		{FrameIndex: 0, Checksum: Hash(fs[0].Data), SizeBytes: len(fs[0].Data)},
		{FrameIndex: 1, Checksum: Hash(fs[1].Data), SizeBytes: len(fs[1].Data)},
	})
	read, present := store(fs)

	err := VerifyManifest(context.Background(), man, 2, present, read, 1)
	var merr *ManifestError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, []int{2}, merr.Unexpected)
	assert.Empty(t, merr.Missing)
}

func TestPoolSize(t *testing.T) {
	assert.Equal(t, 1, PoolSize(0, 0))
	assert.Equal(t, 4, PoolSize(4, 0))

	if _, err := mem.VirtualMemory(); err != nil {
		t.Skip("memory stats unavailable")
	}
	assert.Equal(t, 1, PoolSize(4, 1<<62))
}
