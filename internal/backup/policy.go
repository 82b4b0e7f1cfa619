package backup

import (
	"context"
	"fmt"
	"math"

	"github.com/dmitrijs2005/peervault/internal/cryptox"
	"github.com/shirou/gopsutil/v3/disk"
)

// Policy decides whether to store a backup for peer. A non-nil error is the
// reason sent back with the decline.
type Policy interface {
	Accept(ctx context.Context, peer string, size uint64) error
}

// AcceptAll stores every backup offered.
type AcceptAll struct{}

func (AcceptAll) Accept(context.Context, string, uint64) error { return nil }

// FreeSpacePolicy declines backups that would leave less than MinFree bytes
// on the volume holding Path.
type FreeSpacePolicy struct {
	Path    string
	MinFree uint64

	usage func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func NewFreeSpacePolicy(path string, minFree uint64) *FreeSpacePolicy {
	return &FreeSpacePolicy{Path: path, MinFree: minFree, usage: disk.UsageWithContext}
}

func (p *FreeSpacePolicy) Accept(ctx context.Context, peer string, size uint64) error {
	u, err := p.usage(ctx, p.Path)
	if err != nil {
		return fmt.Errorf("check free space: %w", err)
	}

	// size is the remote's claim; compare without letting the sum wrap.
	stored := encryptedSize(size)
	if stored > u.Free || u.Free-stored < p.MinFree {
		return fmt.Errorf("insufficient space: %d bytes free, %d needed", u.Free, saturatingAdd(stored, p.MinFree))
	}
	return nil
}

// encryptedSize estimates the stored size of size plaintext bytes. It
// saturates at math.MaxUint64.
func encryptedSize(size uint64) uint64 {
	chunks := size / cryptox.ChunkSize
	if size%cryptox.ChunkSize != 0 || size == 0 {
		chunks++
	}
	return saturatingAdd(size, chunks*cryptox.Overhead)
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
