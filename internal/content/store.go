// Package content implements the dedup-addressed content store: 4 KiB binary
// blocks and text lines, both keyed by a cryptographic hash of their bytes.
// Text blocks are reference counted by line-map triggers and reclaimed by an
// explicit idle sweep.
package content

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/log"
	"github.com/tarbox/tarbox/pkg/types"
)

// BlockSize is the binary block payload limit.
const BlockSize = 4096

// Hash returns the content address of a byte sequence.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the content address of a string.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SplitBlocks chunks binary content into data blocks with contiguous indexes
// from 0. Empty content yields no blocks.
func SplitBlocks(tenant types.TenantID, inode types.InodeID, content []byte) []types.DataBlock {
	var blocks []types.DataBlock
	for i := 0; i < len(content); i += BlockSize {
		end := i + BlockSize
		if end > len(content) {
			end = len(content)
		}
		chunk := make([]byte, end-i)
		copy(chunk, content[i:end])
		blocks = append(blocks, types.DataBlock{
			TenantID:   tenant,
			InodeID:    inode,
			BlockIndex: i / BlockSize,
			Payload:    chunk,
			Size:       len(chunk),
			Hash:       Hash(chunk),
		})
	}
	return blocks
}

// JoinBlocks reassembles binary content from ordered blocks.
func JoinBlocks(blocks []types.DataBlock) []byte {
	var size int
	for _, b := range blocks {
		size += b.Size
	}
	out := make([]byte, 0, size)
	for _, b := range blocks {
		out = append(out, b.Payload...)
	}
	return out
}

// Store is the administrative surface of the content store: the idle sweep
// for zero-reference text blocks.
type Store struct {
	db   *store.DB
	idle time.Duration
}

// NewStore builds the store with the configured idle threshold.
func NewStore(db *store.DB, idle time.Duration) *Store {
	return &Store{db: db, idle: idle}
}

// Sweep deletes text blocks with zero references whose last access is older
// than the idle threshold. Callable from administrative code at any time;
// correctness never depends on it running.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.idle)
	var deleted int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := repo.New(tx).TextBlocks.SweepExpired(ctx, cutoff)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		contentLogger := log.WithComponent("content")
		contentLogger.Info().Int64("blocks", deleted).Msg("swept idle text blocks")
	}
	return deleted, nil
}
