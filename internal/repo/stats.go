package repo

import (
	"context"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/types"
)

// StatsRepo aggregates the counters behind statfs and the hook usage document.
type StatsRepo struct {
	q store.Querier
}

// Usage collects block and inode counts for one tenant.
func (r *StatsRepo) Usage(ctx context.Context, tenant types.TenantID) (*types.UsageStats, error) {
	var s types.UsageStats
	t := tenant.String()

	if err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inodes WHERE tenant_id = ?`, t).Scan(&s.Inodes); err != nil {
		return nil, store.MapError(err)
	}
	if err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM data_blocks WHERE tenant_id = ?`, t).
		Scan(&s.DataBlocks, &s.TotalBytes); err != nil {
		return nil, store.MapError(err)
	}
	var textBytes int64
	if err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT m.block_id), COALESCE(SUM(b.byte_size), 0)
		 FROM text_line_map m JOIN text_blocks b ON b.id = m.block_id
		 WHERE m.tenant_id = ?`, t).Scan(&s.TextBlocks, &textBytes); err != nil {
		return nil, store.MapError(err)
	}
	s.TotalBytes += textBytes
	if err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM layers WHERE tenant_id = ?`, t).Scan(&s.Layers); err != nil {
		return nil, store.MapError(err)
	}
	return &s, nil
}

// Statfs derives filesystem statistics for one tenant. The store imposes no
// fixed capacity, so totals reflect usage rather than limits.
func (r *StatsRepo) Statfs(ctx context.Context, tenant types.TenantID) (*types.StatfsInfo, error) {
	usage, err := r.Usage(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return &types.StatfsInfo{
		TotalBytes:    uint64(usage.TotalBytes),
		FreeBytes:     0,
		AvailBytes:    0,
		TotalInodes:   uint64(usage.Inodes),
		FreeInodes:    0,
		BlockSize:     4096,
		MaxNameLength: 255,
	}, nil
}
