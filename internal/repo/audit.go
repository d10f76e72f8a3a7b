package repo

import (
	"context"
	"time"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/types"
)

// AuditRepo records the simple audit hook. Rich audit analytics is an
// external product; this repo only appends and prunes.
type AuditRepo struct {
	q store.Querier
}

// Insert appends one audit record.
func (r *AuditRepo) Insert(ctx context.Context, rec *types.AuditRecord) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO audit_records (tenant_id, operation, path, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TenantID.String(), rec.Operation, rec.Path, rec.Outcome, rec.Detail, rec.CreatedAt)
	return store.MapError(err)
}

// ListRecent returns the newest records for a tenant, newest first.
func (r *AuditRepo) ListRecent(ctx context.Context, tenant types.TenantID, limit int) ([]types.AuditRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, tenant_id, operation, path, outcome, detail, created_at
		 FROM audit_records WHERE tenant_id = ? ORDER BY id DESC LIMIT ?`,
		tenant.String(), limit)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()

	var out []types.AuditRecord
	for rows.Next() {
		var rec types.AuditRecord
		var tid string
		if err := rows.Scan(&rec.ID, &tid, &rec.Operation, &rec.Path, &rec.Outcome, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, store.MapError(err)
		}
		parsed, err := parseUUID(tid)
		if err != nil {
			return nil, err
		}
		rec.TenantID = parsed
		out = append(out, rec)
	}
	return out, store.MapError(rows.Err())
}

// PruneBefore deletes records older than the cutoff. Cleanup by age is an
// administrative function, not a runtime contract.
func (r *AuditRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM audit_records WHERE created_at < ?`,
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, store.MapError(err)
	}
	n, err := res.RowsAffected()
	return n, store.MapError(err)
}
