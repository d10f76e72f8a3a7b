// Package repo provides typed access to the persistent entities: tenants,
// inodes, data blocks, text blocks, text line maps, layers, layer entries,
// mount entries, published mounts, and audit records. It is the only layer
// that issues SQL; every driver error leaves here mapped to the filesystem
// taxonomy.
//
// Repositories are constructed over a store.Querier, so the same code runs
// against the pool for reads and inside a transaction for invariant-carrying
// multi-row mutations.
package repo

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
)

// Repos bundles every repository over one Querier.
type Repos struct {
	Tenants      *TenantRepo
	Inodes       *InodeRepo
	DataBlocks   *DataBlockRepo
	TextBlocks   *TextBlockRepo
	TextFiles    *TextFileRepo
	Layers       *LayerRepo
	Entries      *LayerEntryRepo
	Mounts       *MountRepo
	Publications *PublicationRepo
	Audit        *AuditRepo
	Stats        *StatsRepo
}

// New builds the repository bundle over q.
func New(q store.Querier) *Repos {
	return &Repos{
		Tenants:      &TenantRepo{q: q},
		Inodes:       &InodeRepo{q: q},
		DataBlocks:   &DataBlockRepo{q: q},
		TextBlocks:   &TextBlockRepo{q: q},
		TextFiles:    &TextFileRepo{q: q},
		Layers:       &LayerRepo{q: q},
		Entries:      &LayerEntryRepo{q: q},
		Mounts:       &MountRepo{q: q},
		Publications: &PublicationRepo{q: q},
		Audit:        &AuditRepo{q: q},
		Stats:        &StatsRepo{q: q},
	}
}

// mappedIsNotFound reports whether a mapped store error is a NotFound, which
// read paths often translate into an absent-value result.
func mappedIsNotFound(err error) bool {
	return errors.IsKind(err, errors.KindNotFound)
}

// parseUUID parses a stored id column.
func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrap(errors.KindOther, "corrupt id column", err)
	}
	return id, nil
}

// nullableUUID converts a scanned NullString into an optional id.
func nullableUUID(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// uuidArg renders an optional id for a nullable column.
func uuidArg(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

// nullableInode converts a scanned NullInt64 into an optional inode id.
func nullableInode(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// inodeArg renders an optional inode id for a nullable column.
func inodeArg(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
