package filesystem

import (
	"context"
	"database/sql"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/internal/content"
	"github.com/tarbox/tarbox/internal/cow"
	"github.com/tarbox/tarbox/internal/detect"
	"github.com/tarbox/tarbox/internal/hooks"
	"github.com/tarbox/tarbox/internal/layer"
	"github.com/tarbox/tarbox/internal/metrics"
	"github.com/tarbox/tarbox/internal/mount"
	"github.com/tarbox/tarbox/internal/publish"
	"github.com/tarbox/tarbox/internal/repo"
	"github.com/tarbox/tarbox/internal/store"
	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/log"
	"github.com/tarbox/tarbox/pkg/retry"
	"github.com/tarbox/tarbox/pkg/types"
)

// Backend wires every subsystem over one store and hands out tenant-scoped
// sessions. It holds no locks across operations; all shared in-memory state
// is the chain manager's working-layer cache.
type Backend struct {
	db       *store.DB
	cfg      *config.Configuration
	detector *detect.Detector
	writer   *cow.Writer
	layers   *layer.Manager
	mounts   *mount.Composer
	registry *publish.Registry
	resolver *mount.Resolver
	hooks    *hooks.Handler
	gc       *content.Store
	retryer  *retry.Retryer
	metrics  *metrics.Collector
	audit    *pond.WorkerPool
	logger   zerolog.Logger
}

// NewBackend builds the backend over an opened store.
func NewBackend(db *store.DB, cfg *config.Configuration) *Backend {
	detector := detect.New(cfg.Detector)
	layers := layer.NewManager(db)
	mounts := mount.NewComposer(db, layers)
	registry := publish.NewRegistry(db)
	collector := metrics.NewCollector()

	b := &Backend{
		db:       db,
		cfg:      cfg,
		detector: detector,
		writer:   cow.NewWriter(detector),
		layers:   layers,
		mounts:   mounts,
		registry: registry,
		resolver: mount.NewResolver(db, registry, cfg.Hooks.Prefix),
		hooks:    hooks.NewHandler(db, layers, mounts),
		gc:       content.NewStore(db, cfg.ContentGC.IdleThreshold),
		metrics:  collector,
		audit:    pond.New(4, 1024),
		logger:   log.WithComponent("filesystem"),
	}
	b.retryer = retry.New(retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			collector.ObserveRetry()
			b.logger.Warn().Int("attempt", attempt).Err(err).Dur("delay", delay).
				Msg("retrying transient store failure")
		},
	})
	return b
}

// Close drains the audit pool and releases the store.
func (b *Backend) Close() error {
	b.audit.StopAndWait()
	return b.db.Close()
}

// Migrate brings the schema up to date.
func (b *Backend) Migrate(ctx context.Context) error {
	return b.db.Migrate(ctx)
}

// Mounts exposes namespace composition.
func (b *Backend) Mounts() *mount.Composer { return b.mounts }

// Layers exposes the chain manager.
func (b *Backend) Layers() *layer.Manager { return b.layers }

// Publications exposes the publication registry.
func (b *Backend) Publications() *publish.Registry { return b.registry }

// Metrics exposes the collector for the metrics endpoint.
func (b *Backend) Metrics() *metrics.Collector { return b.metrics }

// Sweep runs the content store's idle text-block sweep.
func (b *Backend) Sweep(ctx context.Context) (int64, error) {
	return b.gc.Sweep(ctx)
}

// CreateTenant creates a tenant with its root directory inode and base layer.
func (b *Backend) CreateTenant(ctx context.Context, name string) (*types.Tenant, error) {
	if name == "" {
		return nil, errors.New(errors.KindInvalidArgument, "tenant name must not be empty")
	}
	now := time.Now().UTC()
	tenant := &types.Tenant{ID: uuid.New(), Name: name, CreatedAt: now}

	err := b.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		if err := r.Tenants.Create(ctx, tenant); err != nil {
			return err
		}
		rootID, err := r.Inodes.NextID(ctx, tenant.ID)
		if err != nil {
			return err
		}
		root := &types.Inode{
			TenantID: tenant.ID,
			ID:       rootID,
			Name:     "/",
			Kind:     types.FileKindDirectory,
			Mode:     0o755,
			Atime:    now,
			Mtime:    now,
			Ctime:    now,
		}
		if err := r.Inodes.Create(ctx, root); err != nil {
			return err
		}
		if err := r.Tenants.SetRootInode(ctx, tenant.ID, root.ID); err != nil {
			return err
		}
		tenant.RootInode = root.ID
		base := &types.Layer{
			ID:        uuid.New(),
			TenantID:  tenant.ID,
			Name:      layer.BaseLayerName,
			CreatedAt: now,
			Status:    types.LayerStatusActive,
		}
		return r.Layers.Create(ctx, base)
	})
	if err != nil {
		return nil, err
	}
	b.logger.Info().Str("tenant", name).Msg("tenant created")
	return tenant, nil
}

// GetTenant fetches a tenant by name.
func (b *Backend) GetTenant(ctx context.Context, name string) (*types.Tenant, error) {
	return repo.New(b.db.Handle()).Tenants.GetByName(ctx, name)
}

// DeleteTenant removes a tenant; every owned row cascades.
func (b *Backend) DeleteTenant(ctx context.Context, name string) error {
	return b.db.WithTx(ctx, func(tx *sql.Tx) error {
		r := repo.New(tx)
		t, err := r.Tenants.GetByName(ctx, name)
		if err != nil {
			return err
		}
		return r.Tenants.Delete(ctx, t.ID)
	})
}

// Session returns the tenant-scoped filesystem surface.
func (b *Backend) Session(tenant types.TenantID) *Session {
	return &Session{backend: b, tenant: tenant}
}

// recordAudit submits an asynchronous audit record. Audit failures are logged
// and never surfaced to callers.
func (b *Backend) recordAudit(tenant types.TenantID, operation, path string, err error) {
	outcome := "ok"
	detail := ""
	if err != nil {
		outcome = string(errors.KindOf(err))
		detail = err.Error()
	}
	rec := &types.AuditRecord{
		TenantID:  tenant,
		Operation: operation,
		Path:      path,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	b.audit.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.New(b.db.Handle()).Audit.Insert(ctx, rec); err != nil {
			b.logger.Warn().Err(err).Msg("audit record dropped")
		}
	})
}
