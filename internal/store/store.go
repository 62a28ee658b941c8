package store

import (
	"context"
	"errors"

	"github.com/joescharf/prboard/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an event with the same idempotency key exists.
	ErrDuplicate = errors.New("duplicate event")
)

// TenantReader looks up API tenants. It is the only tenant access the
// ingestion path gets.
type TenantReader interface {
	GetTenant(ctx context.Context, appID string) (*models.Tenant, error)
}

// EventStore appends and reads ingested review events. Events are never
// updated or deleted.
type EventStore interface {
	AppendEvent(ctx context.Context, e *models.EventRecord) error
	GetEvent(ctx context.Context, id int64) (*models.EventRecord, error)
	GetEventByIdempotencyKey(ctx context.Context, key string) (*models.EventRecord, error)
	// ListEvents returns up to limit events in insertion order. An empty
	// tenant matches every tenant.
	ListEvents(ctx context.Context, tenant models.TenantSlug, limit int) ([]*models.EventRecord, error)
	AggregateCounts(ctx context.Context, tenant models.TenantSlug) (*models.DashboardMetrics, error)
}

// StageStore keeps the write-ahead record of each ingestion.
type StageStore interface {
	GetStage(ctx context.Context, key string) (*models.IngestionStage, error)
	SaveStage(ctx context.Context, st *models.IngestionStage) error
}

// Store defines the persistence interface for prboard.
type Store interface {
	TenantReader
	EventStore
	StageStore

	// Tenant provisioning, used by the CLI only.
	CreateTenant(ctx context.Context, t *models.Tenant) error
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	DeleteTenant(ctx context.Context, appID string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a database backend.
type Config struct {
	Driver       string // "sqlite" or "mysql"
	Path         string // sqlite database file
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	Socket       string // mysql unix socket, e.g. a Cloud SQL proxy socket
	TLS          string // mysql TLS mode: "", "true", "skip-verify", "preferred"
	MaxOpenConns int
}

// Open opens the backend named by cfg.Driver.
func Open(cfg Config) (*SQLStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "mysql":
		return NewMySQLStore(cfg)
	default:
		return nil, errors.New("unknown database driver: " + cfg.Driver + " (use sqlite or mysql)")
	}
}
