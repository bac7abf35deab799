package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// Config selects and tunes the usage database.
type Config struct {
	// Driver is "sqlite", "postgres" or "memory".
	Driver string
	// DSN is a file path (or ":memory:") for sqlite and a connection URL for postgres.
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RecordModel represents the dispatch_usage table
type RecordModel struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	RequestID  string    `gorm:"column:request_id;index"`
	Route      string    `gorm:"column:route;index:idx_usage_route_received"`
	Type       string    `gorm:"column:type"`
	SessionID  string    `gorm:"column:session_id;index"`
	UserID     string    `gorm:"column:user_id"`
	TraceID    string    `gorm:"column:trace_id"`
	Status     int       `gorm:"column:status;not null"`
	Flags      string    `gorm:"column:flags"`
	ReceivedAt time.Time `gorm:"column:received_at;not null;index:idx_usage_route_received"`
	DurationMS int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (RecordModel) TableName() string {
	return "dispatch_usage"
}

// Store is a GORM-based implementation of Recorder.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database. The "memory" driver is not a database
// and is rejected here; see OpenRecorder.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("usage: postgres driver requires a dsn")
		}
		dialector = postgres.Open(cfg.DSN)

	case "sqlite", "":
		// Path can be a file path or ":memory:"
		path := cfg.DSN
		if path == "" {
			path = ":memory:"
		}
		dialector = sqlite.Open(path)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	if cfg.Driver == "postgres" {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	} else {
		// Every sqlite ":memory:" connection is its own database.
		sqlDB.SetMaxOpenConns(1)
	}

	return NewStore(db), nil
}

// OpenRecorder returns a MemoryStore for the "memory" driver and a migrated Store
// otherwise.
func OpenRecorder(ctx context.Context, cfg Config) (Recorder, error) {
	if cfg.Driver == "memory" {
		return NewMemoryStore(), nil
	}
	store, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an open connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the usage table.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&RecordModel{}); err != nil {
		return fmt.Errorf("failed to migrate usage table: %w", err)
	}
	return nil
}

// Record inserts one row.
func (s *Store) Record(ctx context.Context, rec domain.UsageRecord) error {
	model := RecordModel{
		RequestID:  rec.RequestID,
		Route:      rec.Route,
		Type:       rec.Type,
		SessionID:  rec.SessionID,
		UserID:     rec.UserID,
		TraceID:    rec.TraceID,
		Status:     rec.Status,
		Flags:      strings.Join(rec.Flags, ","),
		ReceivedAt: rec.ReceivedAt.UTC(),
		DurationMS: rec.Duration.Milliseconds(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// CountByRoute counts rows for route received at or after since.
func (s *Store) CountByRoute(ctx context.Context, route string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RecordModel{}).
		Where("route = ? AND received_at >= ?", route, since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count usage by route: %w", err)
	}
	return n, nil
}

// CountBySession counts rows for sessionID.
func (s *Store) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RecordModel{}).
		Where("session_id = ?", sessionID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count usage by session: %w", err)
	}
	return n, nil
}

// TopRoutes returns up to limit routes ordered by row count.
func (s *Store) TopRoutes(ctx context.Context, limit int) ([]RouteCount, error) {
	var rows []RouteCount
	q := s.db.WithContext(ctx).Model(&RecordModel{}).
		Select("route, COUNT(*) AS count").
		Group("route").
		Order("count DESC, route ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to summarise usage: %w", err)
	}
	return rows, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
