package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/btighe428/cityping-sub002/internal/config"
	"github.com/btighe428/cityping-sub002/internal/globaltime"
)

var ErrNoRows = sql.ErrNoRows

// Row and Rows wrap database/sql results so a nil pool yields ErrNoRows
// instead of a panic.
type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error {
	if r == nil || r.row == nil {
		return ErrNoRows
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool {
	return r != nil && r.rows != nil && r.rows.Next()
}

func (r *Rows) Scan(dest ...any) error {
	if r == nil || r.rows == nil {
		return ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func (r *Rows) Err() error {
	if r == nil || r.rows == nil {
		return nil
	}
	return r.rows.Err()
}

func (r *Rows) Close() {
	if r != nil && r.rows != nil {
		_ = r.rows.Close()
	}
}

// Querier is the raw-SQL surface shared by the pool and open transactions.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

type gormQuerier struct {
	db *gorm.DB
}

func (q gormQuerier) QueryRow(ctx context.Context, query string, args ...any) *Row {
	return &Row{row: q.db.WithContext(ctx).Raw(query, args...).Row()}
}

func (q gormQuerier) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := q.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

// Exec returns the number of affected rows.
func (q gormQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res := q.db.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

// Pool is the content store. Embedding columns are fixed at
// EmbeddingDimensions, so NewPool refuses configs that ask for another size.
type Pool struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.EmbeddingDimensions != 0 && cfg.EmbeddingDimensions != EmbeddingDimensions {
		return nil, fmt.Errorf("EMBEDDING_DIMENSIONS=%d does not match the vector(%d) columns", cfg.EmbeddingDimensions, EmbeddingDimensions)
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:  logger.Default.LogMode(resolveGormLogLevel(cfg.LogLevel, cfg.Environment)),
		NowFunc: func() time.Time { return globaltime.UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}
	connectionLimits(cfg).apply(sqlDB)

	pool := &Pool{gdb: gdb, sqlDB: sqlDB}
	for _, step := range []struct {
		name string
		run  func(context.Context) error
	}{
		{name: "ping database", run: sqlDB.PingContext},
		{name: "auto-migrate schema", run: pool.autoMigrate},
	} {
		if err := step.run(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return pool, nil
}

type limits struct {
	maxOpen     int
	maxIdle     int
	idleTime    time.Duration
	maxLifetime time.Duration
}

// connectionLimits sizes the pool for one process running the per-class
// fan-out plus concurrent API requests.
func connectionLimits(cfg *config.Config) limits {
	maxOpen := int(cfg.DBMaxConns)
	if maxOpen <= 0 {
		maxOpen = 8
	}
	return limits{
		maxOpen:     maxOpen,
		maxIdle:     max(1, min(int(cfg.DBMinConns), maxOpen)),
		idleTime:    5 * time.Minute,
		maxLifetime: 30 * time.Minute,
	}
}

func (l limits) apply(sqlDB *sql.DB) {
	sqlDB.SetMaxOpenConns(l.maxOpen)
	sqlDB.SetMaxIdleConns(l.maxIdle)
	sqlDB.SetConnMaxIdleTime(l.idleTime)
	sqlDB.SetConnMaxLifetime(l.maxLifetime)
}

// WithTx runs fn in a transaction, committing only when fn returns nil.
func (p *Pool) WithTx(ctx context.Context, fn func(tx Querier) error) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormQuerier{db: tx})
	})
}

func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if p == nil || p.gdb == nil {
		return &Row{}
	}
	return gormQuerier{db: p.gdb}.QueryRow(ctx, query, args...)
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	return gormQuerier{db: p.gdb}.Query(ctx, query, args...)
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if p == nil || p.gdb == nil {
		return 0, fmt.Errorf("database pool is not initialized")
	}
	return gormQuerier{db: p.gdb}.Exec(ctx, query, args...)
}

// VectorExtensionVersion reports the installed pgvector version.
func (p *Pool) VectorExtensionVersion(ctx context.Context) (string, error) {
	var version string
	err := p.QueryRow(ctx, "SELECT extversion FROM pg_extension WHERE extname = 'vector'").Scan(&version)
	if errors.Is(err, ErrNoRows) {
		return "", fmt.Errorf("pgvector extension is not installed")
	}
	if err != nil {
		return "", fmt.Errorf("query pgvector version: %w", err)
	}
	return version, nil
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

var gormLevels = map[string]logger.LogLevel{
	"trace":   logger.Info,
	"debug":   logger.Info,
	"":        logger.Warn,
	"info":    logger.Warn,
	"warn":    logger.Warn,
	"warning": logger.Warn,
	"error":   logger.Error,
	"silent":  logger.Silent,
}

// resolveGormLogLevel keeps gorm one step quieter than the app logger.
// Unknown levels fall back to Warn locally and Error elsewhere.
func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	if level, ok := gormLevels[strings.ToLower(strings.TrimSpace(appLogLevel))]; ok {
		return level
	}
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		return logger.Warn
	}
	return logger.Error
}
