package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"mandeltiles/internal/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteCache keeps tiles in a single table keyed by (z, x, y).
type SQLiteCache struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Cache = (*SQLiteCache)(nil)

func NewSQLiteCache(path string, logger *zap.Logger) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	c := &SQLiteCache{
		db:     db,
		logger: logger,
	}

	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	logger.Info("sqlite cache initialized", zap.String("path", path))

	return c, nil
}

func (c *SQLiteCache) runMigrations() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.Up(c.db, "migrations")
}

func (c *SQLiteCache) Get(ctx context.Context, k TileKey) ([]byte, bool, error) {
	start := time.Now()
	defer func() {
		metrics.BackendOperationDuration.WithLabelValues("sqlite", "get").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT tile_data
	FROM tile_cache
	WHERE z = ? AND x = ? AND y = ?`

	var tileData []byte
	err := c.db.QueryRowContext(ctx, query, k.Z, k.X, k.Y).Scan(&tileData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		metrics.BackendErrors.WithLabelValues("sqlite", "get").Inc()
		return nil, false, fmt.Errorf("sqlite get error: %w", err)
	}

	return tileData, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, k TileKey, v []byte) error {
	start := time.Now()
	defer func() {
		metrics.BackendOperationDuration.WithLabelValues("sqlite", "set").Observe(time.Since(start).Seconds())
	}()

	query := `INSERT INTO tile_cache (z, x, y, tile_data)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(z, x, y) DO UPDATE SET tile_data = excluded.tile_data`

	if _, err := c.db.ExecContext(ctx, query, k.Z, k.X, k.Y, v); err != nil {
		metrics.BackendErrors.WithLabelValues("sqlite", "set").Inc()
		return fmt.Errorf("sqlite set error: %w", err)
	}

	return nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
