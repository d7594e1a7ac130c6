package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/models"
)

// GetCache returns the cached result for key if it was computed less than ttl
// ago. Stale rows are left in place and reported as errorx.ErrCacheMiss.
func (db *DB) GetCache(ctx context.Context, key models.CacheKey, ttl time.Duration) (*models.CacheEntry, error) {
	var result string
	var computedAt int64

	err := db.QueryRowContext(ctx,
		`SELECT result, computed_at FROM cache WHERE address = ? AND network = ?`,
		key.Address, key.Network,
	).Scan(&result, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errorx.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cache: %w", err)
	}

	entry := &models.CacheEntry{
		Key:        key,
		Result:     result,
		ComputedAt: time.Unix(0, computedAt).UTC(),
	}
	if db.now().Sub(entry.ComputedAt) >= ttl {
		return nil, errorx.ErrCacheMiss
	}
	return entry, nil
}

// PutCache inserts or replaces the cache row for key, stamped with the current time.
func (db *DB) PutCache(ctx context.Context, key models.CacheKey, result string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO cache (address, network, result, computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address, network) DO UPDATE SET
			result = excluded.result,
			computed_at = excluded.computed_at
	`, key.Address, key.Network, result, db.now().UnixNano())
	if err != nil {
		return fmt.Errorf("put cache: %w", err)
	}
	return nil
}
