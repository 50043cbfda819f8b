package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NormalizePair orders a pair so the smaller id comes first.
func NormalizePair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// IgnorePairs records pairs as not-duplicates and returns how many were new.
// Self-pairs are skipped.
func (d *Database) IgnorePairs(ctx context.Context, pairs [][2]int64) (int, error) {
	done := observeQuery("ignore_pairs")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	added := 0
	now := nowUnix()
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, d.rebind(`
			INSERT INTO duplicate_ignores (image_id_a, image_id_b, created_at)
			VALUES (?, ?, ?) ON CONFLICT (image_id_a, image_id_b) DO NOTHING`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range pairs {
			a, b := NormalizePair(p[0], p[1])
			if a == b {
				continue
			}
			res, err := stmt.ExecContext(ctx, a, b, now)
			if err != nil {
				return fmt.Errorf("failed to ignore pair (%d, %d): %w", a, b, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		return nil
	})
	done(err)
	if err != nil {
		return 0, err
	}
	return added, nil
}

// UnignorePairs deletes the given pairs and returns how many existed.
func (d *Database) UnignorePairs(ctx context.Context, pairs [][2]int64) (int, error) {
	done := observeQuery("unignore_pairs")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range pairs {
			a, b := NormalizePair(p[0], p[1])
			res, err := tx.ExecContext(ctx, d.rebind(
				"DELETE FROM duplicate_ignores WHERE image_id_a = ? AND image_id_b = ?"), a, b)
			if err != nil {
				return fmt.Errorf("failed to unignore pair (%d, %d): %w", a, b, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += int(n)
		}
		return nil
	})
	done(err)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ListIgnored returns ignored pairs, most recent first. A non-positive limit
// returns every pair.
func (d *Database) ListIgnored(ctx context.Context, limit int) ([]IgnoredPair, error) {
	done := observeQuery("list_ignored")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := "SELECT image_id_a, image_id_b, created_at FROM duplicate_ignores ORDER BY created_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list ignored pairs: %w", err)
	}
	defer closeRows(rows, "ignored pairs")

	pairs := []IgnoredPair{}
	for rows.Next() {
		var p IgnoredPair
		var createdAt int64
		if err := rows.Scan(&p.A, &p.B, &createdAt); err != nil {
			done(err)
			return nil, err
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		pairs = append(pairs, p)
	}
	err = rows.Err()
	done(err)
	return pairs, err
}
