package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const purgedColumns = "id, filename, file_size, file_hash, width, height, original_path, reason, purged_at"

func scanPurged(row rowScanner) (*PurgedImage, error) {
	var p PurgedImage
	var size, width, height sql.NullInt64
	var hash sql.NullString
	var purgedAt int64
	if err := row.Scan(&p.ID, &p.Filename, &size, &hash, &width, &height, &p.OriginalPath, &p.Reason, &purgedAt); err != nil {
		return nil, err
	}
	if size.Valid {
		v := size.Int64
		p.FileSize = &v
	}
	if width.Valid {
		v := int(width.Int64)
		p.Width = &v
	}
	if height.Valid {
		v := int(height.Int64)
		p.Height = &v
	}
	p.FileHash = hash.String
	p.PurgedAt = time.Unix(purgedAt, 0).UTC()
	return &p, nil
}

func (d *Database) insertPurgedUnlocked(ctx context.Context, q queryer, p *PurgedImage) error {
	var size, width, height, hash any
	if p.FileSize != nil {
		size = *p.FileSize
	}
	if p.Width != nil {
		width = *p.Width
	}
	if p.Height != nil {
		height = *p.Height
	}
	if p.FileHash != "" {
		hash = p.FileHash
	}
	now := nowUnix()
	id, err := d.insertID(ctx, q, `
		INSERT INTO purged_images (filename, file_size, file_hash, width, height, original_path, reason, purged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Filename, size, hash, width, height, p.OriginalPath, p.Reason, now)
	if err != nil {
		return fmt.Errorf("failed to blacklist %s: %w", p.Filename, err)
	}
	p.ID = id
	p.PurgedAt = time.Unix(now, 0).UTC()
	return nil
}

// AddPurged inserts a blacklist entry.
func (d *Database) AddPurged(ctx context.Context, p *PurgedImage) error {
	done := observeQuery("add_purged")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := d.insertPurgedUnlocked(ctx, d.db, p)
	done(err)
	return err
}

// FindPurgedByNameSize returns entries with this filename whose size is
// unknown or equal to size.
func (d *Database) FindPurgedByNameSize(ctx context.Context, filename string, size int64) ([]PurgedImage, error) {
	return d.queryPurged(ctx, "find_purged_by_name",
		"SELECT "+purgedColumns+" FROM purged_images WHERE filename = ? AND (file_size IS NULL OR file_size = ?) ORDER BY id",
		filename, size)
}

// FindPurgedByHash returns entries with this content hash.
func (d *Database) FindPurgedByHash(ctx context.Context, hash string) ([]PurgedImage, error) {
	if hash == "" {
		return nil, nil
	}
	return d.queryPurged(ctx, "find_purged_by_hash",
		"SELECT "+purgedColumns+" FROM purged_images WHERE file_hash = ? ORDER BY id", hash)
}

// ListPurged returns entries newest first, optionally for one filename.
func (d *Database) ListPurged(ctx context.Context, filename string, limit int) ([]PurgedImage, error) {
	query := "SELECT " + purgedColumns + " FROM purged_images"
	var args []any
	if filename != "" {
		query += " WHERE filename = ?"
		args = append(args, filename)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return d.queryPurged(ctx, "list_purged", query, args...)
}

func (d *Database) queryPurged(ctx context.Context, op, query string, args ...any) ([]PurgedImage, error) {
	done := observeQuery(op)

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer closeRows(rows, "purged images")

	entries := []PurgedImage{}
	for rows.Next() {
		p, err := scanPurged(rows)
		if err != nil {
			done(err)
			return nil, err
		}
		entries = append(entries, *p)
	}
	err = rows.Err()
	done(err)
	return entries, err
}

// PurgeImage blacklists an image and deletes its record in one transaction.
func (d *Database) PurgeImage(ctx context.Context, id int64, entry *PurgedImage) error {
	done := observeQuery("purge_image")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := d.insertPurgedUnlocked(ctx, tx, entry); err != nil {
			return err
		}
		return d.deleteImageTx(ctx, tx, id)
	})
	done(err)
	return err
}

// MergeAndPurge folds the duplicate's labels and ratings into the keeper,
// then blacklists and deletes the duplicate. Tags and categories are
// unioned, favorite is OR-ed, the higher rating wins and the keeper's
// date_taken is kept unless it has none.
func (d *Database) MergeAndPurge(ctx context.Context, keeperID, duplicateID int64, entry *PurgedImage) error {
	if keeperID == duplicateID {
		return fmt.Errorf("cannot merge image %d into itself", keeperID)
	}
	done := observeQuery("merge_and_purge")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var keeperCount int
		if err := tx.QueryRowContext(ctx, d.rebind("SELECT COUNT(*) FROM images WHERE id = ?"), keeperID).Scan(&keeperCount); err != nil {
			return err
		}
		if keeperCount == 0 {
			return fmt.Errorf("keeper image %d: %w", keeperID, ErrNotFound)
		}

		var favorite, rating int
		var dateTaken sql.NullInt64
		err := tx.QueryRowContext(ctx, d.rebind("SELECT favorite, rating, date_taken FROM images WHERE id = ?"), duplicateID).
			Scan(&favorite, &rating, &dateTaken)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("image %d: %w", duplicateID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		for _, q := range []string{
			"INSERT INTO image_tags (image_id, tag_id) SELECT ?, tag_id FROM image_tags WHERE image_id = ? ON CONFLICT DO NOTHING",
			"INSERT INTO image_categories (image_id, category_id) SELECT ?, category_id FROM image_categories WHERE image_id = ? ON CONFLICT DO NOTHING",
		} {
			if _, err := tx.ExecContext(ctx, d.rebind(q), keeperID, duplicateID); err != nil {
				return fmt.Errorf("failed to merge labels into %d: %w", keeperID, err)
			}
		}

		var taken any
		if dateTaken.Valid {
			taken = dateTaken.Int64
		}
		if _, err := tx.ExecContext(ctx, d.rebind(`
			UPDATE images SET
				favorite = CASE WHEN ? = 1 THEN 1 ELSE favorite END,
				rating = CASE WHEN rating < ? THEN ? ELSE rating END,
				date_taken = COALESCE(date_taken, ?)
			WHERE id = ?`), favorite, rating, rating, taken, keeperID); err != nil {
			return fmt.Errorf("failed to merge metadata into %d: %w", keeperID, err)
		}

		if err := d.insertPurgedUnlocked(ctx, tx, entry); err != nil {
			return err
		}
		return d.deleteImageTx(ctx, tx, duplicateID)
	})
	done(err)
	return err
}
