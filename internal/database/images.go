package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// imageColumns lists the columns scanned by scanImage, excluding phash,
// which only exists from schema v2.
const imageColumns = `id, path, local_path, filename, file_size, width, height, aspect_ratio, format,
	camera_make, camera_model, lens_model, focal_length, aperture, shutter_speed, iso, flash_used,
	date_taken, favorite, rating, thumbnail_path, created_at, modified_at, indexed_at`

func (d *Database) imageSelect() string {
	if d.caps.SupportsFingerprint {
		return "SELECT " + imageColumns + ", phash FROM images"
	}
	return "SELECT " + imageColumns + ", NULL FROM images"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*Image, error) {
	var img Image
	var dateTaken sql.NullInt64
	var phash sql.NullString
	var createdAt, modifiedAt, indexedAt int64

	err := row.Scan(
		&img.ID, &img.Path, &img.LocalPath, &img.Filename, &img.FileSize,
		&img.Width, &img.Height, &img.AspectRatio, &img.Format,
		&img.CameraMake, &img.CameraModel, &img.LensModel, &img.FocalLength, &img.Aperture,
		&img.ShutterSpeed, &img.ISO, &img.FlashUsed,
		&dateTaken, &img.Favorite, &img.Rating, &img.ThumbnailPath,
		&createdAt, &modifiedAt, &indexedAt, &phash,
	)
	if err != nil {
		return nil, err
	}

	img.DateTaken = timeFromNull(dateTaken)
	img.Phash = phash.String
	img.CreatedAt = time.Unix(createdAt, 0).UTC()
	img.ModifiedAt = time.Unix(modifiedAt, 0).UTC()
	img.IndexedAt = time.Unix(indexedAt, 0).UTC()
	img.Tags = []string{}
	img.Categories = []string{}
	return &img, nil
}

// InsertImage adds a new image record and returns its id.
func (d *Database) InsertImage(ctx context.Context, img *Image) (int64, error) {
	done := observeQuery("insert_image")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := nowUnix()
	modified := img.ModifiedAt.Unix()
	if img.ModifiedAt.IsZero() {
		modified = now
	}

	id, err := d.insertID(ctx, d.db, `
		INSERT INTO images (path, local_path, filename, file_size, width, height, aspect_ratio, format,
			camera_make, camera_model, lens_model, focal_length, aperture, shutter_speed, iso, flash_used,
			date_taken, favorite, rating, thumbnail_path, created_at, modified_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.Path, img.LocalPath, img.Filename, img.FileSize, img.Width, img.Height, img.AspectRatio, img.Format,
		img.CameraMake, img.CameraModel, img.LensModel, img.FocalLength, img.Aperture, img.ShutterSpeed,
		img.ISO, boolInt(img.FlashUsed), unixOrNil(img.DateTaken), boolInt(img.Favorite), img.Rating,
		img.ThumbnailPath, now, modified, now,
	)
	done(err)
	if err != nil {
		return 0, fmt.Errorf("failed to insert image %s: %w", img.Path, err)
	}

	img.ID = id
	return id, nil
}

// UpdateImageFile refreshes the file-derived columns of an existing image
// after the scanner saw it change on disk.
func (d *Database) UpdateImageFile(ctx context.Context, img *Image) error {
	done := observeQuery("update_image_file")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, d.rebind(`
		UPDATE images SET file_size = ?, width = ?, height = ?, aspect_ratio = ?, format = ?,
			camera_make = ?, camera_model = ?, lens_model = ?, focal_length = ?, aperture = ?,
			shutter_speed = ?, iso = ?, flash_used = ?, date_taken = COALESCE(?, date_taken),
			modified_at = ?, indexed_at = ?
		WHERE id = ?`),
		img.FileSize, img.Width, img.Height, img.AspectRatio, img.Format,
		img.CameraMake, img.CameraModel, img.LensModel, img.FocalLength, img.Aperture,
		img.ShutterSpeed, img.ISO, boolInt(img.FlashUsed), unixOrNil(img.DateTaken),
		img.ModifiedAt.Unix(), nowUnix(), img.ID,
	)
	done(err)
	if err != nil {
		return fmt.Errorf("failed to update image %d: %w", img.ID, err)
	}

	// Pixel data may have changed; the old fingerprint no longer applies.
	if d.caps.SupportsFingerprint {
		if _, err := d.db.ExecContext(ctx, d.rebind(`UPDATE images SET phash = NULL WHERE id = ?`), img.ID); err != nil {
			return fmt.Errorf("failed to clear fingerprint for image %d: %w", img.ID, err)
		}
	}
	return nil
}

// UpdateCameraMetadata replaces the EXIF-derived columns of an image.
func (d *Database) UpdateCameraMetadata(ctx context.Context, id int64, m CameraMetadata) error {
	done := observeQuery("update_camera_metadata")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, d.rebind(`
		UPDATE images SET camera_make = ?, camera_model = ?, lens_model = ?, focal_length = ?,
			aperture = ?, shutter_speed = ?, iso = ?, flash_used = ?, date_taken = COALESCE(?, date_taken)
		WHERE id = ?`),
		m.CameraMake, m.CameraModel, m.LensModel, m.FocalLength, m.Aperture, m.ShutterSpeed,
		m.ISO, boolInt(m.FlashUsed), unixOrNil(m.DateTaken), id,
	)
	done(err)
	return err
}

// GetImage returns one image with its tags and categories.
func (d *Database) GetImage(ctx context.Context, id int64) (*Image, error) {
	done := observeQuery("get_image")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	img, err := scanImage(d.db.QueryRowContext(ctx, d.rebind(d.imageSelect()+" WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("image %d: %w", id, ErrNotFound)
	}
	if err != nil {
		done(err)
		return nil, err
	}

	if err := d.attachLabels(ctx, d.db, []*Image{img}); err != nil {
		done(err)
		return nil, err
	}
	done(nil)
	return img, nil
}

// GetImageByPath returns the image stored under path, or ErrNotFound.
func (d *Database) GetImageByPath(ctx context.Context, path string) (*Image, error) {
	done := observeQuery("get_image_by_path")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	img, err := scanImage(d.db.QueryRowContext(ctx, d.rebind(d.imageSelect()+" WHERE path = ?"), path))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("image %s: %w", path, ErrNotFound)
	}
	done(err)
	return img, err
}

// ImageFilter narrows ListImages.
type ImageFilter struct {
	Rating   *int
	Favorite *bool
	Untagged bool
	IDs      []int64
	Limit    int
	Offset   int
}

// ListImages returns images ordered by id.
func (d *Database) ListImages(ctx context.Context, f ImageFilter) ([]*Image, error) {
	done := observeQuery("list_images")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var where []string
	var args []any
	if f.Rating != nil {
		where = append(where, "rating = ?")
		args = append(args, *f.Rating)
	}
	if f.Favorite != nil {
		where = append(where, "favorite = ?")
		args = append(args, boolInt(*f.Favorite))
	}
	if f.Untagged {
		where = append(where, "NOT EXISTS (SELECT 1 FROM image_tags it WHERE it.image_id = images.id)")
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	query := d.imageSelect()
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer closeRows(rows, "images")

	var images []*Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			done(err)
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		done(err)
		return nil, err
	}

	err = d.attachLabels(ctx, d.db, images)
	done(err)
	return images, err
}

// ListImageIDs returns ids matching the filter without loading rows.
func (d *Database) ListImageIDs(ctx context.Context, f ImageFilter) ([]int64, error) {
	images, err := d.ListImages(ctx, f)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	return ids, nil
}

// ListImageFiles returns the id/path projection of every image.
func (d *Database) ListImageFiles(ctx context.Context) ([]ImageFile, error) {
	done := observeQuery("list_image_files")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `SELECT id, path, local_path, modified_at FROM images ORDER BY id`)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list image files: %w", err)
	}
	defer closeRows(rows, "image files")

	var files []ImageFile
	for rows.Next() {
		var f ImageFile
		var modified int64
		if err := rows.Scan(&f.ID, &f.Path, &f.LocalPath, &modified); err != nil {
			done(err)
			return nil, err
		}
		f.ModifiedAt = time.Unix(modified, 0).UTC()
		files = append(files, f)
	}
	err = rows.Err()
	done(err)
	return files, err
}

// SetFavorite updates the favorite flag.
func (d *Database) SetFavorite(ctx context.Context, id int64, favorite bool) error {
	return d.updateImageColumn(ctx, "set_favorite", "favorite", boolInt(favorite), id)
}

// SetRating updates the 0-5 star rating.
func (d *Database) SetRating(ctx context.Context, id int64, rating int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("rating must be between 0 and 5, got %d", rating)
	}
	return d.updateImageColumn(ctx, "set_rating", "rating", rating, id)
}

// SetThumbnailPath records where the thumbnail for an image was written.
func (d *Database) SetThumbnailPath(ctx context.Context, id int64, path string) error {
	return d.updateImageColumn(ctx, "set_thumbnail_path", "thumbnail_path", path, id)
}

func (d *Database) updateImageColumn(ctx context.Context, op, column string, value any, id int64) error {
	done := observeQuery(op)

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, d.rebind("UPDATE images SET "+column+" = ? WHERE id = ?"), value, id)
	if err == nil {
		err = requireAffected(res, fmt.Sprintf("image %d", id))
	}
	done(err)
	return err
}

// DeleteImage removes an image record without blacklisting it.
func (d *Database) DeleteImage(ctx context.Context, id int64) error {
	done := observeQuery("delete_image")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		return d.deleteImageTx(ctx, tx, id)
	})
	done(err)
	return err
}

// DeleteImagesByID removes records in one transaction and returns how many
// existed. Used by orphan cleanup.
func (d *Database) DeleteImagesByID(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	done := observeQuery("delete_images")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			err := d.deleteImageTx(ctx, tx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	done(err)
	return removed, err
}

// deleteImageTx clears association rows explicitly so PostgreSQL and SQLite
// builds without foreign key enforcement behave the same.
func (d *Database) deleteImageTx(ctx context.Context, tx *sql.Tx, id int64) error {
	for _, q := range []string{
		"DELETE FROM image_tags WHERE image_id = ?",
		"DELETE FROM image_categories WHERE image_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, d.rebind(q), id); err != nil {
			return fmt.Errorf("failed to clear associations for image %d: %w", id, err)
		}
	}

	if d.caps.SupportsFeaturedImage {
		if _, err := tx.ExecContext(ctx, d.rebind(
			"UPDATE categories SET featured_image_id = NULL WHERE featured_image_id = ?"), id); err != nil {
			return fmt.Errorf("failed to clear featured image %d: %w", id, err)
		}
	}

	res, err := tx.ExecContext(ctx, d.rebind("DELETE FROM images WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete image %d: %w", id, err)
	}
	return requireAffected(res, fmt.Sprintf("image %d", id))
}

// ListFingerprints returns (id, phash) for images that have a fingerprint,
// ordered by id and capped at limit rows.
func (d *Database) ListFingerprints(ctx context.Context, limit int) ([]Fingerprint, error) {
	if !d.caps.SupportsFingerprint {
		return nil, ErrSchemaNotMigrated
	}
	done := observeQuery("list_fingerprints")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := "SELECT id, phash FROM images WHERE phash IS NOT NULL AND phash <> '' ORDER BY id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer closeRows(rows, "fingerprints")

	var out []Fingerprint
	for rows.Next() {
		var fp Fingerprint
		if err := rows.Scan(&fp.ImageID, &fp.Phash); err != nil {
			done(err)
			return nil, err
		}
		out = append(out, fp)
	}
	err = rows.Err()
	done(err)
	return out, err
}

// ListImagesForPhash returns id and path projections of images needing a
// fingerprint (all images when recompute is set).
func (d *Database) ListImagesForPhash(ctx context.Context, recompute bool) ([]ImageFile, error) {
	if !d.caps.SupportsFingerprint {
		return nil, ErrSchemaNotMigrated
	}
	done := observeQuery("list_images_for_phash")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := "SELECT id, path, local_path, modified_at FROM images"
	if !recompute {
		query += " WHERE phash IS NULL OR phash = ''"
	}
	query += " ORDER BY id"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("failed to list images for phash: %w", err)
	}
	defer closeRows(rows, "phash candidates")

	var files []ImageFile
	for rows.Next() {
		var f ImageFile
		var modified int64
		if err := rows.Scan(&f.ID, &f.Path, &f.LocalPath, &modified); err != nil {
			done(err)
			return nil, err
		}
		f.ModifiedAt = time.Unix(modified, 0).UTC()
		files = append(files, f)
	}
	err = rows.Err()
	done(err)
	return files, err
}

// SetPhash stores a freshly computed fingerprint.
func (d *Database) SetPhash(ctx context.Context, id int64, phash string) error {
	if !d.caps.SupportsFingerprint {
		return ErrSchemaNotMigrated
	}
	return d.updateImageColumn(ctx, "set_phash", "phash", phash, id)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
