package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// GetOrCreateTag gets an existing tag or creates a new one.
func (d *Database) GetOrCreateTag(ctx context.Context, name string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("tag name cannot be empty")
	}
	done := observeQuery("get_or_create_tag")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	id, err := d.tagIDUnlocked(ctx, d.db, name)
	done(err)
	if err != nil {
		return nil, err
	}
	return d.getTagUnlocked(ctx, id)
}

// tagIDUnlocked returns the id of the named tag, creating it if needed.
// Caller must hold the write lock.
func (d *Database) tagIDUnlocked(ctx context.Context, q queryer, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, d.rebind("SELECT id FROM tags WHERE LOWER(name) = LOWER(?)"), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	id, err = d.insertID(ctx, q, "INSERT INTO tags (name, created_at) VALUES (?, ?)", name, nowUnix())
	if err != nil {
		return 0, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	return id, nil
}

func (d *Database) getTagUnlocked(ctx context.Context, id int64) (*Tag, error) {
	var tag Tag
	var createdAt int64
	err := d.db.QueryRowContext(ctx, d.rebind(`
		SELECT t.id, t.name, t.created_at, COUNT(it.image_id)
		FROM tags t
		LEFT JOIN image_tags it ON it.tag_id = t.id
		WHERE t.id = ?
		GROUP BY t.id, t.name, t.created_at
	`), id).Scan(&tag.ID, &tag.Name, &createdAt, &tag.ImageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	tag.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &tag, nil
}

// GetAllTags returns all tags with image counts.
func (d *Database) GetAllTags(ctx context.Context) ([]Tag, error) {
	done := observeQuery("get_all_tags")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.created_at, COUNT(it.image_id)
		FROM tags t
		LEFT JOIN image_tags it ON it.tag_id = t.id
		GROUP BY t.id, t.name, t.created_at
		ORDER BY LOWER(t.name)
	`)
	if err != nil {
		done(err)
		return nil, err
	}
	defer closeRows(rows, "tags")

	tags := []Tag{}
	for rows.Next() {
		var tag Tag
		var createdAt int64
		if err := rows.Scan(&tag.ID, &tag.Name, &createdAt, &tag.ImageCount); err != nil {
			done(err)
			return nil, err
		}
		tag.CreatedAt = time.Unix(createdAt, 0).UTC()
		tags = append(tags, tag)
	}
	err = rows.Err()
	done(err)
	return tags, err
}

// AddTagsToImage attaches the named tags to an image, creating missing tags.
// It returns how many associations were new.
func (d *Database) AddTagsToImage(ctx context.Context, imageID int64, names []string) (int, error) {
	done := observeQuery("add_tags_to_image")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	added := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, d.rebind("SELECT COUNT(*) FROM images WHERE id = ?"), imageID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("image %d: %w", imageID, ErrNotFound)
		}

		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			tagID, err := d.tagIDUnlocked(ctx, tx, name)
			if err != nil {
				return err
			}
			n, err := d.linkUnlocked(ctx, tx, "image_tags", "tag_id", imageID, tagID)
			if err != nil {
				return err
			}
			added += n
		}
		return nil
	})
	done(err)
	return added, err
}

// RemoveTagsFromImage detaches the named tags from an image, matching names
// case-insensitively. It returns how many associations were removed.
func (d *Database) RemoveTagsFromImage(ctx context.Context, imageID int64, names []string) (int, error) {
	done := observeQuery("remove_tags_from_image")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	removed := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := d.requireRowUnlocked(ctx, tx, "images", "image", imageID); err != nil {
			return err
		}
		for _, name := range names {
			res, err := tx.ExecContext(ctx, d.rebind(`
				DELETE FROM image_tags
				WHERE image_id = ? AND tag_id IN (SELECT id FROM tags WHERE LOWER(name) = LOWER(?))
			`), imageID, strings.TrimSpace(name))
			if err != nil {
				return fmt.Errorf("failed to untag image %d: %w", imageID, err)
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
	return removed, err
}

// requireRowUnlocked returns ErrNotFound unless table has a row with id.
// what names the row in the error.
func (d *Database) requireRowUnlocked(ctx context.Context, q queryer, table, what string, id int64) error {
	var count int
	if err := q.QueryRowContext(ctx, d.rebind("SELECT COUNT(*) FROM "+table+" WHERE id = ?"), id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

// linkUnlocked inserts an association row if missing, returning 1 when a
// row was added.
func (d *Database) linkUnlocked(ctx context.Context, q queryer, table, column string, imageID, otherID int64) (int, error) {
	res, err := q.ExecContext(ctx, d.rebind(
		"INSERT INTO "+table+" (image_id, "+column+") VALUES (?, ?) ON CONFLICT DO NOTHING"),
		imageID, otherID)
	if err != nil {
		return 0, fmt.Errorf("failed to link image %d in %s: %w", imageID, table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetOrCreateCategory returns the named category, creating it if needed.
func (d *Database) GetOrCreateCategory(ctx context.Context, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("category name cannot be empty")
	}
	done := observeQuery("get_or_create_category")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	id, err := d.categoryIDUnlocked(ctx, d.db, name)
	if err != nil {
		done(err)
		return nil, err
	}
	cat, err := d.getCategoryUnlocked(ctx, id)
	done(err)
	return cat, err
}

func (d *Database) categoryIDUnlocked(ctx context.Context, q queryer, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, d.rebind("SELECT id FROM categories WHERE name = ?"), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	id, err = d.insertID(ctx, q, "INSERT INTO categories (name, description, created_at) VALUES (?, '', ?)", name, nowUnix())
	if err != nil {
		return 0, fmt.Errorf("failed to create category %q: %w", name, err)
	}
	return id, nil
}

func (d *Database) categorySelect() string {
	featured := "NULL, NULL"
	if d.caps.SupportsFeaturedImage {
		featured = "c.featured_image_id, c.featured_image_position"
	}
	return `
		SELECT c.id, c.name, c.description, c.created_at, ` + featured + `,
			(SELECT COUNT(*) FROM image_categories ic WHERE ic.category_id = c.id)
		FROM categories c`
}

func scanCategory(row rowScanner) (*Category, error) {
	var cat Category
	var createdAt int64
	var featuredID sql.NullInt64
	var position sql.NullString
	if err := row.Scan(&cat.ID, &cat.Name, &cat.Description, &createdAt, &featuredID, &position, &cat.ImageCount); err != nil {
		return nil, err
	}
	cat.CreatedAt = time.Unix(createdAt, 0).UTC()
	if featuredID.Valid {
		id := featuredID.Int64
		cat.FeaturedImageID = &id
	}
	cat.FeaturedImagePosition = position.String
	return &cat, nil
}

func (d *Database) getCategoryUnlocked(ctx context.Context, id int64) (*Category, error) {
	cat, err := scanCategory(d.db.QueryRowContext(ctx, d.rebind(d.categorySelect()+" WHERE c.id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	return cat, err
}

// GetCategory returns one category with its image count.
func (d *Database) GetCategory(ctx context.Context, id int64) (*Category, error) {
	done := observeQuery("get_category")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cat, err := d.getCategoryUnlocked(ctx, id)
	done(err)
	return cat, err
}

// GetAllCategories returns every category ordered by name.
func (d *Database) GetAllCategories(ctx context.Context) ([]Category, error) {
	done := observeQuery("get_all_categories")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, d.categorySelect()+" ORDER BY c.name")
	if err != nil {
		done(err)
		return nil, err
	}
	defer closeRows(rows, "categories")

	cats := []Category{}
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			done(err)
			return nil, err
		}
		cats = append(cats, *cat)
	}
	err = rows.Err()
	done(err)
	return cats, err
}

// SetFeaturedImage sets the cover image of a category. Returns
// ErrSchemaNotMigrated when the schema predates featured images.
func (d *Database) SetFeaturedImage(ctx context.Context, categoryID int64, imageID *int64, position string) error {
	if !d.caps.SupportsFeaturedImage {
		return ErrSchemaNotMigrated
	}
	done := observeQuery("set_featured_image")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var featured any
	if imageID != nil {
		featured = *imageID
	}
	res, err := d.db.ExecContext(ctx, d.rebind(
		"UPDATE categories SET featured_image_id = ?, featured_image_position = ? WHERE id = ?"),
		featured, position, categoryID)
	if err == nil {
		err = requireAffected(res, fmt.Sprintf("category %d", categoryID))
	}
	done(err)
	return err
}

// AddImageToCategory links an image to the named category, creating it.
func (d *Database) AddImageToCategory(ctx context.Context, imageID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("category name cannot be empty")
	}
	done := observeQuery("add_image_to_category")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		catID, err := d.categoryIDUnlocked(ctx, tx, name)
		if err != nil {
			return err
		}
		_, err = d.linkUnlocked(ctx, tx, "image_categories", "category_id", imageID, catID)
		return err
	})
	done(err)
	return err
}

// AddImagesToCategory links existing images to a category. Unknown image ids
// are skipped. It returns how many links were new.
func (d *Database) AddImagesToCategory(ctx context.Context, categoryID int64, imageIDs []int64) (int, error) {
	done := observeQuery("add_images_to_category")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	added := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := d.requireRowUnlocked(ctx, tx, "categories", "category", categoryID); err != nil {
			return err
		}
		for _, id := range imageIDs {
			res, err := tx.ExecContext(ctx, d.rebind(`
				INSERT INTO image_categories (image_id, category_id)
				SELECT id, CAST(? AS BIGINT) FROM images WHERE id = ?
				ON CONFLICT DO NOTHING
			`), categoryID, id)
			if err != nil {
				return fmt.Errorf("failed to add image %d to category %d: %w", id, categoryID, err)
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
	return added, err
}

// RemoveImagesFromCategory unlinks images from a category and returns how
// many links were removed.
func (d *Database) RemoveImagesFromCategory(ctx context.Context, categoryID int64, imageIDs []int64) (int, error) {
	done := observeQuery("remove_images_from_category")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	removed := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := d.requireRowUnlocked(ctx, tx, "categories", "category", categoryID); err != nil {
			return err
		}
		if len(imageIDs) == 0 {
			return nil
		}
		args := []any{categoryID}
		for _, id := range imageIDs {
			args = append(args, id)
		}
		res, err := tx.ExecContext(ctx, d.rebind(
			"DELETE FROM image_categories WHERE category_id = ? AND image_id IN ("+placeholders(len(imageIDs))+")"),
			args...)
		if err != nil {
			return fmt.Errorf("failed to remove images from category %d: %w", categoryID, err)
		}
		n, err := res.RowsAffected()
		removed = int(n)
		return err
	})
	done(err)
	return removed, err
}

// CategoryUpdate is a partial category edit. Nil fields are left unchanged.
type CategoryUpdate struct {
	Name        *string
	Description *string
}

// UpdateCategory applies u and returns the updated category. A name already
// used by another category yields ErrNameTaken.
func (d *Database) UpdateCategory(ctx context.Context, id int64, u CategoryUpdate) (*Category, error) {
	done := observeQuery("update_category")

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := d.requireRowUnlocked(ctx, tx, "categories", "category", id); err != nil {
			return err
		}
		if u.Name != nil {
			name := strings.TrimSpace(*u.Name)
			if name == "" {
				return errors.New("category name cannot be empty")
			}
			var taken int
			if err := tx.QueryRowContext(ctx, d.rebind(
				"SELECT COUNT(*) FROM categories WHERE name = ? AND id <> ?"), name, id).Scan(&taken); err != nil {
				return err
			}
			if taken > 0 {
				return fmt.Errorf("category %q: %w", name, ErrNameTaken)
			}
			if _, err := tx.ExecContext(ctx, d.rebind("UPDATE categories SET name = ? WHERE id = ?"), name, id); err != nil {
				return fmt.Errorf("failed to rename category %d: %w", id, err)
			}
		}
		if u.Description != nil {
			if _, err := tx.ExecContext(ctx, d.rebind("UPDATE categories SET description = ? WHERE id = ?"), *u.Description, id); err != nil {
				return fmt.Errorf("failed to update category %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		done(err)
		return nil, err
	}
	cat, err := d.getCategoryUnlocked(ctx, id)
	done(err)
	return cat, err
}

// CategoryImages returns the id/path projection of images in a category.
func (d *Database) CategoryImages(ctx context.Context, categoryID int64) ([]ImageFile, error) {
	done := observeQuery("category_images")

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, d.rebind(`
		SELECT i.id, i.path, i.local_path, i.modified_at
		FROM images i
		INNER JOIN image_categories ic ON ic.image_id = i.id
		WHERE ic.category_id = ?
		ORDER BY i.id
	`), categoryID)
	if err != nil {
		done(err)
		return nil, err
	}
	defer closeRows(rows, "category images")

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

// attachLabels fills Tags and Categories for the given images.
// Caller must hold at least a read lock.
func (d *Database) attachLabels(ctx context.Context, q queryer, images []*Image) error {
	if len(images) == 0 {
		return nil
	}
	byID := make(map[int64]*Image, len(images))
	ids := make([]any, 0, len(images))
	for _, img := range images {
		byID[img.ID] = img
		ids = append(ids, img.ID)
	}

	// Large libraries exceed SQLite's bound parameter limit, so batch.
	const batch = 500
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		chunk := ids[start:end]
		in := placeholders(len(chunk))

		if err := d.collectLabels(ctx, q, `
			SELECT it.image_id, t.name FROM image_tags it
			INNER JOIN tags t ON t.id = it.tag_id
			WHERE it.image_id IN (`+in+`)`, chunk, func(img *Image, name string) {
			img.Tags = append(img.Tags, name)
		}, byID); err != nil {
			return err
		}

		if err := d.collectLabels(ctx, q, `
			SELECT ic.image_id, c.name FROM image_categories ic
			INNER JOIN categories c ON c.id = ic.category_id
			WHERE ic.image_id IN (`+in+`)`, chunk, func(img *Image, name string) {
			img.Categories = append(img.Categories, name)
		}, byID); err != nil {
			return err
		}
	}

	for _, img := range images {
		sort.Strings(img.Tags)
		sort.Strings(img.Categories)
	}
	return nil
}

func (d *Database) collectLabels(ctx context.Context, q queryer, query string, args []any, add func(*Image, string), byID map[int64]*Image) error {
	rows, err := q.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to load labels: %w", err)
	}
	defer closeRows(rows, "labels")

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if img, ok := byID[id]; ok {
			add(img, name)
		}
	}
	return rows.Err()
}
