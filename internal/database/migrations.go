package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/esprusso/photo-library/internal/logging"
	"github.com/esprusso/photo-library/internal/metrics"
)

// Capabilities describes optional schema features, fixed at startup from the
// applied migration version.
type Capabilities struct {
	SupportsFingerprint   bool `json:"supports_fingerprint"`
	SupportsFeaturedImage bool `json:"supports_featured_image"`
}

const (
	versionBase        = 1
	versionFingerprint = 2
	versionFeatured    = 3
	versionBlacklistIx = 4
)

// LatestVersion is the schema version written by a full migration.
const LatestVersion = versionBlacklistIx

func capabilitiesFor(version int) Capabilities {
	return Capabilities{
		SupportsFingerprint:   version >= versionFingerprint,
		SupportsFeaturedImage: version >= versionFeatured,
	}
}

// migration is one schema step. DDL uses tokens expanded per dialect:
// @ID@ (auto-increment primary key), @INT@ (64-bit integer), @REAL@ (float).
type migration struct {
	version     int
	description string
	up          string

	// adopted reports whether a database created outside this migration
	// history already has the change, in which case only the version is
	// recorded.
	adopted func(ctx context.Context, d *Database) (bool, error)
}

var migrations = []migration{
	{
		version:     versionBase,
		description: "base tables",
		up: `
		CREATE TABLE IF NOT EXISTS images (
			id @ID@,
			path TEXT NOT NULL UNIQUE,
			local_path TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL,
			file_size @INT@ NOT NULL DEFAULT 0,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			aspect_ratio @REAL@ NOT NULL DEFAULT 0,
			format TEXT NOT NULL DEFAULT '',
			camera_make TEXT NOT NULL DEFAULT '',
			camera_model TEXT NOT NULL DEFAULT '',
			lens_model TEXT NOT NULL DEFAULT '',
			focal_length @REAL@ NOT NULL DEFAULT 0,
			aperture @REAL@ NOT NULL DEFAULT 0,
			shutter_speed TEXT NOT NULL DEFAULT '',
			iso INTEGER NOT NULL DEFAULT 0,
			flash_used INTEGER NOT NULL DEFAULT 0,
			date_taken @INT@,
			favorite INTEGER NOT NULL DEFAULT 0,
			rating INTEGER NOT NULL DEFAULT 0,
			thumbnail_path TEXT NOT NULL DEFAULT '',
			created_at @INT@ NOT NULL,
			modified_at @INT@ NOT NULL,
			indexed_at @INT@ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_images_filename ON images(filename);
		CREATE INDEX IF NOT EXISTS idx_images_rating ON images(rating);

		CREATE TABLE IF NOT EXISTS tags (
			id @ID@,
			name TEXT NOT NULL UNIQUE,
			created_at @INT@ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS image_tags (
			image_id @INT@ NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			tag_id @INT@ NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			PRIMARY KEY (image_id, tag_id)
		);

		CREATE INDEX IF NOT EXISTS idx_image_tags_tag ON image_tags(tag_id);

		CREATE TABLE IF NOT EXISTS categories (
			id @ID@,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at @INT@ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS image_categories (
			image_id @INT@ NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			category_id @INT@ NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			PRIMARY KEY (image_id, category_id)
		);

		CREATE INDEX IF NOT EXISTS idx_image_categories_category ON image_categories(category_id);

		CREATE TABLE IF NOT EXISTS jobs (
			id @ID@,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			total_items INTEGER NOT NULL DEFAULT 0,
			processed_items INTEGER NOT NULL DEFAULT 0,
			parameters TEXT,
			result TEXT,
			error_message TEXT,
			created_at @INT@ NOT NULL,
			started_at @INT@,
			completed_at @INT@
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_type_status ON jobs(type, status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

		CREATE TABLE IF NOT EXISTS duplicate_ignores (
			id @ID@,
			image_id_a @INT@ NOT NULL,
			image_id_b @INT@ NOT NULL,
			created_at @INT@ NOT NULL,
			UNIQUE (image_id_a, image_id_b)
		);

		CREATE TABLE IF NOT EXISTS purged_images (
			id @ID@,
			filename TEXT NOT NULL,
			file_size @INT@,
			file_hash TEXT,
			width INTEGER,
			height INTEGER,
			original_path TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			purged_at @INT@ NOT NULL
		);
		`,
	},
	{
		version:     versionFingerprint,
		description: "perceptual hash column on images",
		up: `
		ALTER TABLE images ADD COLUMN phash TEXT;
		CREATE INDEX IF NOT EXISTS idx_images_phash ON images(phash);
		`,
		adopted: func(ctx context.Context, d *Database) (bool, error) {
			return d.columnExists(ctx, "images", "phash")
		},
	},
	{
		version:     versionFeatured,
		description: "featured image columns on categories",
		up: `
		ALTER TABLE categories ADD COLUMN featured_image_id @INT@;
		ALTER TABLE categories ADD COLUMN featured_image_position TEXT;
		`,
		adopted: func(ctx context.Context, d *Database) (bool, error) {
			return d.columnExists(ctx, "categories", "featured_image_id")
		},
	},
	{
		version:     versionBlacklistIx,
		description: "blacklist lookup indexes",
		up: `
		CREATE INDEX IF NOT EXISTS idx_purged_filename ON purged_images(filename);
		CREATE INDEX IF NOT EXISTS idx_purged_hash ON purged_images(file_hash);
		`,
	},
}

// expandDDL substitutes dialect-specific column types.
func (d *Database) expandDDL(ddl string) string {
	r := strings.NewReplacer(
		"@ID@", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"@INT@", "INTEGER",
		"@REAL@", "REAL",
	)
	if d.dialect == DialectPostgres {
		r = strings.NewReplacer(
			"@ID@", "BIGSERIAL PRIMARY KEY",
			"@INT@", "BIGINT",
			"@REAL@", "DOUBLE PRECISION",
		)
	}
	return r.Replace(ddl)
}

func (d *Database) initialize(ctx context.Context, opts Options) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at BIGINT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	if opts.AutoMigrate {
		if err := d.migrate(ctx); err != nil {
			return err
		}
	}

	version, err := d.schemaVersion(ctx)
	if err != nil {
		return err
	}

	d.version = version
	d.caps = capabilitiesFor(version)
	metrics.DBSchemaVersion.Set(float64(version))

	if version < LatestVersion {
		logging.Warn("Database schema is at v%d, latest is v%d; run the migrate command", version, LatestVersion)
	}
	return nil
}

// migrate applies pending migrations in order.
func (d *Database) migrate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		if m.adopted != nil {
			ok, err := m.adopted(ctx, d)
			if err != nil {
				return fmt.Errorf("migration %d (%s) check failed: %w", m.version, m.description, err)
			}
			if ok {
				logging.Info("Migration %d (%s): already present, recording version", m.version, m.description)
				if err := d.setSchemaVersion(ctx, m.version); err != nil {
					return err
				}
				continue
			}
		}

		logging.Info("Migrating database: %d (%s)", m.version, m.description)
		if _, err := d.db.ExecContext(ctx, d.expandDDL(m.up)); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
		if err := d.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}

	return nil
}

// Migrate applies pending migrations and refreshes Capabilities.
func (d *Database) Migrate(ctx context.Context) error {
	if err := d.migrate(ctx); err != nil {
		return err
	}
	version, err := d.schemaVersion(ctx)
	if err != nil {
		return err
	}
	d.version = version
	d.caps = capabilitiesFor(version)
	metrics.DBSchemaVersion.Set(float64(version))
	return nil
}

func (d *Database) schemaVersion(ctx context.Context) (int, error) {
	var version int
	err := d.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (d *Database) setSchemaVersion(ctx context.Context, version int) error {
	_, err := d.db.ExecContext(ctx,
		d.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?) ON CONFLICT (version) DO NOTHING`),
		version, nowUnix())
	if err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", version, err)
	}
	return nil
}

// columnExists checks whether a column exists, for adopting databases whose
// columns were added by hand.
func (d *Database) columnExists(ctx context.Context, table, column string) (bool, error) {
	var count int
	var err error
	if d.dialect == DialectPostgres {
		err = d.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		`, table, column).Scan(&count)
	} else {
		err = d.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
		).Scan(&count)
	}
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SchemaVersion returns the version recorded at startup (or after Migrate).
func (d *Database) SchemaVersion() int {
	return d.version
}

// Capabilities returns the optional features available in this schema.
func (d *Database) Capabilities() Capabilities {
	return d.caps
}
