package main

import (
	"context"
	"fmt"

	"github.com/esprusso/photo-library/internal/database"
)

// openDatabase opens the database named by --db or the environment.
func openDatabase(ctx context.Context, flags *rootFlags, opts database.Options) (*database.Database, error) {
	db, err := database.Open(ctx, flags.databaseURL(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
