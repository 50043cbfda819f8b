package database

import (
	"context"
	"testing"
)

func TestNormalizePair(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, wantA, wantB int64
	}{
		{1, 2, 1, 2},
		{2, 1, 1, 2},
		{5, 5, 5, 5},
	}
	for _, tt := range tests {
		a, b := NormalizePair(tt.a, tt.b)
		if a != tt.wantA || b != tt.wantB {
			t.Errorf("NormalizePair(%d, %d) = (%d, %d), want (%d, %d)", tt.a, tt.b, a, b, tt.wantA, tt.wantB)
		}
	}
}

func TestIgnorePairs(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()

	added, err := db.IgnorePairs(ctx, [][2]int64{{2, 1}, {1, 2}, {3, 3}, {4, 1}})
	if err != nil {
		t.Fatalf("IgnorePairs() failed: %v", err)
	}
	if added != 2 {
		t.Errorf("IgnorePairs() added = %d, want 2", added)
	}

	added, err = db.IgnorePairs(ctx, [][2]int64{{1, 2}})
	if err != nil || added != 0 {
		t.Errorf("IgnorePairs() again = %d, %v, want 0", added, err)
	}

	pairs, err := db.ListIgnored(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("ListIgnored() = %v, want 2 pairs", pairs)
	}
	// Most recent first; both rows share a second so id order breaks the tie.
	if pairs[0].A != 1 || pairs[0].B != 4 || pairs[1].A != 1 || pairs[1].B != 2 {
		t.Errorf("ListIgnored() = %v", pairs)
	}

	limited, _ := db.ListIgnored(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("ListIgnored(1) returned %d pairs", len(limited))
	}
}

func TestUnignorePairs(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.IgnorePairs(ctx, [][2]int64{{1, 2}, {1, 3}}); err != nil {
		t.Fatal(err)
	}

	removed, err := db.UnignorePairs(ctx, [][2]int64{{2, 1}, {7, 8}})
	if err != nil {
		t.Fatalf("UnignorePairs() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("UnignorePairs() removed = %d, want 1", removed)
	}

	pairs, _ := db.ListIgnored(ctx, 0)
	if len(pairs) != 1 || pairs[0].B != 3 {
		t.Errorf("ListIgnored() = %v, want only (1, 3)", pairs)
	}
}
