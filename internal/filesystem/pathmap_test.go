package filesystem

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathMapper_Map(t *testing.T) {
	pm := NewPathMapper(
		Mapping{From: "/volume1/photos/", To: "/library"},
		Mapping{From: "/volume1/photos/archive", To: "/archive"},
		Mapping{From: "", To: "/ignored"},
		Mapping{From: "/same", To: "/same"},
	)

	tests := []struct {
		in   string
		want string
	}{
		{"/volume1/photos/2023/a.jpg", "/library/2023/a.jpg"},
		{"/volume1/photos", "/library"},
		{"/volume1/photos/archive/old.jpg", "/archive/old.jpg"},
		{"/volume1/photosets/a.jpg", "/volume1/photosets/a.jpg"},
		{"/library/a.jpg", "/library/a.jpg"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := pm.Map(tt.in); got != tt.want {
			t.Errorf("Map(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	var nilMapper *PathMapper
	if got := nilMapper.Map("/x"); got != "/x" {
		t.Errorf("nil mapper Map() = %q", got)
	}
}

func TestPathMapper_Resolve(t *testing.T) {
	dir := t.TempDir()
	container := filepath.Join(dir, "library")
	if err := os.MkdirAll(container, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(container, "a.jpg")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	pm := NewPathMapper(Mapping{From: "/nas/photos", To: container})

	if got, ok := pm.Resolve(file); !ok || got != file {
		t.Errorf("Resolve(existing) = %q, %v", got, ok)
	}
	if got, ok := pm.Resolve("/nas/photos/a.jpg"); !ok || got != file {
		t.Errorf("Resolve(mapped) = %q, %v, want %q", got, ok, file)
	}
	if _, ok := pm.Resolve("/nas/photos/missing.jpg"); ok {
		t.Error("Resolve(missing) should fail")
	}
	if _, ok := pm.Resolve(""); ok {
		t.Error("Resolve(\"\") should fail")
	}
}

func TestLoadMappings(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	content := "mappings:\n  - from: /volume1/photos\n    to: /library\n  - from: /mnt/old\n    to: /library/old\n"
	if err := os.WriteFile(good, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	mappings, err := LoadMappings(good)
	if err != nil {
		t.Fatalf("LoadMappings() failed: %v", err)
	}
	if len(mappings) != 2 || mappings[1].To != "/library/old" {
		t.Errorf("LoadMappings() = %+v", mappings)
	}

	incomplete := filepath.Join(dir, "incomplete.yaml")
	if err := os.WriteFile(incomplete, []byte("mappings:\n  - from: /a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMappings(incomplete); err == nil {
		t.Error("LoadMappings() should reject a mapping without to")
	}

	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("mappings: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMappings(broken); err == nil {
		t.Error("LoadMappings() should reject invalid YAML")
	}

	if _, err := LoadMappings(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadMappings() should fail for a missing file")
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/data/media", "/data/media/a.jpg", true},
		{"/data/media", "/data/media", true},
		{"/data/media/", "/data/media/sub/../a.jpg", true},
		{"/data/media", "/data/media/../secret", false},
		{"/data/media", "/data/mediaX/a.jpg", false},
		{"/data/media", "/etc/passwd", false},
		{"", "/data/media/a.jpg", false},
		{"/data/media", "", false},
	}
	for _, tt := range tests {
		if got := IsWithin(tt.root, tt.path); got != tt.want {
			t.Errorf("IsWithin(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	// Larger than one chunk so the chunked path is exercised.
	data := []byte(strings.Repeat("photo", hashChunkSize/5+100))
	path := filepath.Join(dir, "big.jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() failed: %v", err)
	}
	if got != want {
		t.Errorf("HashFile() = %s, want %s", got, want)
	}

	if _, err := HashFile(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("HashFile(missing) should fail")
	}
}

func TestFingerprintFirst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256([]byte("abc"))
	wantHash := hex.EncodeToString(sum[:])

	fp := FingerprintFirst(nil, "", filepath.Join(dir, "missing.jpg"), path)
	if fp.Hash != wantHash {
		t.Errorf("Hash = %q, want %q", fp.Hash, wantHash)
	}
	if fp.Size == nil || *fp.Size != 3 {
		t.Errorf("Size = %v, want 3", fp.Size)
	}

	known := int64(99)
	fp = FingerprintFirst(&known, path)
	if *fp.Size != 99 {
		t.Errorf("known size overwritten: %d", *fp.Size)
	}

	fp = FingerprintFirst(nil, filepath.Join(dir, "missing.jpg"))
	if fp.Hash != "" || fp.Size != nil {
		t.Errorf("FingerprintFirst(missing) = %+v, want empty", fp)
	}
}
