package mediatypes

import (
	"path/filepath"
	"strings"
)

// Kind classifies a library file by extension.
type Kind string

const (
	// KindImage is a format the decoders in this module can read.
	KindImage Kind = "image"
	// KindRaw is a camera RAW format. It is indexed but not decoded.
	KindRaw Kind = "raw"
	// KindOther is anything the scanner ignores.
	KindOther Kind = "other"
)

// ImageExtensions maps decodable image extensions to their format name.
var ImageExtensions = map[string]string{
	".jpg":  "JPEG",
	".jpeg": "JPEG",
	".png":  "PNG",
	".webp": "WEBP",
	".tiff": "TIFF",
	".tif":  "TIFF",
	".bmp":  "BMP",
}

// RawExtensions maps camera RAW extensions to their format name.
var RawExtensions = map[string]string{
	".cr2": "CR2",
	".nef": "NEF",
	".arw": "ARW",
	".dng": "DNG",
	".orf": "ORF",
	".raf": "RAF",
	".rw2": "RW2",
}

// MimeTypes maps extensions to MIME types for the files served back.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".bmp":  "image/bmp",
	".zip":  "application/zip",
}

// Ext returns the lowercase extension of path, including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// KindOf returns the Kind of a file path.
func KindOf(path string) Kind {
	ext := Ext(path)
	if _, ok := ImageExtensions[ext]; ok {
		return KindImage
	}
	if _, ok := RawExtensions[ext]; ok {
		return KindRaw
	}
	return KindOther
}

// Supported reports whether the scanner indexes path. RAW files are
// included unless excludeRaw is set.
func Supported(path string, excludeRaw bool) bool {
	switch KindOf(path) {
	case KindImage:
		return true
	case KindRaw:
		return !excludeRaw
	default:
		return false
	}
}

// Format returns the format name stored on image records, or "" for
// unsupported extensions.
func Format(path string) string {
	ext := Ext(path)
	if f, ok := ImageExtensions[ext]; ok {
		return f
	}
	return RawExtensions[ext]
}

// MimeType returns the MIME type for path, defaulting to
// application/octet-stream.
func MimeType(path string) string {
	if m, ok := MimeTypes[Ext(path)]; ok {
		return m
	}
	return "application/octet-stream"
}
