// Package mediatypes holds the extension tables the library scanner uses to
// decide which files to index.
//
// Decodable formats (JPEG, PNG, WebP, TIFF, BMP) get dimensions, thumbnails
// and perceptual hashes. Camera RAW formats are indexed as records only and
// can be excluded entirely with EXCLUDE_RAW_FILES.
package mediatypes
