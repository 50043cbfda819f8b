// Package media reads image files for the library.
//
// Probe returns size, dimensions and format without a full decode.
// ReadCameraMetadata extracts the EXIF camera fields. ThumbnailGenerator
// renders bounded JPEG thumbnails named after the image id.
package media
