// Package export writes zip archives of library files into the downloads
// directory and looks them up again for serving.
package export
