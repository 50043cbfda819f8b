// Package indexer discovers library images and keeps the database in step
// with the filesystem.
//
// A ParallelWalker lists supported files under the configured roots. The
// Scanner then handles each file: unchanged files are skipped, new files
// are checked against the purge blacklist (name and size first, content
// hash second), and accepted files get dimensions, EXIF fields, folder
// categories and a thumbnail. Records whose file has disappeared are
// removed by RemoveOrphans without blacklisting them.
package indexer
