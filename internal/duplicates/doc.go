// Package duplicates finds near-duplicate images by perceptual hash and
// manages what happens to them afterwards.
//
// FindClusters buckets fingerprints by prefix and grows star-shaped
// clusters inside each bucket, skipping pairs recorded in the ignore
// registry. The Service adds the database side: loading fingerprints and
// images, ignoring and un-ignoring pairs, merging duplicates into a keeper,
// and purging images onto the blacklist so later scans skip them.
package duplicates
