// Package phash computes and compares 256-bit perceptual fingerprints.
//
// A fingerprint is an average hash over a 16x16 grayscale grid, stored as 64
// lowercase hex characters. Copies of the same picture that were rescaled or
// recompressed usually differ by only a few bits, so Hamming distance is a
// cheap similarity measure. Prefix supplies bucket keys for the duplicate
// clusterer.
package phash
