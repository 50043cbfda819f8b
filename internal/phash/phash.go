package phash

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support

	"github.com/esprusso/photo-library/internal/metrics"
)

const (
	// GridSize is the edge of the downsampled grayscale grid.
	GridSize = 16

	// Bits is the fingerprint length in bits.
	Bits = GridSize * GridSize

	// HexLength is the serialized fingerprint length.
	HexLength = Bits / 4

	// MaxDistance is returned by HammingDistance for unparseable input.
	MaxDistance = Bits
)

const words = Bits / 64

// ErrDecode is returned when the source cannot be decoded as an image.
var ErrDecode = errors.New("image decode failed")

// ComputeFile fingerprints the image stored at path.
func ComputeFile(path string) (string, error) {
	start := time.Now()

	img, err := imaging.Open(path)
	if err != nil {
		metrics.PhashComputeTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}

	fp := FromImage(img)
	metrics.PhashComputeTotal.WithLabelValues("success").Inc()
	metrics.PhashComputeDuration.Observe(time.Since(start).Seconds())
	return fp, nil
}

// Compute fingerprints an encoded image read from r.
func Compute(r io.Reader) (string, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		metrics.PhashComputeTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	metrics.PhashComputeTotal.WithLabelValues("success").Inc()
	return FromImage(img), nil
}

// ComputeBytes fingerprints an encoded image held in memory.
func ComputeBytes(data []byte) (string, error) {
	return Compute(bytes.NewReader(data))
}

// FromImage computes the average hash of an already decoded image.
//
// The image is converted to grayscale and resampled to a 16x16 grid. Bit i
// (row-major sample order) is set when sample i is at or above the grid mean.
// The 256-bit value treats sample 0 as the least significant bit and is
// rendered as 64 lowercase hex digits, most significant first.
func FromImage(img image.Image) string {
	gray := imaging.Grayscale(img)
	small := imaging.Resize(gray, GridSize, GridSize, imaging.Lanczos)

	var samples [Bits]int
	total := 0
	for i := 0; i < Bits; i++ {
		// Grayscale output has R == G == B
		v := int(small.Pix[i*4])
		samples[i] = v
		total += v
	}

	// v >= total/Bits without losing the fractional part of the mean
	var raw [Bits / 8]byte
	for i, v := range samples {
		if v*Bits >= total {
			raw[len(raw)-1-i/8] |= 1 << (uint(i) % 8)
		}
	}

	return hex.EncodeToString(raw[:])
}

// parse splits a fingerprint into 64-bit words.
func parse(fp string) ([]uint64, error) {
	if len(fp) != HexLength {
		return nil, fmt.Errorf("fingerprint must be %d hex characters, got %d", HexLength, len(fp))
	}

	out := make([]uint64, words)
	for i := 0; i < words; i++ {
		w, err := strconv.ParseUint(fp[i*16:(i+1)*16], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fingerprint: %w", err)
		}
		out[i] = w
	}
	return out, nil
}

// Valid reports whether fp is a well-formed fingerprint.
func Valid(fp string) bool {
	_, err := parse(fp)
	return err == nil
}

// ToImageHash converts a fingerprint into a goimagehash average hash.
func ToImageHash(fp string) (*goimagehash.ExtImageHash, error) {
	ws, err := parse(fp)
	if err != nil {
		return nil, err
	}
	return goimagehash.NewExtImageHash(ws, goimagehash.AHash, Bits), nil
}

// HammingDistance counts differing bits between two fingerprints.
// Malformed input yields MaxDistance so callers treat it as a non-match.
func HammingDistance(a, b string) int {
	pa, err := Parse(a)
	if err != nil {
		return MaxDistance
	}
	pb, err := Parse(b)
	if err != nil {
		return MaxDistance
	}
	return pa.Distance(pb)
}

// Parsed is a fingerprint decoded once for repeated comparisons.
type Parsed struct {
	Hex  string
	hash *goimagehash.ExtImageHash
}

// Parse decodes fp for repeated distance computations.
func Parse(fp string) (Parsed, error) {
	h, err := ToImageHash(fp)
	if err != nil {
		return Parsed{}, err
	}
	return Parsed{Hex: fp, hash: h}, nil
}

// Distance returns the Hamming distance between two parsed fingerprints.
func (p Parsed) Distance(other Parsed) int {
	if p.hash == nil || other.hash == nil {
		return MaxDistance
	}
	d, err := p.hash.Distance(other.hash)
	if err != nil {
		return MaxDistance
	}
	return d
}

// Prefix returns the leading ceil(nBits/4) hex characters of fp, used as a
// bucket key. An empty fingerprint yields an empty prefix.
func Prefix(fp string, nBits int) string {
	if fp == "" || nBits <= 0 {
		return ""
	}
	n := (nBits + 3) / 4
	if n > len(fp) {
		n = len(fp)
	}
	return fp[:n]
}
