package media

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/filesystem"
	"github.com/esprusso/photo-library/internal/logging"

	"github.com/rwcarlsen/goexif/exif"
)

// ErrNoExif is returned when a file carries no readable EXIF block.
var ErrNoExif = errors.New("no exif data")

// ReadCameraMetadata extracts camera fields from a file's EXIF block.
// Individual missing tags are left at their zero value.
func ReadCameraMetadata(path string) (database.CameraMetadata, error) {
	var meta database.CameraMetadata

	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return meta, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close %s: %v", path, err)
		}
	}()

	x, err := exif.Decode(f)
	if err != nil {
		return meta, fmt.Errorf("%w: %s: %v", ErrNoExif, path, err)
	}

	meta.CameraMake = exifString(x, exif.Make)
	meta.CameraModel = exifString(x, exif.Model)
	meta.LensModel = exifString(x, exif.LensModel)
	meta.FocalLength = round1(exifFloat(x, exif.FocalLength))
	meta.Aperture = round1(exifFloat(x, exif.FNumber))
	meta.ShutterSpeed = shutterSpeed(x)

	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil {
			meta.ISO = iso
		}
	}
	if tag, err := x.Get(exif.Flash); err == nil {
		if flash, err := tag.Int(0); err == nil {
			meta.FlashUsed = flash&1 == 1
		}
	}
	if taken, err := x.DateTime(); err == nil {
		meta.DateTaken = &taken
	}

	return meta, nil
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func exifFloat(x *exif.Exif, field exif.FieldName) float64 {
	tag, err := x.Get(field)
	if err != nil {
		return 0
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// shutterSpeed renders ExposureTime as "1/250" for unit fractions and as a
// decimal otherwise.
func shutterSpeed(x *exif.Exif) string {
	tag, err := x.Get(exif.ExposureTime)
	if err != nil {
		return ""
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return ""
	}
	if num == 1 {
		return "1/" + strconv.FormatInt(den, 10)
	}
	return strconv.FormatFloat(float64(num)/float64(den), 'f', -1, 64)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
