package extract

import (
	"io"
	"strconv"

	"github.com/rwcarlsen/goexif/exif"
)

// ImageMeta is what EXIF tells us about a photo.
type ImageMeta struct {
	Location    string
	DateCreated string
}

// EXIF reads GPS position and capture time from an image. Images without
// EXIF data yield an empty ImageMeta.
func EXIF(r io.Reader) ImageMeta {
	x, err := exif.Decode(r)
	if err != nil {
		return ImageMeta{}
	}

	var meta ImageMeta
	if lat, long, err := x.LatLong(); err == nil {
		meta.Location = FormatLocation(lat, long)
	}
	if t, err := x.DateTime(); err == nil {
		meta.DateCreated = t.Format("2006-01-02T15:04:05")
	}
	return meta
}

// FormatLocation renders coordinates as "lat, long" using the shortest
// representation that round-trips.
func FormatLocation(lat, long float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + ", " + strconv.FormatFloat(long, 'f', -1, 64)
}
