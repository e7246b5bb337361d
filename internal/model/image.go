package model

import "time"

// Resolution is one of the three renditions stored for every image.
type Resolution string

const (
	ResolutionOriginal  Resolution = "original"
	ResolutionMobile    Resolution = "mobile"
	ResolutionThumbnail Resolution = "thumbnail"
)

// Resolutions lists every rendition in upload order.
var Resolutions = []Resolution{ResolutionOriginal, ResolutionMobile, ResolutionThumbnail}

// Valid reports whether r is a known rendition.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionOriginal, ResolutionMobile, ResolutionThumbnail:
		return true
	}
	return false
}

// ImageObject is one stored rendition.
type ImageObject struct {
	Bucket       string     `json:"bucket"`
	Key          string     `json:"key"`
	FileName     string     `json:"fileName"` // original upload name, from object metadata
	Resolution   Resolution `json:"resolution"`
	ContentType  string     `json:"contentType"`
	LastModified time.Time  `json:"lastModified"`
	Data         []byte     `json:"-"`
}

// ImageSet is the result of one upload: the same object name under each
// rendition prefix.
type ImageSet struct {
	Bucket     string                `json:"bucket"`
	ObjectName string                `json:"objectName"`
	FileName   string                `json:"fileName"`
	Keys       map[Resolution]string `json:"keys"`
}
