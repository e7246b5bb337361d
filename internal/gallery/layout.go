package gallery

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pikoshi/pikoshi/internal/model"
)

// DefaultAlbum is the album every user starts with and every upload lands in.
const DefaultAlbum = "album_default"

// ObjectName derives the storage name of an upload from its filename.
//
// It is a routing digest, not a security hash: two uploads with the same
// filename map to the same name and the second overwrites the first.
func ObjectName(fileName string) string {
	sum := sha256.Sum256([]byte(fileName))
	return hex.EncodeToString(sum[:])
}

// ObjectKey is {uuid}/{album}/{resolution}/{objectName}.
func ObjectKey(userUUID, album string, res model.Resolution, objectName string) string {
	return strings.Join([]string{userUUID, album, string(res), objectName}, "/")
}

// ResolutionPrefix is the listing prefix for one rendition of an album.
func ResolutionPrefix(userUUID, album string, res model.Resolution) string {
	return userUUID + "/" + album + "/" + string(res) + "/"
}

// AlbumMarkerKey is the zero-byte "directory" object that marks an album.
func AlbumMarkerKey(userUUID, album string) string {
	return userUUID + "/" + album + "/"
}

// isDirMarker reports whether key is a directory marker rather than an image.
func isDirMarker(key string) bool {
	return strings.HasSuffix(key, "/")
}
