package gcsuploader

import (
	"fmt"
	"path"
	"strings"
)

const uriScheme = "gs://"

// ParseURI splits "gs://bucket/path/to/file.pdf" into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, uriScheme) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, uriScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// BuildURI is the inverse of ParseURI.
func BuildURI(bucket, object string) string {
	return uriScheme + bucket + "/" + object
}

// FilenameFromURI returns the last path element of a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, uriScheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ObjectName returns the object path under which a user's statement is
// stored. The checksum prefix keeps re-uploads of the same file in place.
func ObjectName(userID, checksum, filename string) string {
	prefix := checksum
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return path.Join("statements", userID, prefix+"-"+path.Base(filename))
}
