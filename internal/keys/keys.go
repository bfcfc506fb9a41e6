// Package keys maps logical (user, folder path, name) coordinates onto
// flat object-store keys, and derives per-tenant bucket names. Pure
// functions, no I/O.
package keys

import (
	"fmt"
	"strings"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
)

// Encode builds the object key for a file or folder. The key layout is
// <userPublicID>/<path>/<name>, with a trailing slash marking a folder
// placeholder. path may carry leading or trailing slashes; they are
// normalized away.
func Encode(userPublicID, path, name string, isFolder bool) string {
	var b strings.Builder
	b.WriteString(userPublicID)
	b.WriteByte('/')
	if p := strings.Trim(path, "/"); p != "" {
		b.WriteString(p)
		b.WriteByte('/')
	}
	b.WriteString(name)
	if isFolder {
		b.WriteByte('/')
	}
	return b.String()
}

// Decoded is the logical address recovered from a raw object key.
type Decoded struct {
	Path     string
	Name     string
	IsFolder bool
}

// Decode splits a raw key back into its logical coordinates. The key must
// start with the user's prefix; anything else is reported as
// files.ErrMalformedKey and the caller is expected to skip the entry.
func Decode(userPublicID, rawKey string) (Decoded, error) {
	prefix := userPublicID + "/"
	if !strings.HasPrefix(rawKey, prefix) {
		return Decoded{}, fmt.Errorf("%w: %q does not start with %q", files.ErrMalformedKey, rawKey, prefix)
	}

	rest := strings.TrimPrefix(rawKey, prefix)
	isFolder := strings.HasSuffix(rest, "/")
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		// The user's root placeholder has no name of its own.
		return Decoded{}, fmt.Errorf("%w: key %q has no name segment", files.ErrMalformedKey, rawKey)
	}

	var path, name string
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		path, name = rest[:i], rest[i+1:]
	} else {
		name = rest
	}
	return Decoded{Path: path, Name: name, IsFolder: isFolder}, nil
}

// ListingPrefix returns the key prefix under which a folder's children
// live: <userPublicID>/<path>/ with a single trailing slash.
func ListingPrefix(userPublicID, path string) string {
	prefix := userPublicID + "/"
	if p := strings.Trim(path, "/"); p != "" {
		prefix += p + "/"
	}
	return prefix
}

// bucketSanitizer maps characters that are unsafe in bucket names.
var bucketSanitizer = strings.NewReplacer(" ", "-", ".", "-")

// ResolveBucket derives the bucket name for a tenant. The result is
// deterministic: lowercase, with spaces and dots replaced by dashes.
// Distinct tenant names can in principle collide after sanitizing; that
// is a known limitation, surfaced at bucket creation as a conflict.
func ResolveBucket(bucketPrefix, tenantName string) string {
	return strings.ToLower(bucketSanitizer.Replace(bucketPrefix + tenantName))
}
