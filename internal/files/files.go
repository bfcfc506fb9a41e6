// Package files contains the domain types shared across the filestorage
// service: file entries, per-request scope, and the error taxonomy.
package files

import (
	"errors"
	"fmt"
	"strings"
)

// StorageType identifies this storage in the host application's registry.
const StorageType = "s3"

// Action names attached to file entries.
const (
	ActionList     = "list"
	ActionView     = "view"
	ActionDownload = "download"
)

// Scope carries the tenant/user context for a single request. It is
// constructed once at the boundary and passed down explicitly; nothing in
// this module reads ambient global state.
type Scope struct {
	TenantID     int64
	UserPublicID string
	// Origin is the request's Origin header, used when a bucket is
	// provisioned on first use to seed its CORS policy.
	Origin string
}

// Action describes one operation available on a file entry, with the URL
// the client should call to perform it.
type Action struct {
	URL string `json:"url,omitempty"`
}

// Entry is one logical file or folder visible to a user. Entries are
// built transiently from object-store listings; the store is the source
// of truth and entries are never persisted.
type Entry struct {
	IsFolder    bool              `json:"is_folder"`
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	FullPath    string            `json:"full_path"`
	Size        uint64            `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	HasThumb    bool              `json:"has_thumb"`
	Owner       string            `json:"owner"`
	IsExternal  bool              `json:"is_external"`
	Actions     map[string]Action `json:"actions,omitempty"`
}

// JoinPath builds the full path from a folder path and a name, keeping
// the invariant FullPath == path == "" ? name : path + "/" + name.
func JoinPath(path, name string) string {
	if path == "" || path == "/" {
		return name
	}
	return strings.TrimSuffix(path, "/") + "/" + name
}

// Item addresses one file or folder inside a user's tree, as supplied by
// the host application for delete and move/copy requests.
type Item struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	NewName  string `json:"new_name,omitempty"`
	IsFolder bool   `json:"is_folder"`
}

// Quota reports storage usage for one user.
type Quota struct {
	Used  uint64 `json:"used"`
	Limit uint64 `json:"limit"`
}

// Sentinel errors for the storage core. Store-level failures are wrapped
// with one of these so callers can branch without string matching.
var (
	ErrStorageUnavailable = errors.New("object store unavailable")
	ErrBucketConflict     = errors.New("bucket name conflict")
	ErrMalformedKey       = errors.New("malformed object key")
	ErrNotFound           = errors.New("not found")
	ErrAccessDenied       = errors.New("access denied")
)

// PartialMoveError reports a folder move/copy where some descendants
// migrated and others did not. Migrated objects are not rolled back:
// duplication is preferred over silent loss.
type PartialMoveError struct {
	// Unmoved lists the source keys that were not migrated.
	Unmoved []string
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("partial move: %d object(s) left at source", len(e.Unmoved))
}
