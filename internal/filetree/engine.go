// Package filetree implements the virtual file hierarchy on top of the
// flat object store: listing, folder placeholders, uploads, deletion,
// rename and move/copy migration, and quota accounting.
package filetree

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/keys"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/logging"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/storage/s3"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/tenant"
)

// Store is the object-store surface the engine drives. *s3.Adapter
// implements it; tests use it to fence the engine off from the SDK.
type Store interface {
	Head(ctx context.Context, key string) (*s3.ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error
	Copy(ctx context.Context, srcKey, dstKey string, replaceMetadata map[string]string) error
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys []string) error
	DeleteBucket(ctx context.Context) error
	ListPrefix(ctx context.Context, prefix string, fn func(s3.ListedObject) error) error
	PresignGet(ctx context.Context, key string, ttl time.Duration, asAttachment bool, filename string) (string, error)
}

// StoreResolver picks the store (bucket) serving a request's tenant.
type StoreResolver interface {
	StoreFor(ctx context.Context, scope files.Scope) (Store, error)
}

// StoreResolverFunc adapts a function to StoreResolver.
type StoreResolverFunc func(ctx context.Context, scope files.Scope) (Store, error)

func (f StoreResolverFunc) StoreFor(ctx context.Context, scope files.Scope) (Store, error) {
	return f(ctx, scope)
}

// TokenIssuer signs the access tokens embedded in entry action URLs.
type TokenIssuer interface {
	Issue(scope files.Scope, path, name, publicHash string) (string, error)
}

// Notifier receives change notifications after mutating operations.
type Notifier interface {
	Notify(action, userPublicID, path, name string)
}

// Engine executes file-tree operations for one deployment. Safe for
// concurrent use.
type Engine struct {
	stores  StoreResolver
	tenants tenant.Directory
	tokens  TokenIssuer
	notify  Notifier

	// legacyFolderCopy restores the old behavior of migrating only the
	// folder placeholder, leaving descendants behind.
	legacyFolderCopy bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches a change-event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

// WithLegacyFolderCopy switches folder move/copy to placeholder-only
// migration.
func WithLegacyFolderCopy(on bool) Option {
	return func(e *Engine) { e.legacyFolderCopy = on }
}

// New creates an engine.
func New(stores StoreResolver, tenants tenant.Directory, tokens TokenIssuer, opts ...Option) *Engine {
	e := &Engine{stores: stores, tenants: tenants, tokens: tokens}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(action string, scope files.Scope, path, name string) {
	if e.notify != nil {
		e.notify.Notify(action, scope.UserPublicID, path, name)
	}
}

// ListFolder returns the entries directly under path. A non-empty
// pattern switches to a recursive search matching entry names, with no
// depth restriction.
func (e *Engine) ListFolder(ctx context.Context, scope files.Scope, path, pattern string) ([]files.Entry, error) {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return nil, err
	}

	prefix := keys.ListingPrefix(scope.UserPublicID, path)
	pattern = strings.ToLower(pattern)

	entries := []files.Entry{}
	err = store.ListPrefix(ctx, prefix, func(o s3.ListedObject) error {
		if o.Key == prefix {
			// The listed folder's own placeholder is not a child.
			return nil
		}
		d, derr := keys.Decode(scope.UserPublicID, o.Key)
		if derr != nil {
			logging.Warn("skipping malformed key", zap.String("key", o.Key), zap.Error(derr))
			return nil
		}

		if pattern != "" {
			if !strings.Contains(strings.ToLower(d.Name), pattern) {
				return nil
			}
		} else {
			// Direct children only: exactly one segment past the
			// prefix, not counting a folder's trailing slash.
			rest := strings.TrimPrefix(o.Key, prefix)
			rest = strings.TrimSuffix(rest, "/")
			if strings.Contains(rest, "/") {
				return nil
			}
		}

		entries = append(entries, e.populate(scope, d, o.Size))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateFolder creates an empty folder by writing its placeholder
// object. Creating a folder that already exists is a no-op.
func (e *Engine) CreateFolder(ctx context.Context, scope files.Scope, path, name string) error {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return err
	}
	key := keys.Encode(scope.UserPublicID, path, name, true)
	if err := store.Put(ctx, key, strings.NewReader(""), "", nil); err != nil {
		return err
	}
	e.emit("create", scope, path, name)
	return nil
}

// CreateFile uploads content as path/name, overwriting any existing
// object under the same key. The original file name is pinned in object
// metadata so later renames can rewrite it.
func (e *Engine) CreateFile(ctx context.Context, scope files.Scope, path, name string, body io.Reader) error {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return err
	}
	key := keys.Encode(scope.UserPublicID, path, name, false)
	meta := map[string]string{"filename": name}
	if err := store.Put(ctx, key, body, contentTypeByName(name), meta); err != nil {
		return err
	}
	e.emit("create", scope, path, name)
	return nil
}

// OpenFile streams a file's content. The caller closes the reader.
func (e *Engine) OpenFile(ctx context.Context, scope files.Scope, path, name string) (io.ReadCloser, int64, error) {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return nil, 0, err
	}
	return store.Get(ctx, keys.Encode(scope.UserPublicID, path, name, false))
}

// GetFileInfo returns the populated entry for a single file, or
// files.ErrNotFound.
func (e *Engine) GetFileInfo(ctx context.Context, scope files.Scope, path, name string) (*files.Entry, error) {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return nil, err
	}
	info, err := store.Head(ctx, keys.Encode(scope.UserPublicID, path, name, false))
	if err != nil {
		return nil, err
	}
	entry := e.populate(scope, keys.Decoded{Path: strings.Trim(path, "/"), Name: name}, info.Size)
	if info.ContentType != "" {
		entry.ContentType = info.ContentType
	}
	return &entry, nil
}

// FileExists reports whether path/name exists as a file.
func (e *Engine) FileExists(ctx context.Context, scope files.Scope, path, name string) (bool, error) {
	_, err := e.GetFileInfo(ctx, scope, path, name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// PresignRead issues a time-limited direct URL for a file. asAttachment
// forces the browser to download rather than render.
func (e *Engine) PresignRead(ctx context.Context, scope files.Scope, path, name string, ttl time.Duration, asAttachment bool) (string, error) {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return "", err
	}
	key := keys.Encode(scope.UserPublicID, path, name, false)
	return store.PresignGet(ctx, key, ttl, asAttachment, name)
}

// GetQuota reports the user's total stored bytes against the tenant
// limit. Usage is computed from a full listing on demand; nothing is
// tracked incrementally.
func (e *Engine) GetQuota(ctx context.Context, scope files.Scope) (files.Quota, error) {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return files.Quota{}, err
	}

	var used uint64
	prefix := keys.ListingPrefix(scope.UserPublicID, "")
	err = store.ListPrefix(ctx, prefix, func(o s3.ListedObject) error {
		if o.Size > 0 {
			used += uint64(o.Size)
		}
		return nil
	})
	if err != nil {
		return files.Quota{}, err
	}

	limit, err := e.tenants.QuotaLimit(ctx, scope.TenantID)
	if err != nil {
		return files.Quota{}, err
	}
	q := files.Quota{Used: used}
	if limit > 0 {
		q.Limit = uint64(limit)
	}
	return q, nil
}
