package filetree

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/keys"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/logging"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/storage/s3"
)

// Delete removes the given files and folders. Folders are deleted
// recursively: the batch covers every descendant plus the placeholder.
func (e *Engine) Delete(ctx context.Context, scope files.Scope, items []files.Item) error {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return err
	}

	for _, item := range items {
		if item.IsFolder {
			if err := e.deleteFolder(ctx, store, scope, item.Path, item.Name); err != nil {
				return err
			}
		} else {
			key := keys.Encode(scope.UserPublicID, item.Path, item.Name, false)
			if err := store.Delete(ctx, key); err != nil {
				return err
			}
		}
		e.emit("delete", scope, item.Path, item.Name)
	}
	return nil
}

func (e *Engine) deleteFolder(ctx context.Context, store Store, scope files.Scope, path, name string) error {
	prefix := keys.ListingPrefix(scope.UserPublicID, files.JoinPath(path, name))
	var batch []string
	err := store.ListPrefix(ctx, prefix, func(o s3.ListedObject) error {
		batch = append(batch, o.Key)
		return nil
	})
	if err != nil {
		return err
	}
	// The placeholder key equals the listing prefix so it is usually in
	// the batch already; folders created out-of-band may lack one.
	placeholder := keys.Encode(scope.UserPublicID, path, name, true)
	found := false
	for _, k := range batch {
		if k == placeholder {
			found = true
			break
		}
	}
	if !found {
		batch = append(batch, placeholder)
	}
	return store.DeleteBatch(ctx, batch)
}

// Rename gives a file or folder a new name within its folder. It is a
// move with identical source and target paths.
func (e *Engine) Rename(ctx context.Context, scope files.Scope, path, name, newName string, isFolder bool) error {
	item := files.Item{Name: name, NewName: newName, IsFolder: isFolder}
	return e.CopyOrMove(ctx, scope, path, path, []files.Item{item}, true)
}

// CopyOrMove migrates items from fromPath to toPath. A move deletes the
// source after a successful copy; there is no rollback, so a failure
// after the copy leaves the object present at both locations rather
// than lost. Folder migrations that fail partway return
// *files.PartialMoveError naming the keys still at the source.
func (e *Engine) CopyOrMove(ctx context.Context, scope files.Scope, fromPath, toPath string, items []files.Item, move bool) error {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		return err
	}

	var unmoved []string
	for _, item := range items {
		src := fromPath
		if item.Path != "" {
			src = item.Path
		}
		newName := item.NewName
		if newName == "" {
			newName = item.Name
		}

		if item.IsFolder {
			left, err := e.migrateFolder(ctx, store, scope, src, toPath, item.Name, newName, move)
			if err != nil {
				return err
			}
			unmoved = append(unmoved, left...)
		} else {
			if err := e.migrateFile(ctx, store, scope, src, toPath, item.Name, newName, move); err != nil {
				return err
			}
		}
		e.emit(transferAction(src, toPath, item.Name, newName, move), scope, toPath, newName)
	}

	if len(unmoved) > 0 {
		return &files.PartialMoveError{Unmoved: unmoved}
	}
	return nil
}

func transferAction(fromPath, toPath, name, newName string, move bool) string {
	if !move {
		return "copy"
	}
	if fromPath == toPath && name != newName {
		return "rename"
	}
	return "move"
}

// migrateFile copies one file, rewriting the filename metadata when the
// name changes so downloads report the new name.
func (e *Engine) migrateFile(ctx context.Context, store Store, scope files.Scope, fromPath, toPath, name, newName string, move bool) error {
	srcKey := keys.Encode(scope.UserPublicID, fromPath, name, false)
	dstKey := keys.Encode(scope.UserPublicID, toPath, newName, false)

	var replace map[string]string
	if newName != name {
		info, err := store.Head(ctx, srcKey)
		if err != nil {
			return err
		}
		replace = make(map[string]string, len(info.Metadata)+1)
		for k, v := range info.Metadata {
			replace[k] = v
		}
		replace["filename"] = newName
	}

	if err := store.Copy(ctx, srcKey, dstKey, replace); err != nil {
		return err
	}
	if move {
		return store.Delete(ctx, srcKey)
	}
	return nil
}

// migrateFolder copies a folder placeholder and, unless legacy mode is
// on, every descendant. Descendant failures do not abort the loop; the
// keys left behind are returned so the caller can report them.
func (e *Engine) migrateFolder(ctx context.Context, store Store, scope files.Scope, fromPath, toPath, name, newName string, move bool) ([]string, error) {
	srcPrefix := keys.ListingPrefix(scope.UserPublicID, files.JoinPath(fromPath, name))
	dstPrefix := keys.ListingPrefix(scope.UserPublicID, files.JoinPath(toPath, newName))
	srcPlaceholder := keys.Encode(scope.UserPublicID, fromPath, name, true)
	dstPlaceholder := keys.Encode(scope.UserPublicID, toPath, newName, true)

	if err := store.Copy(ctx, srcPlaceholder, dstPlaceholder, nil); err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		// No placeholder at the source; materialize one at the target
		// so the folder shows up in listings.
		if err := store.Put(ctx, dstPlaceholder, strings.NewReader(""), "", nil); err != nil {
			return nil, err
		}
	}

	var unmoved []string
	if !e.legacyFolderCopy {
		var moved []string
		err := store.ListPrefix(ctx, srcPrefix, func(o s3.ListedObject) error {
			if o.Key == srcPrefix {
				return nil
			}
			dst := dstPrefix + strings.TrimPrefix(o.Key, srcPrefix)
			if cerr := store.Copy(ctx, o.Key, dst, nil); cerr != nil {
				logging.Warn("descendant copy failed",
					zap.String("key", o.Key), zap.Error(cerr))
				unmoved = append(unmoved, o.Key)
				return nil
			}
			moved = append(moved, o.Key)
			return nil
		})
		if err != nil {
			return nil, err
		}

		if move {
			for _, key := range moved {
				if derr := store.Delete(ctx, key); derr != nil {
					logging.Warn("source cleanup failed",
						zap.String("key", key), zap.Error(derr))
					unmoved = append(unmoved, key)
				}
			}
		}
	}

	// Keep the source folder visible while any of its content remains.
	if move && len(unmoved) == 0 {
		if err := store.Delete(ctx, srcPlaceholder); err != nil && !isNotFound(err) {
			unmoved = append(unmoved, srcPlaceholder)
		}
	}
	return unmoved, nil
}
