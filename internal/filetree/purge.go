package filetree

import (
	"context"

	"go.uber.org/zap"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/keys"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/logging"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/metrics"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/storage/s3"
)

// PurgeUserFiles removes everything the user has stored. Account
// deletion must not be blocked by storage trouble, so failures are
// logged and reported as false rather than returned.
func (e *Engine) PurgeUserFiles(ctx context.Context, scope files.Scope) bool {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		logging.Error("user purge: resolving store failed",
			zap.String("user", scope.UserPublicID), zap.Error(err))
		return false
	}

	prefix := keys.ListingPrefix(scope.UserPublicID, "")
	var batch []string
	err = store.ListPrefix(ctx, prefix, func(o s3.ListedObject) error {
		batch = append(batch, o.Key)
		return nil
	})
	if err != nil {
		logging.Error("user purge: listing failed",
			zap.String("user", scope.UserPublicID), zap.Error(err))
		return false
	}
	if err := store.DeleteBatch(ctx, batch); err != nil {
		logging.Error("user purge: delete failed",
			zap.String("user", scope.UserPublicID), zap.Error(err))
		return false
	}
	metrics.RecordPurgedObjects("user", len(batch))
	return true
}

// PurgeTenantBucket empties and removes the tenant's bucket. Same
// swallow-to-bool contract as PurgeUserFiles.
func (e *Engine) PurgeTenantBucket(ctx context.Context, scope files.Scope) bool {
	store, err := e.stores.StoreFor(ctx, scope)
	if err != nil {
		logging.Error("tenant purge: resolving store failed",
			zap.Int64("tenant", scope.TenantID), zap.Error(err))
		return false
	}

	var batch []string
	err = store.ListPrefix(ctx, "", func(o s3.ListedObject) error {
		batch = append(batch, o.Key)
		return nil
	})
	if err != nil {
		logging.Error("tenant purge: listing failed",
			zap.Int64("tenant", scope.TenantID), zap.Error(err))
		return false
	}
	if err := store.DeleteBatch(ctx, batch); err != nil {
		logging.Error("tenant purge: delete failed",
			zap.Int64("tenant", scope.TenantID), zap.Error(err))
		return false
	}
	if err := store.DeleteBucket(ctx); err != nil {
		logging.Error("tenant purge: bucket delete failed",
			zap.Int64("tenant", scope.TenantID), zap.Error(err))
		return false
	}
	metrics.RecordPurgedObjects("tenant", len(batch))
	return true
}
