package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
)

// classifyError converts SDK errors into the domain taxonomy so callers
// can branch on sentinels instead of matching SDK types. The adapter does
// not retry; retry policy belongs to the calling operation.
func classifyError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s canceled: %v", files.ErrStorageUnavailable, operation, err)
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %s", files.ErrNotFound, operation)
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return fmt.Errorf("%w: %s", files.ErrNotFound, operation)
	}
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		// First-use bucket creation racing with itself; the bucket is ours.
		return nil
	}
	var taken *types.BucketAlreadyExists
	if errors.As(err, &taken) {
		return fmt.Errorf("%w: %s", files.ErrBucketConflict, operation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", files.ErrNotFound, operation)
		case "AccessDenied":
			return fmt.Errorf("%w: %s", files.ErrAccessDenied, operation)
		case "BucketAlreadyOwnedByYou":
			return nil
		case "BucketAlreadyExists":
			return fmt.Errorf("%w: %s", files.ErrBucketConflict, operation)
		default:
			return fmt.Errorf("%w: %s (code %s): %v", files.ErrStorageUnavailable, operation, apiErr.ErrorCode(), err)
		}
	}

	return fmt.Errorf("%w: %s: %v", files.ErrStorageUnavailable, operation, err)
}
