// Package s3 wraps the AWS SDK client behind the small surface the
// filestorage core needs: bucket provisioning on first use, object CRUD,
// server-side copy with metadata directives, paginated prefix listing,
// and presigned GET URLs.
//
// One Adapter owns one lazily-created client per (credentials, endpoint,
// bucket). The handle is created once and reused; callers ask for a
// renewal when the target bucket changes.
package s3

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/logging"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/metrics"
)

// Config holds connection settings for one adapter.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string // empty means the SDK default for the region
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// ObjectInfo is the metadata the adapter reports for a stored object.
type ObjectInfo struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// Adapter is the stateful client wrapper. Safe for concurrent use; the
// client handle is built under a lock, created once and read many times.
type Adapter struct {
	cfg Config

	mu       sync.Mutex
	api      ObjectAPI
	presign  Presigner
	prepared bool // bucket existence and CORS verified

	// test seams
	newAPI     func(ctx context.Context, cfg Config) (ObjectAPI, error)
	newPresign func(api ObjectAPI) Presigner
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClient injects a pre-built client, bypassing SDK construction.
func WithClient(api ObjectAPI) Option {
	return func(a *Adapter) {
		a.newAPI = func(context.Context, Config) (ObjectAPI, error) { return api, nil }
	}
}

// WithPresigner injects a presigner; required when WithClient supplies a
// non-SDK client.
func WithPresigner(p Presigner) Option {
	return func(a *Adapter) {
		a.newPresign = func(ObjectAPI) Presigner { return p }
	}
}

// New creates an adapter for one bucket. No network I/O happens until the
// first operation.
func New(cfg Config, opts ...Option) *Adapter {
	a := &Adapter{cfg: cfg}
	a.newAPI = buildClient
	a.newPresign = func(api ObjectAPI) Presigner {
		if real, ok := api.(*awss3.Client); ok {
			return awss3.NewPresignClient(real)
		}
		return nil
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bucket returns the bucket this adapter is bound to.
func (a *Adapter) Bucket() string {
	return a.cfg.Bucket
}

func buildClient(ctx context.Context, cfg Config) (ObjectAPI, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// GetClient returns the cached client handle, creating it on first use.
// Creation verifies the bucket exists, creating it with a CORS policy for
// origin when absent. renew discards the cached handle first, for callers
// that switched buckets or credentials mid-flight.
func (a *Adapter) GetClient(ctx context.Context, renew bool, origin string) (ObjectAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if renew {
		a.api = nil
		a.presign = nil
		a.prepared = false
	}
	if a.api == nil {
		api, err := a.newAPI(ctx, a.cfg)
		if err != nil {
			return nil, classifyError(err, "create client")
		}
		a.api = api
		a.presign = a.newPresign(api)
	}
	if !a.prepared {
		if err := a.ensureBucket(ctx, origin); err != nil {
			return nil, err
		}
		a.prepared = true
	}
	return a.api, nil
}

// ensureBucket makes the target bucket usable: create it if absent and
// apply the CORS policy. Both steps are idempotent but not atomic; a
// concurrent first use from another process that wins the creation race
// surfaces here as BucketAlreadyOwnedByYou, which counts as success.
func (a *Adapter) ensureBucket(ctx context.Context, origin string) error {
	start := time.Now()
	_, err := a.api.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(a.cfg.Bucket),
	})
	if err == nil {
		metrics.RecordS3Operation("head_bucket", time.Since(start), true)
		return nil
	}
	metrics.RecordS3Operation("head_bucket", time.Since(start), false)

	start = time.Now()
	_, err = a.api.CreateBucket(ctx, &awss3.CreateBucketInput{
		Bucket: aws.String(a.cfg.Bucket),
	})
	if cerr := classifyError(err, "create bucket"); cerr != nil {
		metrics.RecordS3Operation("create_bucket", time.Since(start), false)
		return cerr
	}
	metrics.RecordS3Operation("create_bucket", time.Since(start), true)
	logging.Info("created bucket", zap.String("bucket", a.cfg.Bucket))

	if origin == "" {
		origin = "*"
	}
	// MaxAgeSeconds stays zero: preflight decisions are never cached, so
	// every cross-origin request re-negotiates.
	_, err = a.api.PutBucketCors(ctx, &awss3.PutBucketCorsInput{
		Bucket: aws.String(a.cfg.Bucket),
		CORSConfiguration: &types.CORSConfiguration{
			CORSRules: []types.CORSRule{{
				AllowedMethods: []string{"GET", "PUT", "POST", "DELETE", "HEAD"},
				AllowedOrigins: []string{origin},
				AllowedHeaders: []string{"*"},
				MaxAgeSeconds:  aws.Int32(0),
			}},
		},
	})
	if cerr := classifyError(err, "put bucket cors"); cerr != nil {
		return cerr
	}
	return nil
}

func (a *Adapter) client(ctx context.Context) (ObjectAPI, error) {
	return a.GetClient(ctx, false, "")
}

// Head fetches an object's size, content type and user metadata.
func (a *Adapter) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	api, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordS3Operation("head_object", time.Since(start), false)
		return nil, classifyError(err, "head object")
	}
	metrics.RecordS3Operation("head_object", time.Since(start), true)

	info := &ObjectInfo{Metadata: out.Metadata}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	return info, nil
}

// Get streams an object's content. The caller owns the returned reader.
func (a *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	api, err := a.client(ctx)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	out, err := api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordS3Operation("get_object", time.Since(start), false)
		return nil, 0, classifyError(err, "get object")
	}
	metrics.RecordS3Operation("get_object", time.Since(start), true)

	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// Put uploads content under key. metadata may be nil.
func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, contentType string, metadata map[string]string) error {
	api, err := a.client(ctx)
	if err != nil {
		return err
	}

	input := &awss3.PutObjectInput{
		Bucket:   aws.String(a.cfg.Bucket),
		Key:      aws.String(key),
		Body:     body,
		Metadata: metadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	start := time.Now()
	_, err = api.PutObject(ctx, input)
	if err != nil {
		metrics.RecordS3Operation("put_object", time.Since(start), false)
		return classifyError(err, "put object")
	}
	metrics.RecordS3Operation("put_object", time.Since(start), true)
	logging.Debug("put object", zap.String("key", key))
	return nil
}

// Copy performs a server-side copy. With replaceMetadata nil the store
// carries the source metadata forward unchanged (COPY directive); with a
// map it overwrites the destination's metadata wholesale (REPLACE).
func (a *Adapter) Copy(ctx context.Context, srcKey, dstKey string, replaceMetadata map[string]string) error {
	api, err := a.client(ctx)
	if err != nil {
		return err
	}

	input := &awss3.CopyObjectInput{
		Bucket:     aws.String(a.cfg.Bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(a.cfg.Bucket + "/" + srcKey),
	}
	if replaceMetadata != nil {
		input.MetadataDirective = types.MetadataDirectiveReplace
		input.Metadata = replaceMetadata
	} else {
		input.MetadataDirective = types.MetadataDirectiveCopy
	}

	start := time.Now()
	_, err = api.CopyObject(ctx, input)
	if err != nil {
		metrics.RecordS3Operation("copy_object", time.Since(start), false)
		return classifyError(err, "copy object")
	}
	metrics.RecordS3Operation("copy_object", time.Since(start), true)
	logging.Debug("copy object", zap.String("src", srcKey), zap.String("dst", dstKey))
	return nil
}

// Delete removes a single object.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	api, err := a.client(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordS3Operation("delete_object", time.Since(start), false)
		return classifyError(err, "delete object")
	}
	metrics.RecordS3Operation("delete_object", time.Since(start), true)
	return nil
}

// deleteBatchLimit is the store's per-request cap for batch deletes.
const deleteBatchLimit = 1000

// DeleteBatch removes many objects, chunked to the store's batch limit.
func (a *Adapter) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	api, err := a.client(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += deleteBatchLimit {
		end := min(start+deleteBatchLimit, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		t := time.Now()
		_, err := api.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(a.cfg.Bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			metrics.RecordS3Operation("delete_objects", time.Since(t), false)
			return classifyError(err, "delete objects")
		}
		metrics.RecordS3Operation("delete_objects", time.Since(t), true)
	}
	return nil
}

// DeleteBucket removes the (empty) bucket itself. Callers purge the
// bucket's objects first; the store rejects deleting a non-empty bucket.
func (a *Adapter) DeleteBucket(ctx context.Context) error {
	api, err := a.client(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = api.DeleteBucket(ctx, &awss3.DeleteBucketInput{
		Bucket: aws.String(a.cfg.Bucket),
	})
	if err != nil {
		metrics.RecordS3Operation("delete_bucket", time.Since(start), false)
		return classifyError(err, "delete bucket")
	}
	metrics.RecordS3Operation("delete_bucket", time.Since(start), true)
	logging.Info("deleted bucket", zap.String("bucket", a.cfg.Bucket))

	a.mu.Lock()
	a.prepared = false
	a.mu.Unlock()
	return nil
}

// ListedObject is one raw listing entry handed to ListPrefix callbacks.
type ListedObject struct {
	Key  string
	Size int64
}

// ListPrefix walks every key under prefix, fetching pages until the store
// reports no more. The context is honored per page: cancellation aborts
// pagination and surfaces as an error, never as a truncated success.
func (a *Adapter) ListPrefix(ctx context.Context, prefix string, fn func(ListedObject) error) error {
	api, err := a.client(ctx)
	if err != nil {
		return err
	}

	var token *string
	for {
		if err := ctx.Err(); err != nil {
			return classifyError(err, "list objects")
		}

		start := time.Now()
		out, err := api.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(a.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			metrics.RecordS3Operation("list_objects", time.Since(start), false)
			return classifyError(err, "list objects")
		}
		metrics.RecordS3Operation("list_objects", time.Since(start), true)
		metrics.RecordListingPage()

		for _, obj := range out.Contents {
			o := ListedObject{}
			if obj.Key != nil {
				o.Key = *obj.Key
			}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			if err := fn(o); err != nil {
				return err
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// PresignGet issues a time-limited URL for direct delivery of one object.
// With asAttachment the response headers force a download with the given
// filename instead of inline rendering.
func (a *Adapter) PresignGet(ctx context.Context, key string, ttl time.Duration, asAttachment bool, filename string) (string, error) {
	if _, err := a.client(ctx); err != nil {
		return "", err
	}
	a.mu.Lock()
	presign := a.presign
	a.mu.Unlock()
	if presign == nil {
		return "", fmt.Errorf("presigner not configured")
	}

	input := &awss3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	}
	if asAttachment {
		input.ResponseContentType = aws.String("application/octet-stream")
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", filename))
	}

	req, err := presign.PresignGetObject(ctx, input, func(o *awss3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", classifyError(err, "presign get")
	}
	metrics.RecordPresignedURL()
	return req.URL, nil
}
