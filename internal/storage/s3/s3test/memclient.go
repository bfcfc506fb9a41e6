// Package s3test provides an in-memory ObjectAPI implementation for
// tests, faithful enough for listing pagination, copy directives and
// bucket lifecycle behavior.
package s3test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Object is one stored fake object.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// MemClient is an in-memory object store. The zero value is not usable;
// call New.
type MemClient struct {
	mu      sync.Mutex
	buckets map[string]map[string]*Object
	cors    map[string]*types.CORSConfiguration

	// PageSize caps listing pages so pagination paths get exercised.
	// Zero means everything in one page.
	PageSize int

	// FailWith, when set, makes every call return this error.
	FailWith error

	// FailKeys fails only operations touching a specific key, for
	// exercising partial-failure paths.
	FailKeys map[string]error
}

// New creates an empty in-memory store.
func New() *MemClient {
	return &MemClient{
		buckets: make(map[string]map[string]*Object),
		cors:    make(map[string]*types.CORSConfiguration),
	}
}

// Seed stores an object directly, creating the bucket as needed.
func (m *MemClient) Seed(bucket, key string, data []byte, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string]*Object)
	}
	m.buckets[bucket][key] = &Object{Data: data, Metadata: metadata}
}

// Object returns a stored object, or nil.
func (m *MemClient) Object(bucket, key string) *Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buckets[bucket][key]
}

// Keys returns all keys in a bucket, sorted.
func (m *MemClient) Keys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CORS returns the CORS configuration applied to a bucket, or nil.
func (m *MemClient) CORS(bucket string) *types.CORSConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cors[bucket]
}

// HasBucket reports whether the bucket exists.
func (m *MemClient) HasBucket(bucket string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[bucket]
	return ok
}

func (m *MemClient) HeadBucket(_ context.Context, params *awss3.HeadBucketInput, _ ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if _, ok := m.buckets[*params.Bucket]; !ok {
		return nil, &types.NoSuchBucket{}
	}
	return &awss3.HeadBucketOutput{}, nil
}

func (m *MemClient) CreateBucket(_ context.Context, params *awss3.CreateBucketInput, _ ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if _, ok := m.buckets[*params.Bucket]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{}
	}
	m.buckets[*params.Bucket] = make(map[string]*Object)
	return &awss3.CreateBucketOutput{}, nil
}

func (m *MemClient) PutBucketCors(_ context.Context, params *awss3.PutBucketCorsInput, _ ...func(*awss3.Options)) (*awss3.PutBucketCorsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.cors[*params.Bucket] = params.CORSConfiguration
	return &awss3.PutBucketCorsOutput{}, nil
}

func (m *MemClient) HeadObject(_ context.Context, params *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	obj, ok := m.buckets[*params.Bucket][*params.Key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "object not found"}
	}
	out := &awss3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.Data))),
		Metadata:      obj.Metadata,
	}
	if obj.ContentType != "" {
		out.ContentType = aws.String(obj.ContentType)
	}
	return out, nil
}

func (m *MemClient) GetObject(_ context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	obj, ok := m.buckets[*params.Bucket][*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	out := &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.Data)),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		Metadata:      obj.Metadata,
	}
	if obj.ContentType != "" {
		out.ContentType = aws.String(obj.ContentType)
	}
	return out, nil
}

func (m *MemClient) PutObject(_ context.Context, params *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	var data []byte
	if params.Body != nil {
		var err error
		data, err = io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	bucket, ok := m.buckets[*params.Bucket]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}
	obj := &Object{Data: data, Metadata: params.Metadata}
	if params.ContentType != nil {
		obj.ContentType = *params.ContentType
	}
	bucket[*params.Key] = obj
	return &awss3.PutObjectOutput{}, nil
}

func (m *MemClient) CopyObject(_ context.Context, params *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	src := *params.CopySource
	srcBucket, srcKey, ok := strings.Cut(src, "/")
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "InvalidRequest", Message: "bad copy source"}
	}
	if err, bad := m.FailKeys[srcKey]; bad {
		return nil, err
	}
	obj, found := m.buckets[srcBucket][srcKey]
	if !found {
		return nil, &types.NoSuchKey{}
	}

	cp := &Object{
		Data:        append([]byte(nil), obj.Data...),
		ContentType: obj.ContentType,
	}
	if params.MetadataDirective == types.MetadataDirectiveReplace {
		cp.Metadata = params.Metadata
	} else {
		cp.Metadata = cloneMap(obj.Metadata)
	}

	dst, ok := m.buckets[*params.Bucket]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}
	dst[*params.Key] = cp
	return &awss3.CopyObjectOutput{}, nil
}

func (m *MemClient) DeleteObject(_ context.Context, params *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if err, bad := m.FailKeys[*params.Key]; bad {
		return nil, err
	}
	delete(m.buckets[*params.Bucket], *params.Key)
	return &awss3.DeleteObjectOutput{}, nil
}

func (m *MemClient) DeleteBucket(_ context.Context, params *awss3.DeleteBucketInput, _ ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	bucket, ok := m.buckets[*params.Bucket]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}
	if len(bucket) > 0 {
		return nil, &smithy.GenericAPIError{Code: "BucketNotEmpty", Message: "bucket not empty"}
	}
	delete(m.buckets, *params.Bucket)
	delete(m.cors, *params.Bucket)
	return &awss3.DeleteBucketOutput{}, nil
}

func (m *MemClient) DeleteObjects(_ context.Context, params *awss3.DeleteObjectsInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	for _, id := range params.Delete.Objects {
		delete(m.buckets[*params.Bucket], *id.Key)
	}
	return &awss3.DeleteObjectsOutput{}, nil
}

func (m *MemClient) ListObjectsV2(_ context.Context, params *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	bucket, ok := m.buckets[*params.Bucket]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}

	var keys []string
	for k := range bucket {
		if params.Prefix == nil || strings.HasPrefix(k, *params.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if params.ContinuationToken != nil {
		after := *params.ContinuationToken
		for i, k := range keys {
			if k > after {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := len(keys)
	if m.PageSize > 0 && start+m.PageSize < end {
		end = start + m.PageSize
	}

	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(bucket[k].Data))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

// PresignGetObject returns a deterministic fake URL carrying the key and
// response overrides, so tests can assert on its contents.
func (m *MemClient) PresignGetObject(_ context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	opts := &awss3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	url := fmt.Sprintf("https://%s.s3.test/%s?expires=%d", *params.Bucket, *params.Key, int64(opts.Expires.Seconds()))
	if params.ResponseContentDisposition != nil {
		url += "&disposition=attachment"
	}
	return &v4.PresignedHTTPRequest{URL: url, Method: "GET"}, nil
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
