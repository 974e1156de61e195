// Package storagetest provides an in-memory stand-in for the S3 API.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultPageSize keeps listings short enough to exercise pagination.
const DefaultPageSize = 2

// Fake keeps buckets and objects in memory. ListErrs are returned, in order, by the
// next ListObjectsV2 calls before the listing starts to succeed.
type Fake struct {
	mu        sync.Mutex
	buckets   map[string]map[string][]byte
	PageSize  int
	ListErrs  []error
	ListCalls int

	// Foreign buckets exist but belong to another account.
	Foreign map[string]bool

	// SilentRecreate makes CreateBucket on an owned bucket succeed, as us-east-1 does.
	SilentRecreate bool
}

// New returns a Fake holding the given empty buckets.
func New(buckets ...string) *Fake {
	f := &Fake{buckets: map[string]map[string][]byte{}, PageSize: DefaultPageSize}
	for _, b := range buckets {
		f.buckets[b] = map[string][]byte{}
	}
	return f
}

// Object returns a copy of the stored object and whether it exists.
func (f *Fake) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, ok := f.buckets[bucket]
	if !ok {
		return nil, false
	}
	data, ok := objs[key]
	return append([]byte(nil), data...), ok
}

// HasBucket reports whether the bucket exists.
func (f *Fake) HasBucket(bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket]
	return ok
}

func noSuchBucket(bucket string) error {
	return &types.NoSuchBucket{Message: aws.String("bucket " + bucket + " does not exist")}
}

func (f *Fake) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListCalls++
	if len(f.ListErrs) > 0 {
		err := f.ListErrs[0]
		f.ListErrs = f.ListErrs[1:]
		return nil, err
	}

	bucket := aws.ToString(params.Bucket)
	objs, ok := f.buckets[bucket]
	if !ok {
		return nil, noSuchBucket(bucket)
	}

	prefix := aws.ToString(params.Prefix)
	keys := make([]string, 0, len(objs))
	for k := range objs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, &smithy.GenericAPIError{Code: "InvalidArgument", Message: "bad continuation token"}
		}
		start = n
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	end := min(start+pageSize, len(keys))

	out := &s3.ListObjectsV2Output{
		Name:     params.Bucket,
		Prefix:   params.Prefix,
		KeyCount: aws.Int32(int32(end - start)),
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(objs[k]))),
		})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (f *Fake) ListBuckets(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.buckets))
	for b := range f.buckets {
		names = append(names, b)
	}
	sort.Strings(names)

	out := &s3.ListBucketsOutput{}
	for _, n := range names {
		out.Buckets = append(out.Buckets, types.Bucket{Name: aws.String(n)})
	}
	return out, nil
}

func (f *Fake) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if params.Body != nil {
		var err error
		if data, err = io.ReadAll(params.Body); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(params.Bucket)
	objs, ok := f.buckets[bucket]
	if !ok {
		return nil, noSuchBucket(bucket)
	}
	objs[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *Fake) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(params.Bucket)
	objs, ok := f.buckets[bucket]
	if !ok {
		return nil, noSuchBucket(bucket)
	}
	delete(objs, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *Fake) DeleteObjects(_ context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(params.Bucket)
	objs, ok := f.buckets[bucket]
	if !ok {
		return nil, noSuchBucket(bucket)
	}
	out := &s3.DeleteObjectsOutput{}
	if params.Delete == nil {
		return out, nil
	}
	for _, id := range params.Delete.Objects {
		delete(objs, aws.ToString(id.Key))
		out.Deleted = append(out.Deleted, types.DeletedObject{Key: id.Key})
	}
	return out, nil
}

func (f *Fake) HeadBucket(_ context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(params.Bucket)
	if f.Foreign[bucket] {
		return nil, &smithy.GenericAPIError{Code: "Forbidden", Message: "Forbidden"}
	}
	if _, ok := f.buckets[bucket]; !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *Fake) CreateBucket(_ context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(params.Bucket)
	if f.Foreign[bucket] {
		return nil, &types.BucketAlreadyExists{Message: aws.String("bucket " + bucket + " is owned by another account")}
	}
	if _, ok := f.buckets[bucket]; ok {
		if f.SilentRecreate {
			return &s3.CreateBucketOutput{Location: aws.String("/" + bucket)}, nil
		}
		return nil, &types.BucketAlreadyOwnedByYou{Message: aws.String("bucket " + bucket + " already owned by you")}
	}
	f.buckets[bucket] = map[string][]byte{}
	return &s3.CreateBucketOutput{Location: aws.String("/" + bucket)}, nil
}

func (f *Fake) DeleteBucket(_ context.Context, params *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(params.Bucket)
	objs, ok := f.buckets[bucket]
	if !ok {
		return nil, noSuchBucket(bucket)
	}
	if len(objs) > 0 {
		return nil, &smithy.GenericAPIError{Code: "BucketNotEmpty", Message: "the bucket you tried to delete is not empty"}
	}
	delete(f.buckets, bucket)
	return &s3.DeleteBucketOutput{}, nil
}

// Presigner hands out deterministic fake links.
type Presigner struct {
	BaseURL string
}

func (p Presigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	base := p.BaseURL
	if base == "" {
		base = "https://s3.example.test"
	}
	u := fmt.Sprintf("%s/%s/%s?X-Amz-Expires=%d",
		base,
		url.PathEscape(aws.ToString(params.Bucket)),
		url.PathEscape(aws.ToString(params.Key)),
		int(opts.Expires/time.Second))

	return &v4.PresignedHTTPRequest{URL: u, Method: "GET"}, nil
}
