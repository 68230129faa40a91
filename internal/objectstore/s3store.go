package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/elifesciences/pubflow/internal/logging"
)

// s3Client is the thin interface this package programs against, in the
// style of a dedicated client-facing interface kept separate from the SDK
// type so tests can supply a fake.
type s3Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// maxConcurrentTransfers bounds BatchUpload's fan-out, the same
// semaphore-plus-waitgroup shape used for bulk object transfers elsewhere
// in this stack.
const maxConcurrentTransfers = 16

// S3Store implements Store over aws-sdk-go-v2.
type S3Store struct {
	client   s3Client
	uploader *manager.Uploader
	logger   *logging.ContextLogger
}

// NewS3Store builds an S3Store. endpoint may be empty for AWS; non-empty
// selects an S3-compatible endpoint (MinIO and similar), mirroring the
// multi-backend pattern this facade generalizes from.
func NewS3Store(ctx context.Context, region, endpoint string, logger *logging.ContextLogger) (*S3Store, error) {
	optFns := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		logger:   logger,
	}, nil
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, wrapErr("list", bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return SortedKeys(keys), nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key string, sink io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return wrapErr("get", bucket, key, err)
	}
	defer out.Body.Close()
	if _, err := io.Copy(sink, out.Body); err != nil {
		return wrapErr("get", bucket, key, err)
	}
	return nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, source io.Reader) error {
	// Hash while streaming so an integrity check can be logged without a
	// second read pass over the source.
	hasher := md5.New()
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   io.TeeReader(source, hasher),
	})
	if err != nil {
		return wrapErr("put", bucket, key, err)
	}
	if s.logger != nil {
		s.logger.WithField("md5", hex.EncodeToString(hasher.Sum(nil))).Debugf("objectstore: uploaded %s/%s", bucket, key)
	}
	return nil
}

func (s *S3Store) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		CopySource: aws.String(bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return wrapErr("copy", bucket, srcKey+" -> "+dstKey, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return wrapErr("delete", bucket, key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, wrapErr("exists", bucket, key, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	// The SDK reports missing objects via a "NotFound"/"NoSuchKey" API
	// error rather than a sentinel; string matching the code is the
	// pattern used throughout this stack's S3 wrappers.
	return containsAny(err.Error(), "NotFound", "NoSuchKey", "404")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// BatchUpload uploads multiple (key, source) pairs concurrently, bounded
// by maxConcurrentTransfers, aggregating per-file results the way the
// teacher's multi-file uploader reports partial batch outcomes.
type UploadResult struct {
	Key string
	Err error
}

var _ Store = (*S3Store)(nil)

func (s *S3Store) BatchUpload(ctx context.Context, bucket string, sources map[string]io.Reader) []UploadResult {
	sem := make(chan struct{}, maxConcurrentTransfers)
	var wg sync.WaitGroup
	results := make(chan UploadResult, len(sources))

	for key, src := range sources {
		wg.Add(1)
		sem <- struct{}{}
		go func(key string, src io.Reader) {
			defer wg.Done()
			defer func() { <-sem }()
			err := s.Put(ctx, bucket, key, src)
			results <- UploadResult{Key: key, Err: err}
		}(key, src)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]UploadResult, 0, len(sources))
	for r := range results {
		out = append(out, r)
	}
	return out
}
