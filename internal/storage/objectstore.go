// Package storage provides the S3-compatible object store end actors
// persist results and errors to.
//
// Grounded on asya_testing/utils/s3.py's bucket-ensure/get/find
// helpers: buckets are created on demand, and any object whose key
// contains an envelope id is considered to belong to that envelope.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStore persists a JSON document under a key derived from an
// envelope id and can look it up again by that id.
type ObjectStore interface {
	Put(ctx context.Context, envelopeID string, data []byte) (key string, err error)
	FindByEnvelopeID(ctx context.Context, envelopeID string) ([]byte, error)
}

// S3Store talks to any S3-compatible endpoint (AWS S3 or a MinIO-style
// deployment).
type S3Store struct {
	client *s3.Client
	bucket string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store := &S3Store{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ensureBucket mirrors ensure_bucket_exists: head first, create on a
// 404, with a short retry loop for eventually-consistent backends.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		if err == nil {
			return nil
		}

		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
			if createErr == nil {
				return nil
			}
			lastErr = createErr
			time.Sleep(500 * time.Millisecond)
			continue
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("storage: ensuring bucket %q exists: %w", s.bucket, lastErr)
}

// Put writes data under a key that always contains envelopeID, so any
// consumer treating "key contains the id" as ownership finds it. The
// key is deterministic in envelopeID alone, so writing the same
// envelope twice overwrites rather than duplicates.
func (s *S3Store) Put(ctx context.Context, envelopeID string, data []byte) (string, error) {
	key := fmt.Sprintf("%s/result.json", envelopeID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("storage: putting object %q: %w", key, err)
	}
	return key, nil
}

// FindByEnvelopeID lists the objects under the "<envelopeID>/" prefix
// Put writes to and returns the first whose key contains envelopeID.
// Keys that contain the id anywhere other than that prefix are not
// searched.
func (s *S3Store) FindByEnvelopeID(ctx context.Context, envelopeID string) ([]byte, error) {
	list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(envelopeID + "/"),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: listing bucket %q: %w", s.bucket, err)
	}

	for _, obj := range list.Contents {
		key := aws.ToString(obj.Key)
		if strings.Contains(key, envelopeID) {
			resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, fmt.Errorf("storage: getting object %q: %w", key, err)
			}
			defer resp.Body.Close()
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(resp.Body); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
	}
	return nil, nil
}
