package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/surgeworks/stampede/pkg/types"
)

// S3Store implements Store on top of an S3 bucket. The namespace maps to
// the bucket name and object names are used as keys verbatim.
type S3Store struct {
	client *s3.Client
}

// NewS3Store creates a Store using ambient AWS credentials
func NewS3Store(ctx context.Context, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3StoreWithClient wraps an existing S3 client
func NewS3StoreWithClient(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

func (s *S3Store) Put(ctx context.Context, namespace, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(namespace),
		Key:    aws.String(name),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", types.ErrBlobUnavailable, namespace, name, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, namespace, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(namespace),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", types.ErrBlobNotFound, namespace, name)
		}
		return nil, fmt.Errorf("%w: get %s/%s: %v", types.ErrBlobUnavailable, namespace, name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s/%s: %v", types.ErrBlobUnavailable, namespace, name, err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(namespace),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s/%s*: %v", types.ErrBlobUnavailable, namespace, prefix, err)
		}
		for _, obj := range page.Contents {
			names = append(names, aws.ToString(obj.Key))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3Store) Exists(ctx context.Context, namespace, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(namespace),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: head %s/%s: %v", types.ErrBlobUnavailable, namespace, name, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
