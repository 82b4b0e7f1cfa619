package backup

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/peervault/internal/filex"
	"github.com/dmitrijs2005/peervault/internal/snapshot"
)

// Mirror copies a client's stored backup somewhere off the node.
type Mirror interface {
	Mirror(ctx context.Context, client, dir string) error
}

// S3API is the part of the S3 client the mirror uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config points at an S3 compatible bucket.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a client with static credentials. A non-empty Endpoint
// selects a self-hosted store such as MinIO.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Mirror uploads a stored backup under <prefix>/<client>/ and removes
// objects that are no longer part of it.
type S3Mirror struct {
	api    S3API
	store  filex.Store
	bucket string
	prefix string
}

func NewS3Mirror(api S3API, store filex.Store, bucket, prefix string) *S3Mirror {
	return &S3Mirror{api: api, store: store, bucket: bucket, prefix: prefix}
}

func (m *S3Mirror) Mirror(ctx context.Context, client, dir string) error {
	files, err := snapshot.FlattenLight(ctx, m.store, dir)
	if err != nil {
		return err
	}

	base := path.Join(m.prefix, client)
	keep := make(map[string]struct{}, len(files))
	for _, rel := range files {
		key := path.Join(base, rel)
		if err := m.put(ctx, path.Join(dir, rel), key); err != nil {
			return err
		}
		keep[key] = struct{}{}
	}

	pages := s3.NewListObjectsV2Paginator(m.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(base + "/"),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", base, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if _, ok := keep[key]; ok {
				continue
			}
			if _, err := m.api.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(m.bucket),
				Key:    obj.Key,
			}); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
	}
	return nil
}

func (m *S3Mirror) put(ctx context.Context, p, key string) error {
	r, err := m.store.Open(ctx, p)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = m.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          io.NewSectionReader(r, 0, r.Size()),
		ContentLength: aws.Int64(r.Size()),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
