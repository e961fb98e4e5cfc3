package objectstore

import (
	"context"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/errors"
)

const defaultRegion = "us-east-1"

type s3Bucket struct {
	client *s3.Client
	bucket string
}

// OpenS3 connects to the S3 bucket of cfg. Credentials come from the
// default chain unless access_key_id and secret_access_key are set; an
// endpoint selects an S3 compatible store such as MinIO. Without a region
// property the bucket's region is looked up on AWS.
func OpenS3(ctx context.Context, cfg *config.SourceConfig) (Bucket, error) {
	region := cfg.Property("region", "")
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(defaultRegion),
	}
	if region != "" {
		opts[0] = awsconfig.WithRegion(region)
	}
	if key := cfg.Property("access_key_id", ""); key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, cfg.Property("secret_access_key", ""), "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.Property("endpoint", "")
	pathStyle := cfg.Property("path_style", "false") == "true"
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})
	bucket := cfg.Property("bucket", "")

	if region == "" && endpoint == "" {
		detected, err := manager.GetBucketRegion(ctx, client, bucket)
		if err != nil {
			var notFound manager.BucketNotFound
			if errors.As(err, &notFound) {
				return nil, errors.New(errors.ErrorTypeNotFound, "bucket not found").WithDetail("bucket", bucket)
			}
			return nil, err
		}
		if detected != awsCfg.Region {
			client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
				o.Region = detected
				o.UsePathStyle = pathStyle
			})
		}
	}
	return &s3Bucket{client: client, bucket: bucket}, nil
}

func (b *s3Bucket) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:      aws.ToString(obj.Key),
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
				ETag:     aws.ToString(obj.ETag),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *s3Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "object not found").WithDetail("key", key)
		}
		return nil, err
	}
	return out.Body, nil
}

func (b *s3Bucket) Check(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}

func (b *s3Bucket) Close() error {
	return nil
}
