package objectstore

import (
	"context"
	"io"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/translators/gcpopts"
	"github.com/ajitpratap0/federate/pkg/errors"
)

type gcsBucket struct {
	client *storage.Client
	handle *storage.BucketHandle
}

// OpenGCS connects to the GCS bucket of cfg. An endpoint without
// credentials selects an unauthenticated emulator.
func OpenGCS(ctx context.Context, cfg *config.SourceConfig) (Bucket, error) {
	opts, err := gcpopts.ClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &gcsBucket{client: client, handle: client.Bucket(cfg.Property("bucket", ""))}, nil
}

func (b *gcsBucket) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ObjectInfo{
			Key:         attrs.Name,
			Size:        attrs.Size,
			Modified:    attrs.Updated,
			ETag:        attrs.Etag,
			ContentType: attrs.ContentType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *gcsBucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.handle.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "object not found").WithDetail("key", key)
		}
		return nil, err
	}
	return r, nil
}

func (b *gcsBucket) Check(ctx context.Context) error {
	_, err := b.handle.Attrs(ctx)
	return err
}

func (b *gcsBucket) Close() error {
	return b.client.Close()
}
