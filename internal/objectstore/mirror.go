// Package objectstore shares synthesized audio between machines through a
// NATS JetStream object store bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const audioContentType = "audio/mpeg"

var (
	// ErrBucketEmpty indicates a mirror without a bucket name.
	ErrBucketEmpty = errors.New("bucket name cannot be empty")
	// ErrObjectNotFound indicates a key with no object in the bucket.
	ErrObjectNotFound = errors.New("object not found")
)

// Mirror implements core.ObjectStore on a JetStream object store. Keys are
// cache-relative paths such as "en/alice/Stack_on_me.audio".
type Mirror struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*Mirror, error) {
	if bucketName == "" {
		return nil, ErrBucketEmpty
	}

	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: "Synthesized voice cache shared by speech notifiers.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &Mirror{bucket: bucketName, store: store}, nil
}

// Bucket returns the bucket name.
func (m *Mirror) Bucket() string {
	return m.bucket
}

// Download returns the audio stored under key.
func (m *Mirror) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrObjectNotFound, key, m.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, m.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (m *Mirror) Upload(ctx context.Context, key string, data []byte) error {
	_, err := m.store.Put(&nats.ObjectMeta{
		Name:    key,
		Headers: nats.Header{"Content-Type": []string{audioContentType}},
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, m.bucket, err)
	}

	return nil
}
