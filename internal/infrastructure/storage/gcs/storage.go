package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// Storage keeps uploaded PDFs in a Cloud Storage bucket under an optional prefix.
type Storage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func New(ctx context.Context, bucket, prefix string) (*Storage, error) {
	if bucket == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new gcs storage", errors.New("bucket is required"))
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &Storage{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

// Save writes the object only if it does not exist yet; a rerun of the same upload is a no-op.
func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	writer := s.bucket.Object(s.objectName(key)).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/pdf"

	if _, err := io.Copy(writer, data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gcs object: %w", err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return domain.WrapError(domain.ErrTemporary, "finalize gcs object", err)
	}
	return nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.bucket.Object(s.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "open gcs object", err)
		}
		return nil, fmt.Errorf("open gcs object: %w", err)
	}
	return reader, nil
}

func (s *Storage) objectName(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
