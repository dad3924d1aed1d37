package syncrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jun/gophsync/internal/model"
)

// Sink receives the content of every processed file. Ingest must consume r fully and
// must not commit anything when r returns an error. Re-ingesting an item overwrites it.
type Sink interface {
	Ingest(ctx context.Context, item model.RemoteItem, r io.Reader) error
}

// DiscardSink reads and drops content.
type DiscardSink struct{}

func (DiscardSink) Ingest(_ context.Context, _ model.RemoteItem, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// DirSink writes files into a local directory, atomically.
type DirSink struct {
	Root string
}

func (s DirSink) Ingest(_ context.Context, item model.RemoteItem, r io.Reader) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.Root, err)
	}
	name := filepath.Base(filepath.Clean("/" + item.Name))
	if name == "/" || name == "." {
		return fmt.Errorf("invalid file name %q", item.Name)
	}

	tmp, err := os.CreateTemp(s.Root, ".gophsync-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	dest := filepath.Join(s.Root, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	if !item.ModifiedAt.IsZero() {
		_ = os.Chtimes(dest, item.ModifiedAt, item.ModifiedAt)
	}
	return nil
}

// Uploader is the subset of *manager.Uploader used by S3Sink.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink uploads files to an S3 bucket under Prefix, keeping the remote folder layout.
type S3Sink struct {
	Uploader Uploader
	Bucket   string
	Prefix   string
}

// NewS3Sink creates an S3Sink backed by a multipart uploader for client.
func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{Uploader: manager.NewUploader(client), Bucket: bucket, Prefix: prefix}
}

func (s *S3Sink) Ingest(ctx context.Context, item model.RemoteItem, r io.Reader) error {
	key := s.Key(item)
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   r,
		Metadata: map[string]string{
			"source-id": item.ID,
		},
	}
	if item.MIMEType != "" {
		in.ContentType = aws.String(item.MIMEType)
	}
	if _, err := s.Uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Key returns the object key for item.
func (s *S3Sink) Key(item model.RemoteItem) string {
	return strings.TrimPrefix(path.Join(s.Prefix, item.ParentPath, item.Name), "/")
}
