package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"google.golang.org/api/option"
)

// uploadTimeout bounds a single object upload.
const uploadTimeout = 2 * time.Minute

// Client reads and writes statement PDFs in Google Cloud Storage. It holds a
// shared storage client; call Close when done.
type Client struct {
	client *storage.Client
	bucket string
}

// NewClient creates a client for bucket. credentialsFile is optional; when
// empty, Application Default Credentials are used.
func NewClient(ctx context.Context, bucket, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating storage client: %w", err)
	}
	return &Client{client: client, bucket: bucket}, nil
}

// Close closes the underlying storage client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Fetch downloads the object at a gs:// URI.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("gcs_uri", uri).
		Int("bytes", len(data)).
		Msg("Fetched statement from GCS")
	return data, nil
}

// Upload writes r to objectName in the client's bucket and returns its URI.
func (c *Client) Upload(ctx context.Context, objectName string, r io.Reader) (string, error) {
	if c.bucket == "" {
		return "", fmt.Errorf("Upload: no bucket configured")
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := c.client.Bucket(c.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copying to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalizing upload: %w", err)
	}

	uri := BuildURI(c.bucket, objectName)
	log := logger.FromContext(ctx)
	log.Info().Str("gcs_uri", uri).Msg("Uploaded statement to GCS")
	return uri, nil
}
