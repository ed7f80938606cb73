// Package storage wraps Google Cloud Storage for document blob retrieval.
// Documents are ingested out-of-band; this package only ever reads.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Client wraps a GCS client scoped to document downloads.
type Client struct {
	gcs *storage.Client
}

// New creates a Client using application-default credentials.
func New(ctx context.Context) (*Client, error) {
	gcs, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.New: %w", err)
	}
	return &Client{gcs: gcs}, nil
}

// ParseURI splits a "gs://bucket/object/path" storage URI into its parts.
func ParseURI(uri string) (bucket, object string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("storage.ParseURI: %w", err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("storage.ParseURI: unsupported scheme %q", u.Scheme)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Download streams the full contents of a document blob. Callers are
// expected to have already checked the blob's size against
// model.MaxDownloadSizeBytes before calling this.
func (c *Client) Download(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := c.gcs.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.Download: %w", err)
	}
	return r, nil
}

// SignedDownloadURL generates a time-limited signed GET URL for a blob,
// used when the caller prefers a redirect over proxying bytes.
func (c *Client) SignedDownloadURL(uri string, expiry time.Duration) (string, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	signed, err := c.gcs.Bucket(bucket).SignedURL(object, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("storage.SignedDownloadURL: %w", err)
	}
	return signed, nil
}

// Close releases the underlying GCS client.
func (c *Client) Close() error {
	return c.gcs.Close()
}
