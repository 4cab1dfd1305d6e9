package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

const signedURLTTL = 24 * time.Hour

// GCSWriter stores objects in a Cloud Storage bucket.
type GCSWriter struct {
	client     *storage.Client
	bucketName string
}

// NewGCSWriter creates a storage client using application default credentials.
func NewGCSWriter(ctx context.Context, bucketName string) (*GCSWriter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSWriter{client: client, bucketName: bucketName}, nil
}

// Put uploads data and returns a signed GET URL. When the credentials cannot sign, the gs://
// URI is returned instead.
func (g *GCSWriter) Put(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	obj := g.client.Bucket(g.bucketName).Object(path)

	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "private, max-age=0"

	if _, err := io.Copy(writer, data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write to storage: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	url, err := g.client.Bucket(g.bucketName).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(signedURLTTL),
	})
	if err != nil {
		return fmt.Sprintf("gs://%s/%s", g.bucketName, path), nil
	}
	return url, nil
}

// Close closes the storage client.
func (g *GCSWriter) Close() error {
	return g.client.Close()
}
