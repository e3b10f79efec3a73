package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ArtifactStore persists generated files and returns their public URL
type ArtifactStore interface {
	Put(ctx context.Context, mimeType string, data []byte) (name, url string, err error)
}

// artifactName is content addressed: identical bytes map to the same object
func artifactName(mimeType string, data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16] + extensionFor(mimeType)
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}

// LocalArtifactStore writes artifacts to a directory served under /static/assets
type LocalArtifactStore struct {
	dir     string
	baseURL string
}

// NewLocalArtifactStore creates the directory if needed
func NewLocalArtifactStore(dir, publicBaseURL string) (*LocalArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}
	return &LocalArtifactStore{dir: dir, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Put writes data unless an identical artifact already exists
func (s *LocalArtifactStore) Put(ctx context.Context, mimeType string, data []byte) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("empty artifact")
	}

	name := artifactName(mimeType, data)
	path := filepath.Join(s.dir, name)
	url := s.baseURL + "/static/assets/" + name

	if _, err := os.Stat(path); err == nil {
		return name, url, nil
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", "", fmt.Errorf("rename artifact: %w", err)
	}
	return name, url, nil
}

// GCSArtifactStore writes artifacts to a Google Cloud Storage bucket
type GCSArtifactStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSArtifactStore creates a client using application default credentials
func NewGCSArtifactStore(ctx context.Context, bucket, prefix string) (*GCSArtifactStore, error) {
	client, err := gcs.NewClient(ctx, option.WithScopes(gcs.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSArtifactStore{client: client, bucket: bucket, prefix: prefix}, nil
}

// Put uploads data under prefix + content addressed name
func (s *GCSArtifactStore) Put(ctx context.Context, mimeType string, data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("empty artifact")
	}
	name := artifactName(mimeType, data)
	key := s.prefix + name

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = mimeType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return name, fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key), nil
}

// Close releases the GCS client
func (s *GCSArtifactStore) Close() error {
	return s.client.Close()
}
