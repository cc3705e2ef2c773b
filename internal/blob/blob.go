package blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "blob"))
}

// Kind selects the artifact type for an upload.
type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

func (k Kind) ext() string {
	if k == KindImage {
		return ".png"
	}
	return ".pdf"
}

func (k Kind) contentType() string {
	if k == KindImage {
		return "image/png"
	}
	return "application/pdf"
}

// Store uploads generated artifacts and returns their public URL.
type Store interface {
	Upload(ctx context.Context, data []byte, folderPath, assetID string, kind Kind) (string, error)
}

// --- MinIO Implementation ---

// MinioStore stores artifacts in an S3-compatible bucket.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore connects to the object storage endpoint. publicBaseURL is
// the externally reachable base for uploaded objects; when empty the
// endpoint itself is used.
func NewMinioStore(endpoint, accessKey, secretKey, bucket, publicBaseURL string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: failed to create object storage client: %w", err)
	}
	if publicBaseURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicBaseURL = scheme + "://" + endpoint
	}
	return &MinioStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *MinioStore) Upload(ctx context.Context, data []byte, folderPath, assetID string, kind Kind) (string, error) {
	objectName := path.Join(folderPath, assetID+kind.ext())
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: kind.contentType()})
	if err != nil {
		return "", fmt.Errorf("blob: failed to upload %s: %w", objectName, err)
	}
	url := s.publicBaseURL + "/" + s.bucket + "/" + objectName
	logger.Debug("uploaded artifact", zap.String("object", objectName), zap.Int("bytes", len(data)))
	return url, nil
}

// --- Memory Implementation ---

// MemoryStore keeps uploads in a map. Used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, data []byte, folderPath, assetID string, kind Kind) (string, error) {
	objectName := path.Join(folderPath, assetID+kind.ext())
	s.mu.Lock()
	s.objects[objectName] = append([]byte(nil), data...)
	s.mu.Unlock()
	return "memory://" + objectName, nil
}

// Get returns a stored object's bytes, for test assertions.
func (s *MemoryStore) Get(objectName string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectName]
	return data, ok
}

// Names returns the stored object names, for test assertions.
func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	return names
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
