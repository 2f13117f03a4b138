package internal

import (
	"context"
	"fmt"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/octree/typst-render/internal/config"
)

// ArchiveSource fetches project archives by object key.
type ArchiveSource interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// SupabaseArchives reads archives from a Supabase Storage bucket.
type SupabaseArchives struct {
	client *storage_go.Client
	bucket string
}

// NewSupabaseArchives returns nil when storage is not configured.
func NewSupabaseArchives(cfg config.StorageConfig) *SupabaseArchives {
	if !cfg.Enabled() {
		return nil
	}
	return &SupabaseArchives{
		client: storage_go.NewClient(storageEndpoint(cfg.URL), cfg.Key, nil),
		bucket: cfg.Bucket,
	}
}

// storageEndpoint accepts either the project URL or the storage API URL.
func storageEndpoint(projectURL string) string {
	u := strings.TrimRight(projectURL, "/")
	if strings.HasSuffix(u, "/storage/v1") {
		return u
	}
	return u + "/storage/v1"
}

func (s *SupabaseArchives) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}
