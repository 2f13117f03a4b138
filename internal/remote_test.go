package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/octree/typst-render/internal/config"
)

func TestStorageEndpoint(t *testing.T) {
	assert.Equal(t, "https://abc.supabase.co/storage/v1", storageEndpoint("https://abc.supabase.co"))
	assert.Equal(t, "https://abc.supabase.co/storage/v1", storageEndpoint("https://abc.supabase.co/"))
	assert.Equal(t, "https://abc.supabase.co/storage/v1", storageEndpoint("https://abc.supabase.co/storage/v1/"))
}

func TestNewSupabaseArchivesDisabled(t *testing.T) {
	assert.Nil(t, NewSupabaseArchives(config.StorageConfig{Bucket: "projects"}))
	assert.Nil(t, NewSupabaseArchives(config.StorageConfig{URL: "https://abc.supabase.co", Bucket: "projects"}))

	s := NewSupabaseArchives(config.StorageConfig{URL: "https://abc.supabase.co", Key: "k", Bucket: "projects"})
	if assert.NotNil(t, s) {
		assert.Equal(t, "projects", s.bucket)
	}
}
