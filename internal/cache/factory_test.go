package cache

import (
	"context"
	"errors"
	"testing"
)

func TestNew_None(t *testing.T) {
	for _, backend := range []string{"", BackendNone} {
		store, closer, err := New(context.Background(), Options{Backend: backend}, nil)
		if err != nil {
			t.Fatalf("New(%q) error = %v", backend, err)
		}
		if store != nil {
			t.Errorf("New(%q) store = %T, want nil", backend, store)
		}
		if closer == nil {
			t.Fatalf("New(%q) closer = nil", backend)
		}
		if err := closer.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}
}

func TestNew_InMemory(t *testing.T) {
	store, _, err := New(context.Background(), Options{Backend: BackendInMemory}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := store.(*InMemoryStore); !ok {
		t.Errorf("New() store = %T, want *InMemoryStore", store)
	}
}

func TestNew_File(t *testing.T) {
	store, _, err := New(context.Background(), Options{Backend: BackendFile, Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Errorf("New() store = %T, want *FileStore", store)
	}
}

func TestNew_Misconfigured(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown backend", Options{Backend: "s3"}},
		{"file without dir", Options{Backend: BackendFile}},
		{"redis without addr", Options{Backend: BackendRedis}},
		{"azblob without connection string", Options{Backend: BackendAzureBlob, AzureContainer: "solar-data"}},
		{"gcs without bucket", Options{Backend: BackendGCS}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closer, err := New(context.Background(), tt.opts, nil)
			if !errors.Is(err, ErrStoreUnavailable) {
				t.Errorf("New() error = %v, want ErrStoreUnavailable", err)
			}
			if store != nil {
				t.Errorf("New() store = %T, want nil", store)
			}
			if closer == nil {
				t.Error("New() closer = nil, want no-op closer")
			}
		})
	}
}
