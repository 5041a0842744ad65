package cache

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureBlobStore implements BlobStore on an Azure Storage container.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
}

// NewAzureBlobStore connects with a storage-account connection string.
func NewAzureBlobStore(connectionString, container string) (*AzureBlobStore, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("%w: azure connection string not set", ErrStoreUnavailable)
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return &AzureBlobStore{client: client, container: container}, nil
}

// EnsureContainer creates the container if it does not exist yet.
func (s *AzureBlobStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", s.container, err)
	}
	return nil
}

// Get implements BlobStore.Get.
func (s *AzureBlobStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("download %s/%s: %w", s.container, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read %s/%s: %w", s.container, key, err)
	}
	return data, true, nil
}

// Put implements BlobStore.Put.
func (s *AzureBlobStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.client.UploadBuffer(ctx, s.container, key, value, nil); err != nil {
		return fmt.Errorf("upload %s/%s: %w", s.container, key, err)
	}
	return nil
}

// Ping fetches the container properties.
func (s *AzureBlobStore) Ping(ctx context.Context) error {
	_, err := s.client.ServiceClient().NewContainerClient(s.container).GetProperties(ctx, nil)
	return err
}
