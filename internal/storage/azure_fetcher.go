package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureModelFetcher downloads model blobs from one container.
type AzureModelFetcher struct {
	client    *azblob.Client
	container string
}

// NewAzureModelFetcher authenticates with a shared key.
func NewAzureModelFetcher(accountName, accountKey, container string) (*AzureModelFetcher, error) {
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("azure storage account and key are required")
	}
	if container == "" {
		return nil, fmt.Errorf("azure model container is required")
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	return &AzureModelFetcher{client: client, container: container}, nil
}

// Fetch streams the named blob of the configured container into dst.
func (s *AzureModelFetcher) Fetch(ctx context.Context, source string, dst io.Writer) error {
	container, blob := s.container, strings.TrimPrefix(source, "/")
	if blob == "" {
		return fmt.Errorf("empty blob name")
	}

	resp, err := s.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	body := resp.Body
	defer body.Close()

	if _, err := io.Copy(dst, body); err != nil {
		return fmt.Errorf("read blob %s/%s: %w", container, blob, err)
	}
	return nil
}
