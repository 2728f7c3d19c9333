package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// ADLSBackend stores artifacts in an Azure blob container. URIs are
// adls://container/key; the account is fixed per backend instance.
type ADLSBackend struct {
	client    *azblob.Client
	container string
}

// NewADLSBackend authenticates with the default Azure credential chain
// against the given storage account.
func NewADLSBackend(accountURL, container string) (*ADLSBackend, error) {
	if accountURL == "" || container == "" {
		return nil, fmt.Errorf("adls backend requires account URL and container")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}
	return &ADLSBackend{client: client, container: container}, nil
}

// Name implements Backend.
func (b *ADLSBackend) Name() string { return "adls" }

// Put implements Backend.
func (b *ADLSBackend) Put(ctx context.Context, key string, data []byte) (string, error) {
	if _, err := b.client.UploadBuffer(ctx, b.container, key, data, nil); err != nil {
		return "", fmt.Errorf("adls upload %s: %w", key, err)
	}
	return "adls://" + b.container + "/" + key, nil
}

// Get implements Backend.
func (b *ADLSBackend) Get(ctx context.Context, uri string) ([]byte, error) {
	trimmed := strings.TrimPrefix(uri, "adls://")
	container, key, ok := strings.Cut(trimmed, "/")
	if !ok {
		return nil, fmt.Errorf("malformed adls uri %q", uri)
	}
	resp, err := b.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		return nil, fmt.Errorf("adls download %s: %w", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
