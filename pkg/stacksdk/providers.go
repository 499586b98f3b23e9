package stacksdk

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/aerostack/pkg/resource"
)

// ProviderCredentials manages the credentials the platform uses to reach
// external data providers.
type ProviderCredentials struct {
	svc service
}

// Search lists credentials. A non-empty name restricts the filter to it.
func (p *ProviderCredentials) Search(ctx context.Context, name string, opts SearchOptions) (SearchResult, error) {
	data, filter := opts.body()
	if name != "" {
		filter["name"] = eq(name)
	}
	return p.svc.search(ctx, "search-credentials", data, resource.WithName("credentials"))
}

// Create stores credentials under a unique name.
func (p *ProviderCredentials) Create(ctx context.Context, name string, credentials map[string]string) (*resource.Resource, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: credentials name is required", ErrParameter)
	}
	return p.svc.postResource(ctx, "create-credentials", map[string]any{
		"name":        name,
		"credentials": credentials,
	}, resource.WithName("credentials"))
}

// Delete removes credentials.
func (p *ProviderCredentials) Delete(ctx context.Context, id string) error {
	_, err := p.svc.post(ctx, "delete-credentials", map[string]any{"credentials": id})
	return err
}
