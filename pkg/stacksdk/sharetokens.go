package stacksdk

import (
	"context"

	"github.com/aussiebroadwan/aerostack/pkg/resource"
)

// shareScope grants read access to a shared dataset.
var shareScope = []string{"6666"}

// ShareTokens manages tokens granting anonymous access to datasets.
type ShareTokens struct {
	svc service
}

// ShareTokenOptions are optional arguments of ShareTokens.Create.
type ShareTokenOptions struct {
	Company  string
	Duration int // lifetime, as counted by the auth service; 0 keeps its default
}

// Create issues a share token for a dataset.
func (s *ShareTokens) Create(ctx context.Context, dataset string, opts ShareTokenOptions) (*resource.Resource, error) {
	data := map[string]any{
		"scope": map[string]any{"datasets": map[string]any{dataset: shareScope}},
	}
	setString(data, "company", opts.Company)
	if opts.Duration > 0 {
		data["duration"] = opts.Duration
	}
	return s.svc.postResource(ctx, "create-share-token", data, resource.WithName("share token"))
}

// Revoke invalidates a share token.
func (s *ShareTokens) Revoke(ctx context.Context, token, company string) error {
	data := map[string]any{"token": token}
	setString(data, "company", company)
	_, err := s.svc.post(ctx, "revoke-share-token", data)
	return err
}

// Search lists share tokens, those of a company when company is set.
func (s *ShareTokens) Search(ctx context.Context, company string) (SearchResult, error) {
	data := make(map[string]any)
	setString(data, "company", company)
	return s.svc.search(ctx, "search-share-tokens", data, resource.WithName("share token"))
}
