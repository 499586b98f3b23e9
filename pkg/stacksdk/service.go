package stacksdk

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
	"github.com/aussiebroadwan/aerostack/pkg/resource"
)

// Service prefixes of the platform API.
const (
	analyticsService   = "analytics-service"
	annotationsService = "annotations-service"
	providersService   = "external-providers-service"
	authService        = "auth"
	uiService          = "uisrv"
	projectService     = "dxpm"
)

// service issues requests below one API prefix.
type service struct {
	conn   *connection.Connection
	prefix string
}

func newService(conn *connection.Connection, prefix string) service {
	return service{conn: conn, prefix: prefix}
}

func (s service) path(p string) string {
	return s.prefix + "/" + strings.TrimLeft(p, "/")
}

func (s service) get(ctx context.Context, p string, query url.Values) ([]byte, error) {
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	return s.conn.Get(ctx, s.path(p))
}

func (s service) post(ctx context.Context, p string, data any) ([]byte, error) {
	return s.conn.Post(ctx, s.path(p), data)
}

func (s service) delete(ctx context.Context, p string, data any) ([]byte, error) {
	return s.conn.Delete(ctx, s.path(p), data)
}

// postResource posts data and decodes the response as a single resource.
func (s service) postResource(ctx context.Context, p string, data any, opts ...resource.Option) (*resource.Resource, error) {
	body, err := s.post(ctx, p, data)
	if err != nil {
		return nil, err
	}
	return decodeResource(body, opts...)
}

// search posts a search request and reads the {"results", "total"} envelope.
func (s service) search(ctx context.Context, p string, data map[string]any, opts ...resource.Option) (SearchResult, error) {
	body, err := s.post(ctx, p, data)
	if err != nil {
		return SearchResult{}, err
	}

	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return SearchResult{}, fmt.Errorf("%w: %s: missing results", ErrQuery, s.path(p))
	}
	list, err := resource.DecodeList([]byte(results.Raw), opts...)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{
		Total:   int(gjson.GetBytes(body, "total").Int()),
		Results: list,
	}, nil
}

func decodeResource(body []byte, opts ...resource.Option) (*resource.Resource, error) {
	r, err := resource.Decode(body, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return r, nil
}

// decodeField decodes the array found under key.
func decodeField(body []byte, key string, opts ...resource.Option) ([]*resource.Resource, error) {
	field := gjson.GetBytes(body, key)
	if !field.IsArray() {
		return nil, fmt.Errorf("%w: missing %q", ErrQuery, key)
	}
	return resource.DecodeList([]byte(field.Raw), opts...)
}

// SearchOptions are the paging and filtering arguments shared by the search
// endpoints. Zero values are omitted from the request.
type SearchOptions struct {
	Filter map[string]any
	Limit  int
	Page   int
	Sort   map[string]int // 1 ascending, -1 descending

	// Extra keys passed as is.
	Extra map[string]any
}

// body builds the request body. The filter is always present so that callers
// can add conditions to it.
func (o SearchOptions) body() (data, filter map[string]any) {
	data = maps.Clone(o.Extra)
	if data == nil {
		data = make(map[string]any)
	}
	filter = maps.Clone(o.Filter)
	if filter == nil {
		filter = make(map[string]any)
	}
	data["filter"] = filter
	if o.Limit > 0 {
		data["limit"] = o.Limit
	}
	if o.Page > 0 {
		data["page"] = o.Page
	}
	if o.Sort != nil {
		data["sort"] = o.Sort
	}
	return data, filter
}

// SearchResult holds one page of results and the total match count.
type SearchResult struct {
	Total   int
	Results []*resource.Resource
}

func eq(v any) map[string]any { return map[string]any{"$eq": v} }
