package stacksdk

import (
	"context"
	"fmt"
	"maps"

	"github.com/aussiebroadwan/aerostack/pkg/resource"
)

// Analytics manages analytic definitions and orders.
type Analytics struct {
	svc service
}

// Search lists analytics. A non-empty name restricts the filter to that
// analytic.
func (a *Analytics) Search(ctx context.Context, name string, opts SearchOptions) (SearchResult, error) {
	data, filter := opts.body()
	if name != "" {
		filter["name"] = eq(name)
	}
	return a.svc.search(ctx, "search-analytics", data, resource.WithName("analytic"))
}

// Describe returns one analytic.
func (a *Analytics) Describe(ctx context.Context, id string) (*resource.Resource, error) {
	return a.svc.postResource(ctx, "describe-analytic", map[string]any{"analytic": id}, resource.WithName("analytic"))
}

// AnalyticSpec describes an analytic to register. Name and DockerImage are
// required.
type AnalyticSpec struct {
	Name         string
	DockerImage  string // including the registry, e.g. gcr.io/project/analytic:v1.0
	DisplayName  string
	Description  string
	InstanceType string
	VolumeSize   int // gigabytes
	Inputs       []map[string]any
	Parameters   []map[string]any
	Deliverables []map[string]any
	Outputs      []map[string]any
	Tags         []string
	Groups       []string
	Extra        map[string]any
}

func (s AnalyticSpec) body() (map[string]any, error) {
	if s.Name == "" || s.DockerImage == "" {
		return nil, fmt.Errorf("%w: analytic name and docker image are required", ErrParameter)
	}

	data := maps.Clone(s.Extra)
	if data == nil {
		data = make(map[string]any)
	}
	data["name"] = s.Name
	data["algorithm"] = map[string]any{"docker_image": s.DockerImage}

	instance := make(map[string]any)
	if s.InstanceType != "" {
		instance["type"] = s.InstanceType
	}
	if s.VolumeSize > 0 {
		instance["volume"] = s.VolumeSize
	}
	if len(instance) > 0 {
		data["instance"] = instance
	}

	setString(data, "display_name", s.DisplayName)
	setString(data, "description", s.Description)
	setSlice(data, "inputs", s.Inputs)
	setSlice(data, "parameters", s.Parameters)
	setSlice(data, "deliverables", s.Deliverables)
	setSlice(data, "outputs", s.Outputs)
	setSlice(data, "tags", s.Tags)
	setSlice(data, "groups", s.Groups)
	return data, nil
}

// Create registers an analytic.
func (a *Analytics) Create(ctx context.Context, spec AnalyticSpec) (*resource.Resource, error) {
	data, err := spec.body()
	if err != nil {
		return nil, err
	}
	return a.svc.postResource(ctx, "create-analytic", data, resource.WithName("analytic"))
}

// Delete removes analytics, permanently when permanent is set.
func (a *Analytics) Delete(ctx context.Context, ids []string, permanent bool) error {
	path := "delete-analytics"
	if permanent {
		path = "delete-analytics-permanently"
	}
	_, err := a.svc.post(ctx, path, map[string]any{"analytics": ids})
	return err
}

// OrderSpec describes an analytic order.
type OrderSpec struct {
	Analytic   string
	Inputs     map[string]any
	Parameters map[string]any
	// Deliverables to generate. Empty means only the required ones.
	Deliverables []string
	Project      string
	Mission      string
	Extra        map[string]any
}

// Order runs an analytic and returns the resulting product.
func (a *Analytics) Order(ctx context.Context, spec OrderSpec) (*resource.Resource, error) {
	if spec.Analytic == "" {
		return nil, fmt.Errorf("%w: analytic is required", ErrParameter)
	}

	data := map[string]any{"analytic": spec.Analytic}
	if len(spec.Inputs) > 0 {
		data["inputs"] = spec.Inputs
	}
	if len(spec.Parameters) > 0 {
		data["parameters"] = spec.Parameters
	}
	if len(spec.Deliverables) > 0 {
		deliverables := make(map[string]any, len(spec.Deliverables))
		for _, d := range spec.Deliverables {
			deliverables[d] = nil
		}
		data["deliverables"] = deliverables
	}
	setString(data, "project", spec.Project)
	setString(data, "mission", spec.Mission)
	maps.Copy(data, spec.Extra)

	return a.svc.postResource(ctx, "order-analytic", data, resource.WithName("product"))
}

func setString(data map[string]any, key, v string) {
	if v != "" {
		data[key] = v
	}
}

func setSlice[T any](data map[string]any, key string, v []T) {
	if len(v) > 0 {
		data[key] = v
	}
}
