package stacksdk

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/aussiebroadwan/aerostack/pkg/connection"
	"github.com/aussiebroadwan/aerostack/pkg/resource"
)

// Project statuses accepted by UpdateStatus.
var projectStatuses = []string{"pending", "available", "failed"}

func projectOptions() []resource.Option {
	return []resource.Option{
		resource.WithName("project"),
		resource.WithHidden("dxobjects"),
		resource.WithImmutable("created", "modification_date", "modification_user",
			"real_bbox", "user", "company", "missions"),
	}
}

// Projects manages projects.
type Projects struct {
	svc service
}

// Create creates a project from desc. Unless desc says otherwise the project
// is added to the users of the company, without analytics and without a
// linked site.
func (p *Projects) Create(ctx context.Context, desc map[string]any) (*resource.Resource, error) {
	data := maps.Clone(desc)
	if data == nil {
		data = make(map[string]any)
	}
	setDefault(data, "addProjectToUsers", true)
	setDefault(data, "analytics", map[string]any{})
	setDefault(data, "linkOrCreateCardinalSite", false)

	body, err := p.svc.post(ctx, "projects", data)
	if err != nil {
		return nil, err
	}
	return projectField(body)
}

// Search lists the projects matching name.
func (p *Projects) Search(ctx context.Context, name string, deleted bool) ([]*resource.Resource, error) {
	body, err := p.svc.post(ctx, "projects/search", map[string]any{"search": name, "deleted": deleted})
	if err != nil {
		return nil, err
	}
	return decodeField(body, "projects", projectOptions()...)
}

// Describe returns a project, or nil when it does not exist.
func (p *Projects) Describe(ctx context.Context, id string, deleted bool) (*resource.Resource, error) {
	body, err := p.svc.post(ctx, "projects/"+url.PathEscape(id), map[string]any{"deleted": deleted})
	if connection.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if gjson.GetBytes(body, "project._id").String() != id {
		return nil, nil
	}
	return projectField(body)
}

// UpdateStatus sets the project status to pending, available or failed.
func (p *Projects) UpdateStatus(ctx context.Context, id, status string) (*resource.Resource, error) {
	if !slices.Contains(projectStatuses, status) {
		return nil, fmt.Errorf("%w: project status %q not in %v", ErrParameter, status, projectStatuses)
	}

	body, err := p.svc.post(ctx, "projects/update/"+url.PathEscape(id), map[string]any{
		"project": id,
		"status":  status,
	})
	if err != nil {
		return nil, err
	}
	if gjson.GetBytes(body, "project._id").String() != id {
		return nil, fmt.Errorf("%w: project %s not found", ErrQuery, id)
	}
	return projectField(body)
}

// Delete removes a project.
func (p *Projects) Delete(ctx context.Context, id string) error {
	_, err := p.svc.delete(ctx, "projects/"+url.PathEscape(id), nil)
	return err
}

func projectField(body []byte) (*resource.Resource, error) {
	return objectField(body, "project", projectOptions()...)
}

// objectField decodes the object found under key.
func objectField(body []byte, key string, opts ...resource.Option) (*resource.Resource, error) {
	field := gjson.GetBytes(body, key)
	if !field.IsObject() {
		return nil, fmt.Errorf("%w: %q should be in the response", ErrQuery, key)
	}
	return resource.Decode([]byte(field.Raw), opts...)
}

func setDefault(data map[string]any, key string, v any) {
	if _, ok := data[key]; !ok {
		data[key] = v
	}
}
