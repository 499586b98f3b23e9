package stacksdk

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/aussiebroadwan/aerostack/pkg/resource"
)

// Annotation types.
const (
	Annotation2D    = "2d"
	Annotation3D    = "3d"
	AnnotationImage = "image"
)

// Icon names a platform icon, e.g. IconName("stockpile").
type Icon string

// IconName returns the platform icon with the given short name.
func IconName(name string) Icon {
	if strings.HasPrefix(name, iconPrefix) {
		return Icon(name)
	}
	return Icon(iconPrefix + name)
}

const iconPrefix = "delair::icon::"

// Common icons.
const (
	IconDanger      Icon = iconPrefix + "danger"
	IconInformation Icon = iconPrefix + "information"
	IconIssue       Icon = iconPrefix + "issue"
	IconCheck       Icon = iconPrefix + "check"
	IconStockpile   Icon = iconPrefix + "stockpile"
	IconExcavator   Icon = iconPrefix + "excavator"
	IconFlagRed     Icon = iconPrefix + "flagred"
	IconFlagGreen   Icon = iconPrefix + "flaggreen"
)

// Annotations manages geometric annotations attached to projects.
type Annotations struct {
	svc service
}

// AnnotationSpec describes an annotation to create. Project is required and
// Type defaults to 2d.
type AnnotationSpec struct {
	Project         string
	Mission         string
	Type            string
	Geometry        map[string]any
	Name            string
	Description     string
	Icon            Icon
	Stroke          []float64 // r, g, b and an optional opacity
	StrokeDasharray []float64
	StrokeWidth     float64
	StrokeOpacity   float64
	Fill            []float64
	FillOpacity     float64
	// Target dataset, for image annotations.
	Target      string
	Followers   []string
	Attachments []string
	Normals     []any
	Extra       map[string]any
}

func (s AnnotationSpec) body() (map[string]any, error) {
	if s.Project == "" {
		return nil, fmt.Errorf("%w: annotation project is required", ErrParameter)
	}
	if s.Type == "" {
		s.Type = Annotation2D
	}
	switch s.Type {
	case Annotation2D, Annotation3D, AnnotationImage:
	default:
		return nil, fmt.Errorf("%w: unsupported annotation type %q", ErrParameter, s.Type)
	}

	data := maps.Clone(s.Extra)
	if data == nil {
		data = make(map[string]any)
	}
	data["project"] = s.Project
	data["type"] = s.Type
	data["geometry"] = s.Geometry

	setString(data, "mission", s.Mission)
	setString(data, "name", s.Name)
	setString(data, "description", s.Description)
	setString(data, "icon", string(s.Icon))
	setSlice(data, "stroke", s.Stroke)
	setSlice(data, "stroke_dasharray", s.StrokeDasharray)
	setSlice(data, "fill", s.Fill)
	setSlice(data, "followers", s.Followers)
	setSlice(data, "attachments", s.Attachments)
	setSlice(data, "normals", s.Normals)
	if s.StrokeWidth > 0 {
		data["stroke_width"] = s.StrokeWidth
	}
	if s.StrokeOpacity > 0 {
		data["stroke_opacity"] = s.StrokeOpacity
	}
	if s.FillOpacity > 0 {
		data["fill_opacity"] = s.FillOpacity
	}
	if s.Target != "" {
		data["target"] = map[string]any{"type": "dataset", "id": s.Target}
	}
	return data, nil
}

func annotationName() resource.Option { return resource.WithName("annotation") }

// Create creates one annotation.
func (a *Annotations) Create(ctx context.Context, spec AnnotationSpec) (*resource.Resource, error) {
	data, err := spec.body()
	if err != nil {
		return nil, err
	}
	return a.svc.postResource(ctx, "create-annotation", data, annotationName())
}

// CreateMany creates several annotations in one request.
func (a *Annotations) CreateMany(ctx context.Context, specs []AnnotationSpec) ([]*resource.Resource, error) {
	list := make([]map[string]any, len(specs))
	for i, spec := range specs {
		data, err := spec.body()
		if err != nil {
			return nil, fmt.Errorf("annotation %d: %w", i, err)
		}
		list[i] = data
	}

	body, err := a.svc.post(ctx, "create-annotations", map[string]any{"annotations": list})
	if err != nil {
		return nil, err
	}
	return resource.DecodeList(body, annotationName())
}

// Describe returns one annotation.
func (a *Annotations) Describe(ctx context.Context, id string) (*resource.Resource, error) {
	return a.svc.postResource(ctx, "describe-annotation", map[string]any{"annotation": id}, annotationName())
}

// DescribeMany returns several annotations.
func (a *Annotations) DescribeMany(ctx context.Context, ids []string) ([]*resource.Resource, error) {
	body, err := a.svc.post(ctx, "describe-annotations", map[string]any{"annotations": ids})
	if err != nil {
		return nil, err
	}
	return resource.DecodeList(body, annotationName())
}

// Search lists annotations, restricted to a project when project is set.
func (a *Annotations) Search(ctx context.Context, project string, opts SearchOptions) (SearchResult, error) {
	data, filter := opts.body()
	if project != "" {
		filter["project"] = eq(project)
	}
	return a.svc.search(ctx, "search-annotations", data, annotationName())
}

// Delete moves annotations to the trash.
func (a *Annotations) Delete(ctx context.Context, ids ...string) error {
	_, err := a.svc.post(ctx, "delete-annotations", map[string]any{"annotations": ids})
	return err
}

// Restore brings deleted annotations back.
func (a *Annotations) Restore(ctx context.Context, ids ...string) error {
	_, err := a.svc.post(ctx, "restore-annotations", map[string]any{"annotations": ids})
	return err
}

func (a *Annotations) set(ctx context.Context, path, id, key string, value any) error {
	_, err := a.svc.post(ctx, path, map[string]any{"annotation": id, key: value})
	return err
}

// Rename sets the annotation name.
func (a *Annotations) Rename(ctx context.Context, id, name string) error {
	return a.set(ctx, "rename-annotation", id, "name", name)
}

func (a *Annotations) SetDescription(ctx context.Context, id, description string) error {
	return a.set(ctx, "set-annotation-description", id, "description", description)
}

func (a *Annotations) SetGeometry(ctx context.Context, id string, geometry map[string]any) error {
	return a.set(ctx, "set-annotation-geometry", id, "geometry", geometry)
}

func (a *Annotations) SetNormals(ctx context.Context, id string, normals []any) error {
	return a.set(ctx, "set-annotation-normals", id, "normals", normals)
}

func (a *Annotations) SetIcon(ctx context.Context, id string, icon Icon) error {
	return a.set(ctx, "set-annotation-icon", id, "icon", string(icon))
}

// SetStrokeColor sets the stroke color; a negative opacity is omitted.
func (a *Annotations) SetStrokeColor(ctx context.Context, id string, rgb [3]float64, opacity float64) error {
	return a.set(ctx, "set-annotation-stroke", id, "stroke", color(rgb, opacity))
}

func (a *Annotations) SetStrokeWidth(ctx context.Context, id string, width float64) error {
	return a.set(ctx, "set-annotation-stroke-width", id, "stroke_width", width)
}

func (a *Annotations) SetStrokeOpacity(ctx context.Context, id string, opacity float64) error {
	return a.set(ctx, "set-annotation-stroke-opacity", id, "stroke_opacity", opacity)
}

func (a *Annotations) SetStrokeDasharray(ctx context.Context, id string, dasharray []float64) error {
	return a.set(ctx, "set-annotation-stroke-dasharray", id, "stroke_dasharray", dasharray)
}

// SetFillColor sets the fill color; a negative opacity is omitted.
func (a *Annotations) SetFillColor(ctx context.Context, id string, rgb [3]float64, opacity float64) error {
	return a.set(ctx, "set-annotation-fill", id, "fill", color(rgb, opacity))
}

func (a *Annotations) SetFillOpacity(ctx context.Context, id string, opacity float64) error {
	return a.set(ctx, "set-annotation-fill-opacity", id, "fill_opacity", opacity)
}

// AddAttachments links datasets to an annotation.
func (a *Annotations) AddAttachments(ctx context.Context, id string, datasets ...string) error {
	if len(datasets) == 0 {
		return fmt.Errorf("%w: at least one attachment is required", ErrParameter)
	}
	return a.set(ctx, "add-attachments", id, "attachments", datasets)
}

// RemoveAttachments unlinks datasets from an annotation.
func (a *Annotations) RemoveAttachments(ctx context.Context, id string, datasets ...string) error {
	return a.set(ctx, "remove-attachments", id, "attachments", datasets)
}

// Update pushes local changes of an annotation description: the feature
// geometry, name and comment. Any other changed feature property yields
// ErrQuery before anything is sent. The refreshed description is returned.
func (a *Annotations) Update(ctx context.Context, r *resource.Resource) (*resource.Resource, error) {
	const props = "feature.properties."

	var setters []func() error
	if r.Changed("feature.geometry") {
		v, _ := r.Lookup("feature.geometry")
		geometry, _ := v.(map[string]any)
		setters = append(setters, func() error { return a.SetGeometry(ctx, r.ID(), geometry) })
	}

	for _, p := range r.Diff() {
		if !strings.HasPrefix(p, props) {
			continue
		}
		v, _ := r.Lookup(p)
		s, _ := v.(string)

		switch strings.TrimPrefix(p, props) {
		case "name":
			setters = append(setters, func() error { return a.Rename(ctx, r.ID(), s) })
		case "comment":
			setters = append(setters, func() error { return a.SetDescription(ctx, r.ID(), s) })
		default:
			return nil, fmt.Errorf("%w: cannot update %s", ErrQuery, p)
		}
	}

	if len(setters) == 0 {
		return nil, fmt.Errorf("%w: nothing to update on %s", ErrQuery, r)
	}
	for _, set := range setters {
		if err := set(); err != nil {
			return nil, err
		}
	}
	return a.Describe(ctx, r.ID())
}

func color(rgb [3]float64, opacity float64) []float64 {
	c := rgb[:]
	if opacity >= 0 {
		c = append(c, opacity)
	}
	return c
}
