package stacksdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// TargetPhoto is the target type of photos, identified by a flight and a
// photo within it.
const TargetPhoto = "photo"

// Target designates what a tag or a comment is attached to: a project when
// ID is empty, an object of the given type otherwise. Photos also need the
// flight they belong to.
type Target struct {
	Type   string
	ID     string
	Flight string
}

func (t Target) body() (map[string]any, error) {
	target := map[string]any{"type": t.Type}
	switch {
	case t.Type == TargetPhoto:
		if t.ID == "" || t.Flight == "" {
			return nil, fmt.Errorf("%w: a photo target needs a photo and a flight", ErrParameter)
		}
		target["id"] = t.Flight
		target["subId"] = t.ID
	case t.ID != "":
		target["id"] = t.ID
	}
	return target, nil
}

func (t Target) query(q url.Values) {
	if t.Type != "" {
		q.Set("target_type", t.Type)
	}
	switch {
	case t.Flight != "":
		q.Set("target_id", t.Flight)
		if t.ID != "" {
			q.Set("target_subid", t.ID)
		}
	case t.ID != "":
		q.Set("target_id", t.ID)
	}
}

// uiTarget is the target as the UI service reports it. Photos carry the
// flight in id and the photo in subId.
type uiTarget struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	SubID string `json:"subId,omitempty"`
}

func (t uiTarget) target() Target {
	if t.SubID != "" {
		return Target{Type: t.Type, ID: t.SubID, Flight: t.ID}
	}
	return Target{Type: t.Type, ID: t.ID}
}

type uiUser struct {
	ID string `json:"id"`
}

// uiEntry is a tag or a comment as the UI service describes it.
type uiEntry struct {
	ID        string   `json:"_id"`
	Text      string   `json:"text"`
	ProjectID string   `json:"project_id"`
	Date      string   `json:"date"`
	Deleted   string   `json:"deleted,omitempty"`
	Target    uiTarget `json:"target"`
	Author    uiUser   `json:"author"`
	DeletedBy *uiUser  `json:"deleted_by,omitempty"`
}

// Tag is a short label attached to a project or one of its objects.
type Tag struct {
	ID           string
	Name         string
	Project      string
	Target       Target
	CreationDate string
	CreationUser string
	DeletionDate string
	DeletionUser string
}

func (e uiEntry) tag() Tag {
	t := Tag{
		ID:           e.ID,
		Name:         e.Text,
		Project:      e.ProjectID,
		Target:       e.Target.target(),
		CreationDate: e.Date,
		CreationUser: e.Author.ID,
		DeletionDate: e.Deleted,
	}
	if e.DeletedBy != nil {
		t.DeletionUser = e.DeletedBy.ID
	}
	return t
}

// Tags manages project tags.
type Tags struct {
	svc service
}

// Create tags a target of a project.
func (t *Tags) Create(ctx context.Context, name, project string, target Target) (Tag, error) {
	tb, err := target.body()
	if err != nil {
		return Tag{}, err
	}

	body, err := t.svc.post(ctx, "tags", map[string]any{
		"project_id": project,
		"text":       name,
		"target":     tb,
	})
	if err != nil {
		return Tag{}, err
	}

	var resp struct {
		Tag *uiEntry `json:"tag"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Tag == nil {
		return Tag{}, fmt.Errorf("%w: missing tag in response", ErrQuery)
	}
	return resp.Tag.tag(), nil
}

// Search lists the tags of a project, narrowed to a target when its fields
// are set.
func (t *Tags) Search(ctx context.Context, project string, target Target) ([]Tag, error) {
	q := url.Values{"project_id": {project}}
	target.query(q)

	body, err := t.svc.get(ctx, "tags", q)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Groups []struct {
			Target uiTarget  `json:"_id"`
			Tags   []uiEntry `json:"tags"`
		} `json:"tagGroups"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	var tags []Tag
	for _, g := range resp.Groups {
		for _, e := range g.Tags {
			e.ProjectID = project
			e.Target = g.Target
			tags = append(tags, e.tag())
		}
	}
	return tags, nil
}

// Delete removes a tag.
func (t *Tags) Delete(ctx context.Context, id string) error {
	_, err := t.svc.delete(ctx, "tags/"+url.PathEscape(id), nil)
	return err
}
