package stacksdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Comment is a message of a project conversation.
type Comment struct {
	ID           string
	Text         string
	Project      string
	Target       Target
	CreationDate string
	CreationUser string
}

func (e uiEntry) comment() Comment {
	return Comment{
		ID:           e.ID,
		Text:         e.Text,
		Project:      e.ProjectID,
		Target:       e.Target.target(),
		CreationDate: e.Date,
		CreationUser: e.Author.ID,
	}
}

// Comments manages project conversations.
type Comments struct {
	svc service
}

// Create posts a comment on a target of a project.
func (c *Comments) Create(ctx context.Context, text, project string, target Target) (Comment, error) {
	tb, err := target.body()
	if err != nil {
		return Comment{}, err
	}

	body, err := c.svc.post(ctx, "comments", map[string]any{
		"project_id": project,
		"text":       text,
		"target":     tb,
	})
	if err != nil {
		return Comment{}, err
	}

	var resp struct {
		Comment *uiEntry `json:"comment"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Comment == nil {
		return Comment{}, fmt.Errorf("%w: missing comment in response", ErrQuery)
	}
	return resp.Comment.comment(), nil
}

// Search lists the comments of a project, narrowed to a target when its
// fields are set.
func (c *Comments) Search(ctx context.Context, project string, target Target) ([]Comment, error) {
	q := url.Values{"project_id": {project}}
	target.query(q)

	body, err := c.svc.get(ctx, "comments", q)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Conversations []struct {
			Target   uiTarget  `json:"_id"`
			Comments []uiEntry `json:"comments"`
		} `json:"conversations"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	var comments []Comment
	for _, conv := range resp.Conversations {
		for _, e := range conv.Comments {
			e.ProjectID = project
			e.Target = conv.Target
			comments = append(comments, e.comment())
		}
	}
	return comments, nil
}

// MarkAsRead marks the comments of a project as read, only those of target
// when its type is set.
func (c *Comments) MarkAsRead(ctx context.Context, project string, target Target) error {
	data := map[string]any{"project_id": project}
	if target.Type != "" {
		tb, err := target.body()
		if err != nil {
			return err
		}
		data["target"] = tb
	}
	_, err := c.svc.post(ctx, "comments/mark-as-read", data)
	return err
}
