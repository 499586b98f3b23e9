package stacksdk

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"net/url"

	"github.com/aussiebroadwan/aerostack/pkg/resource"
)

func missionOptions() []resource.Option {
	return []resource.Option{
		resource.WithName("mission"),
		resource.WithHidden("application", "area", "delivery", "length", "precision",
			"processSettings", "properties", "status", "tags", "workflows"),
		resource.WithImmutable("created", "modification_date", "modification_user",
			"geometry", "user"),
	}
}

// Missions manages the missions of projects.
type Missions struct {
	ui service
	pm service
}

// MissionSpec describes a mission to create.
type MissionSpec struct {
	Project    string
	SurveyDate string
	Name       string
	// NumberOfImages above zero creates a survey: a mission and the flight
	// that will receive the images.
	NumberOfImages int
	// Coordinates of the survey area polygon, for surveys only.
	Coordinates [][]float64
	Area        float64
	Extra       map[string]any
}

// Create creates a mission, or a survey when images are expected. The flight
// is nil for plain missions.
func (m *Missions) Create(ctx context.Context, spec MissionSpec) (flight, mission *resource.Resource, err error) {
	if spec.Project == "" || spec.SurveyDate == "" {
		return nil, nil, fmt.Errorf("%w: mission project and survey date are required", ErrParameter)
	}
	if spec.NumberOfImages > 0 {
		return m.CreateSurvey(ctx, spec)
	}
	mission, err = m.CreateMission(ctx, spec)
	return nil, mission, err
}

// CreateMission creates a mission without flight.
func (m *Missions) CreateMission(ctx context.Context, spec MissionSpec) (*resource.Resource, error) {
	data := map[string]any{
		"project":     spec.Project,
		"survey_date": spec.SurveyDate,
	}
	setString(data, "name", spec.Name)
	maps.Copy(data, spec.Extra)

	body, err := m.ui.post(ctx, "missions", data)
	if err != nil {
		return nil, err
	}
	return objectField(body, "mission", missionOptions()...)
}

// CreateSurvey creates a mission and its flight.
func (m *Missions) CreateSurvey(ctx context.Context, spec MissionSpec) (flight, mission *resource.Resource, err error) {
	data := map[string]any{
		"project_id":        spec.Project,
		"survey_date":       spec.SurveyDate,
		"number_of_photos":  spec.NumberOfImages,
		"orderAnalytic":     map[string]any{},
		"processSettings":   map[string]any{},
		"addProjectToUsers": true,
		"area":              spec.Area,
		"name":              spec.Name, // the flight needs a name, even empty
	}
	if spec.Name != "" {
		data["mission_name"] = spec.Name
	}
	if spec.Coordinates != nil {
		data["geometry"] = map[string]any{
			"type": "GeometryCollection",
			"geometries": []any{
				map[string]any{"type": "Polygon", "coordinates": []any{spec.Coordinates}},
			},
		}
	}
	maps.Copy(data, spec.Extra)

	body, err := m.ui.post(ctx, "projects/survey", data)
	if err != nil {
		return nil, nil, err
	}
	if mission, err = objectField(body, "mission", missionOptions()...); err != nil {
		return nil, nil, err
	}
	if flight, err = objectField(body, "flight", flightOptions()...); err != nil {
		return nil, nil, err
	}
	return flight, mission, nil
}

// MissionQuery selects missions. Empty fields are not filtered on.
type MissionQuery struct {
	Missions []string
	Flights  []string
	Project  string
	Deleted  bool
}

// Search lists missions.
func (m *Missions) Search(ctx context.Context, q MissionQuery) ([]*resource.Resource, error) {
	data := map[string]any{"deleted": q.Deleted}
	setSlice(data, "_id", q.Missions)
	setSlice(data, "flights", q.Flights)
	setString(data, "project", q.Project)

	body, err := m.ui.post(ctx, "missions/search", data)
	if err != nil {
		return nil, err
	}
	return decodeField(body, "missions", missionOptions()...)
}

// Delete removes a mission and its survey.
func (m *Missions) Delete(ctx context.Context, id string) error {
	_, err := m.ui.post(ctx, "missions/delete-survey", map[string]any{"mission": id})
	return err
}

// CompleteSurveyUpload tells the platform the images of a flight are all
// uploaded. An empty status means "complete".
func (m *Missions) CompleteSurveyUpload(ctx context.Context, flight, status string) error {
	if status == "" {
		status = "complete"
	}
	body, err := m.pm.post(ctx, "flights/"+url.PathEscape(flight)+"/uploads/status", map[string]any{
		"_id":    flight,
		"status": status,
	})
	if err != nil {
		return err
	}
	if !bytes.Equal(body, []byte("OK")) {
		return fmt.Errorf("%w: survey completion answered %q instead of OK", ErrQuery, truncate(body, 100))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
