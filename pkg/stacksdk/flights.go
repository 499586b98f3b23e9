package stacksdk

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aussiebroadwan/aerostack/pkg/resource"
)

func flightOptions() []resource.Option {
	return []resource.Option{resource.WithName("flight"), resource.WithHidden("drone")}
}

// Flights lists the flights of projects and missions.
type Flights struct {
	svc service
}

// Search lists the flights of a project, or of a mission when project is
// empty.
func (f *Flights) Search(ctx context.Context, project, mission string) ([]*resource.Resource, error) {
	q := url.Values{}
	switch {
	case project != "":
		q.Set("project_id", project)
	case mission != "":
		q.Set("mission_id", mission)
	}

	body, err := f.svc.get(ctx, "flights", q)
	if err != nil {
		return nil, err
	}
	return decodeField(body, "flights", flightOptions()...)
}

// Create is not offered: flights are created with their survey by
// Missions.Create.
func (f *Flights) Create(context.Context) (*resource.Resource, error) {
	return nil, fmt.Errorf("%w: use Missions.Create to create flights", ErrUnsupported)
}
