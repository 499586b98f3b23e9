package stacksdk

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aussiebroadwan/aerostack/pkg/resource"
	"github.com/aussiebroadwan/aerostack/pkg/slogx"
)

// Product states after which no more logs are produced.
var finalStates = []string{"available", "failed", "rejected"}

const (
	// DefaultFollowInterval is the delay between two log polls.
	DefaultFollowInterval = 2 * time.Second

	// DefaultFollowGrace is how long logs keep being polled once the
	// product reached a final state.
	DefaultFollowGrace = 10 * time.Second
)

// Products manages analytic products.
type Products struct {
	svc service

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newProducts(svc service) *Products {
	return &Products{svc: svc, now: time.Now, sleep: sleepContext}
}

// Search lists products, restricted to a project when project is set.
func (p *Products) Search(ctx context.Context, project string, opts SearchOptions) (SearchResult, error) {
	data, filter := opts.body()
	if project != "" {
		filter["project"] = eq(project)
	}
	return p.svc.search(ctx, "search-products", data, resource.WithName("product"))
}

// Describe returns one product.
func (p *Products) Describe(ctx context.Context, id string) (*resource.Resource, error) {
	return p.svc.postResource(ctx, "describe-product", map[string]any{"product": id}, resource.WithName("product"))
}

// Cancel stops a running product.
func (p *Products) Cancel(ctx context.Context, id string) (*resource.Resource, error) {
	return p.svc.postResource(ctx, "cancel-product", map[string]any{"product": id}, resource.WithName("product"))
}

// ProductLog is one log entry of a product.
type ProductLog struct {
	Timestamp time.Time
	Record    map[string]any
}

// ProductLogs holds the logs of a product, newest first.
type ProductLogs struct {
	Total int
	Logs  []ProductLog
}

// RetrieveLogs returns the current logs of a product.
func (p *Products) RetrieveLogs(ctx context.Context, id string) (ProductLogs, error) {
	body, err := p.svc.post(ctx, "retrieve-product-logs", map[string]any{"product": id})
	if err != nil {
		return ProductLogs{}, err
	}

	raw := gjson.GetBytes(body, "logs")
	if !raw.IsArray() {
		return ProductLogs{}, fmt.Errorf("%w: missing logs for product %s", ErrQuery, id)
	}

	out := ProductLogs{Total: int(gjson.GetBytes(body, "total.value").Int())}
	for _, entry := range raw.Array() {
		ts, err := time.Parse(time.RFC3339Nano, entry.Get("timestamp").String())
		if err != nil {
			return ProductLogs{}, fmt.Errorf("%w: log timestamp: %v", ErrQuery, err)
		}
		record, _ := entry.Value().(map[string]any)
		out.Logs = append(out.Logs, ProductLog{Timestamp: ts, Record: record})
	}
	return out, nil
}

// FollowOptions tune FollowLogs. Zero values select the defaults.
type FollowOptions struct {
	Interval time.Duration
	Grace    time.Duration
}

// FollowLogs yields the logs of a product in chronological order as they
// appear. The sequence ends once the product has been in a final state for
// longer than the grace period, when ctx is done, or on the first error,
// which is yielded.
func (p *Products) FollowLogs(ctx context.Context, id string, opts FollowOptions) iter.Seq2[ProductLog, error] {
	if opts.Interval <= 0 {
		opts.Interval = DefaultFollowInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultFollowGrace
	}
	log := slogx.FromContext(ctx).With("product", id)

	return func(yield func(ProductLog, error) bool) {
		var last, finalAt time.Time
		for {
			desc, err := p.Describe(ctx, id)
			if err != nil {
				yield(ProductLog{}, err)
				return
			}

			finished := false
			if status := desc.GetString("status"); slices.Contains(finalStates, status) {
				switch {
				case finalAt.IsZero():
					finalAt = p.now()
					log.DebugContext(ctx, "product reached final state", "status", status)
				case p.now().Sub(finalAt) > opts.Grace:
					finished = true
				}
			}

			logs, err := p.RetrieveLogs(ctx, id)
			if err != nil {
				yield(ProductLog{}, err)
				return
			}
			for _, entry := range slices.Backward(logs.Logs) {
				if !last.IsZero() && !entry.Timestamp.After(last) {
					continue
				}
				if !yield(entry, nil) {
					return
				}
			}
			if len(logs.Logs) > 0 {
				last = logs.Logs[0].Timestamp
			}

			if finished {
				return
			}
			if err := p.sleep(ctx, opts.Interval); err != nil {
				yield(ProductLog{}, err)
				return
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
