// Package resilience implements regional failover for remote providers.
//
// Judge-model calls, embedding lookups and duplex stream opens are all
// served out of a primary region with a single fixed fallback region. A
// [Group] holds one provider instance per region and tries them in order;
// the failure of every region degrades gracefully at the call site (the
// evaluation is skipped, never the session).
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllRegionsFailed is returned when every region in a [Group] fails.
var ErrAllRegionsFailed = errors.New("all regions failed")

// entry pairs a provider value with the region it serves.
type entry[T any] struct {
	region string
	value  T
}

// Group wraps a primary and zero or more fallback instances of the same
// provider type, one per region. Regions are tried in registration order.
//
// Group is safe for concurrent use once construction is complete; AddRegion
// must not race with Execute.
type Group[T any] struct {
	entries []entry[T]
}

// NewGroup creates a [Group] with primary as the first entry.
func NewGroup[T any](primary T, primaryRegion string) *Group[T] {
	return &Group[T]{
		entries: []entry[T]{{region: primaryRegion, value: primary}},
	}
}

// AddRegion appends a fallback provider for region. Fallbacks are tried in
// the order they are added, after the primary.
func (g *Group[T]) AddRegion(region string, fallback T) {
	g.entries = append(g.entries, entry[T]{region: region, value: fallback})
}

// Primary returns the primary entry's value. Static metadata queries
// (dimensions, model ids) go to the primary without failover.
func (g *Group[T]) Primary() T {
	return g.entries[0].value
}

// Execute tries fn against each region in order until one succeeds. Returns
// [ErrAllRegionsFailed] wrapped with the last error if every region fails.
func (g *Group[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		err := fn(e.value)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("region failed, trying next", "region", e.region, "error", err)
	}
	return fmt.Errorf("%w: %v", ErrAllRegionsFailed, lastErr)
}

// ExecuteWithResult tries fn against each region in the group until one
// succeeds, returning both the result value and error. This is a
// package-level function because Go does not support method-level type
// parameters.
func ExecuteWithResult[T any, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		result, err := fn(e.value)
		if err == nil {
			return result, nil
		}
		lastErr = err
		slog.Warn("region failed, trying next", "region", e.region, "error", err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllRegionsFailed, lastErr)
}
