// Package oracle is the travel-time lookup used to decide whether two
// consecutive itinerary events leave enough time to move between them.
//
// The client never reports "zero" for an unknown route: every failure is a
// nil result (TravelTime) or a classified error (Lookup) so the timeline can
// show the operator that the number is not trustworthy.
package oracle

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable covers transport failures, rate limits and provider
	// level errors.
	ErrUnavailable = errors.New("oracle: travel time unavailable")
	// ErrNoRoute means the provider answered but found no route or could
	// not geocode one of the places.
	ErrNoRoute = errors.New("oracle: no route between places")
	// ErrSamePlace is returned when origin and destination sanitize to the
	// same string; there is nothing to look up.
	ErrSamePlace = errors.New("oracle: origin equals destination")
	// ErrUnresolvedPlace is returned when sanitation leaves nothing usable
	// (empty, generic label, bare URL). The lookup is skipped.
	ErrUnresolvedPlace = errors.New("oracle: place could not be resolved")
)

// Skipped reports whether err means the pair was never eligible for a
// lookup, as opposed to a lookup that failed.
func Skipped(err error) bool {
	return errors.Is(err, ErrSamePlace) || errors.Is(err, ErrUnresolvedPlace)
}

// TravelTime is the provider's estimate for one origin/destination pair.
type TravelTime struct {
	DurationText         string `json:"durationText"`
	DurationValueSeconds int    `json:"durationValueSeconds"`
}

// Minutes rounds the duration up to whole minutes.
func (t TravelTime) Minutes() int {
	if t.DurationValueSeconds <= 0 {
		return 0
	}
	return (t.DurationValueSeconds + 59) / 60
}

// Transport performs one raw lookup against a provider. Implementations
// must honor ctx cancellation; they are not expected to cache.
type Transport interface {
	Lookup(ctx context.Context, origin, destination string) (TravelTime, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, origin, destination string) (TravelTime, error)

func (f TransportFunc) Lookup(ctx context.Context, origin, destination string) (TravelTime, error) {
	return f(ctx, origin, destination)
}
