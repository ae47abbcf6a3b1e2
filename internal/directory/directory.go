// Package directory lists nearby profiles and tracks presence.
package directory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/messaging"
)

// ProfilesTable is the table name carried by realtime events for profile rows.
const ProfilesTable = "profiles"

const earthRadiusKm = 6371.0

var (
	// ErrNoUser is returned when an operation needs the current user's id.
	ErrNoUser = errors.New("directory: user id required")
	// ErrProfileNotFound is returned by stores when updating a missing profile.
	ErrProfileNotFound = errors.New("directory: profile not found")
)

// Store is the profile persistence the directory needs.
type Store interface {
	ListProfiles(ctx context.Context, excludeID string) ([]messaging.Profile, error)
	CreateProfile(ctx context.Context, p messaging.Profile) error
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
}

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether p lies within the coordinate ranges.
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	rad := math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * rad
	dLon := (b.Longitude - a.Longitude) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Latitude*rad)*math.Cos(b.Latitude*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Nearby is a profile with its distance from the query origin. DistanceKm is nil when
// either side has no location.
type Nearby struct {
	messaging.Profile
	DistanceKm *float64
}

// Query narrows ListNearby. A zero Limit or MaxKm means no limit.
type Query struct {
	Origin *Point
	Limit  int
	MaxKm  float64
}

// ListNearby returns every profile except userID in store order (online first, then most
// recently online). With an origin and MaxKm, profiles without a location or farther
// than MaxKm are dropped.
func ListNearby(ctx context.Context, store Store, userID string, q Query) ([]Nearby, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if q.Origin != nil && !q.Origin.Valid() {
		return nil, fmt.Errorf("directory: invalid origin %v,%v", q.Origin.Latitude, q.Origin.Longitude)
	}

	profiles, err := store.ListProfiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("directory: list profiles: %w", err)
	}

	out := make([]Nearby, 0, len(profiles))
	for _, p := range profiles {
		n := Nearby{Profile: p}
		if q.Origin != nil && p.Latitude != nil && p.Longitude != nil {
			d := Haversine(*q.Origin, Point{Latitude: *p.Latitude, Longitude: *p.Longitude})
			n.DistanceKm = &d
		}
		if q.Origin != nil && q.MaxKm > 0 && (n.DistanceKm == nil || *n.DistanceKm > q.MaxKm) {
			continue
		}
		out = append(out, n)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// SetPresence records userID as online or offline at the given time.
func SetPresence(ctx context.Context, store Store, userID string, online bool, at time.Time) error {
	if userID == "" {
		return ErrNoUser
	}
	if err := store.SetOnline(ctx, userID, online, at.UTC()); err != nil {
		return fmt.Errorf("directory: set presence: %w", err)
	}
	return nil
}
