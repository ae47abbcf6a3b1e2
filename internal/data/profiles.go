package data

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrProfileNotFound is returned when updating a profile that does not exist.
var ErrProfileNotFound = directory.ErrProfileNotFound

// ProfilesStore performs profile DB operations.
type ProfilesStore struct {
	coll *mongo.Collection
	pub  realtime.Publisher
}

// NewProfilesStore returns a ProfilesStore using the provided collection. pub may be
// nil.
func NewProfilesStore(coll *mongo.Collection, pub realtime.Publisher) *ProfilesStore {
	return &ProfilesStore{coll: coll, pub: pub}
}

// ProfilesByIDs returns the profiles among ids that exist. Order is unspecified.
func (p *ProfilesStore) ProfilesByIDs(ctx context.Context, ids []string) ([]messaging.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := p.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("data: find profiles: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []*Profile
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("data: decode profiles: %w", err)
	}
	out := make([]messaging.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, nil
}

// CreateProfile inserts a profile. Its id must be the owning user's id.
func (p *ProfilesStore) CreateProfile(ctx context.Context, prof messaging.Profile) error {
	row := profileRow(prof, time.Now().UTC())
	if _, err := p.coll.InsertOne(ctx, row); err != nil {
		return fmt.Errorf("data: insert profile: %w", err)
	}
	p.publish(prof.ID, realtime.Insert)
	return nil
}

// ListProfiles returns every profile except excludeID, online first and then by most
// recent last_online.
func (p *ProfilesStore) ListProfiles(ctx context.Context, excludeID string) ([]messaging.Profile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "online", Value: -1}, {Key: "last_online", Value: -1}, {Key: "_id", Value: 1}})

	cursor, err := p.coll.Find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("data: list profiles: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []*Profile
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("data: decode profiles: %w", err)
	}
	out := make([]messaging.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.domain())
	}
	return out, nil
}

// SetOnline updates the presence fields of a profile.
func (p *ProfilesStore) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"online":      online,
		"last_online": at.UTC(),
		"updated_at":  time.Now().UTC(),
	}}
	res, err := p.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("data: set online: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrProfileNotFound
	}
	p.publish(id, realtime.Update)
	return nil
}

func (p *ProfilesStore) publish(id string, t realtime.EventType) {
	if p.pub == nil {
		return
	}
	p.pub.Publish(realtime.Event{
		Table:   directory.ProfilesTable,
		Type:    t,
		Columns: map[string]string{"id": id},
		At:      time.Now().UTC(),
	})
}
