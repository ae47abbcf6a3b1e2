package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
)

// ProfilesByIDs returns the profiles among ids that exist.
func (s *Store) ProfilesByIDs(ctx context.Context, ids []string) ([]messaging.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []profileRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: profiles: %w", err)
	}
	return profiles(rows), nil
}

// CreateProfile inserts a profile whose id is the owning account's id.
func (s *Store) CreateProfile(ctx context.Context, p messaging.Profile) error {
	now := s.now()
	row := profileRow{
		ID:         p.ID,
		Name:       p.Name,
		Avatar:     p.Avatar,
		Online:     p.Online,
		LastOnline: p.LastOnline,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Status:     p.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sqlstore: insert profile: %w", err)
	}
	s.publish(profileEvent(p.ID, realtime.Insert))
	return nil
}

// ListProfiles returns every profile except excludeID, online first and then by most
// recent last_online.
func (s *Store) ListProfiles(ctx context.Context, excludeID string) ([]messaging.Profile, error) {
	var rows []profileRow
	err := s.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Order("online DESC").
		Order("last_online DESC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list profiles: %w", err)
	}
	return profiles(rows), nil
}

// SetOnline updates the presence fields of a profile.
func (s *Store) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&profileRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"online":      online,
		"last_online": at.UTC(),
		"updated_at":  s.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("sqlstore: set online: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL reports 0 for an update that changed nothing; tell that apart from a missing row
		var n int64
		if err := db.Model(&profileRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("sqlstore: set online: %w", err)
		}
		if n == 0 {
			return ErrProfileNotFound
		}
	}
	s.publish(profileEvent(id, realtime.Update))
	return nil
}

func profileEvent(id string, t realtime.EventType) realtime.Event {
	return realtime.Event{
		Table:   directory.ProfilesTable,
		Type:    t,
		Columns: map[string]string{"id": id},
		At:      time.Now().UTC(),
	}
}

func profiles(rows []profileRow) []messaging.Profile {
	out := make([]messaging.Profile, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].profile())
	}
	return out
}
