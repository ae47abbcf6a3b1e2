package sqlstore

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
	"github.com/google/uuid"
)

// latestSQL picks, per counterpart, the message with the greatest created_at.
const latestSQL = `
SELECT m.id, m.sender_id, m.receiver_id, m.content, m.read, m.created_at
FROM messages m
JOIN (
	SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner,
	       MAX(created_at) AS last_at
	FROM messages
	WHERE sender_id = ? OR receiver_id = ?
	GROUP BY partner
) l ON l.partner = CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END
   AND m.created_at = l.last_at
WHERE m.sender_id = ? OR m.receiver_id = ?
ORDER BY m.created_at DESC, m.id DESC`

// unread is a map condition so GORM quotes the column; READ is reserved in MySQL.
var unread = map[string]interface{}{"read": false}

// InsertMessage stores a new unread message.
func (s *Store) InsertMessage(ctx context.Context, nm messaging.NewMessage) (messaging.Message, error) {
	if err := nm.Validate(); err != nil {
		return messaging.Message{}, fmt.Errorf("sqlstore: insert message: %w", err)
	}
	row := messageRow{
		ID:         uuid.NewString(),
		SenderID:   nm.SenderID,
		ReceiverID: nm.ReceiverID,
		Content:    nm.Content,
		CreatedAt:  s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return messaging.Message{}, fmt.Errorf("sqlstore: insert message: %w", err)
	}
	s.publish(row.event(realtime.Insert))
	return row.message(), nil
}

// Thread returns every message between the pair, oldest first.
func (s *Store) Thread(ctx context.Context, userID, counterpartID string) ([]messaging.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, counterpartID, counterpartID, userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: thread: %w", err)
	}
	return messages(rows), nil
}

// LatestMessages returns the latest message per counterpart, newest first.
func (s *Store) LatestMessages(ctx context.Context, userID string) ([]messaging.Message, error) {
	// latestSQL takes userID once per placeholder
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Raw(latestSQL, userID, userID, userID, userID, userID, userID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: latest messages: %w", err)
	}
	return messages(rows), nil
}

// MarkRead sets read=true on the unread messages among ids.
func (s *Store) MarkRead(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db := s.db.WithContext(ctx)

	// collect the rows that will flip so only those are published
	var changed []messageRow
	if s.pub != nil {
		if err := db.Where("id IN ?", ids).Where(unread).Find(&changed).Error; err != nil {
			return 0, fmt.Errorf("sqlstore: find unread: %w", err)
		}
	}

	res := db.Model(&messageRow{}).
		Where("id IN ?", ids).
		Where(unread).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("sqlstore: mark read: %w", res.Error)
	}

	for i := range changed {
		s.publish(changed[i].event(realtime.Update))
	}
	return res.RowsAffected, nil
}
