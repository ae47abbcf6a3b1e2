package sqlstore

import (
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
)

type accountRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (accountRow) TableName() string { return "users" }

func (a *accountRow) account() auth.Account {
	return auth.Account{
		ID:           a.ID,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type profileRow struct {
	ID         string     `gorm:"primaryKey;size:36"`
	Name       *string    `gorm:"size:128"`
	Avatar     *string    `gorm:"size:512"`
	Online     bool       `gorm:"not null;default:false;index:idx_profiles_presence,priority:1"`
	LastOnline *time.Time `gorm:"index:idx_profiles_presence,priority:2"`
	Latitude   *float64
	Longitude  *float64
	Status     *string `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (profileRow) TableName() string { return "profiles" }

func (p *profileRow) profile() messaging.Profile {
	return messaging.Profile{
		ID:         p.ID,
		Name:       p.Name,
		Avatar:     p.Avatar,
		Online:     p.Online,
		LastOnline: p.LastOnline,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Status:     p.Status,
	}
}

type messageRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	SenderID   string    `gorm:"size:36;not null;index:idx_messages_pair,priority:1"`
	ReceiverID string    `gorm:"size:36;not null;index:idx_messages_pair,priority:2;index:idx_messages_receiver"`
	Content    string    `gorm:"type:text;not null"`
	Read       bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null;index:idx_messages_pair,priority:3"`
}

func (messageRow) TableName() string { return "messages" }

func (m *messageRow) message() messaging.Message {
	return messaging.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.UTC(),
		Read:       m.Read,
	}
}

func (m *messageRow) event(t realtime.EventType) realtime.Event {
	return realtime.Event{
		Table: messaging.MessagesTable,
		Type:  t,
		Columns: map[string]string{
			"id":          m.ID,
			"sender_id":   m.SenderID,
			"receiver_id": m.ReceiverID,
		},
		At: time.Now().UTC(),
	}
}

func messages(rows []messageRow) []messaging.Message {
	out := make([]messaging.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].message())
	}
	return out
}
