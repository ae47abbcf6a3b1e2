package data

import (
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// User maps to users collection (id, email, password hash, timestamps)
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Email     string        `bson:"email"`
	Password  string        `bson:"password"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func (u *User) account() auth.Account {
	return auth.Account{
		ID:           u.ID.Hex(),
		Email:        u.Email,
		PasswordHash: u.Password,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// Message maps to messages collection. Participant ids are user id hex strings.
type Message struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	SenderID   string        `bson:"sender_id"`
	ReceiverID string        `bson:"receiver_id"`
	Content    string        `bson:"content"`
	Read       bool          `bson:"read"`
	CreatedAt  time.Time     `bson:"created_at"`
}

func (m *Message) domain() messaging.Message {
	return messaging.Message{
		ID:         m.ID.Hex(),
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		Read:       m.Read,
	}
}

func (m *Message) event(t realtime.EventType) realtime.Event {
	return realtime.Event{
		Table: messaging.MessagesTable,
		Type:  t,
		Columns: map[string]string{
			"id":          m.ID.Hex(),
			"sender_id":   m.SenderID,
			"receiver_id": m.ReceiverID,
		},
		At: time.Now().UTC(),
	}
}

// Profile maps to profiles collection. _id is the owning user's id; optional
// attributes are omitted when unset.
type Profile struct {
	ID         string     `bson:"_id"`
	Name       *string    `bson:"name,omitempty"`
	Avatar     *string    `bson:"avatar,omitempty"`
	Online     bool       `bson:"online"`
	LastOnline *time.Time `bson:"last_online,omitempty"`
	Latitude   *float64   `bson:"latitude,omitempty"`
	Longitude  *float64   `bson:"longitude,omitempty"`
	Status     *string    `bson:"status,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
}

func (p *Profile) domain() messaging.Profile {
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

func profileRow(p messaging.Profile, now time.Time) *Profile {
	return &Profile{
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
}
