// Package messaging is the conversation core: typed message and profile records, the
// RemoteStore contract, the conversation-list Aggregator and the per-counterpart
// ThreadSession.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// MessagesTable is the table name carried by realtime events for message rows.
const MessagesTable = "messages"

var (
	// ErrClosed is returned by session methods after Close.
	ErrClosed = errors.New("messaging: session closed")
	// ErrNotOpen is returned by Send before the thread has been opened or loaded.
	ErrNotOpen = errors.New("messaging: session not open")
	// ErrSelfMessage is returned when a message would be addressed to its sender.
	ErrSelfMessage = errors.New("messaging: sender and receiver are the same user")
	// ErrMissingParticipant is returned when a message lacks a sender or receiver.
	ErrMissingParticipant = errors.New("messaging: missing participant")
)

// Message is one directed text message.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	CreatedAt  time.Time
	Read       bool
}

// Counterpart returns the participant that is not userID.
func (m Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID is the sender or the receiver.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Validate checks the invariants every stored message row satisfies.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return errors.New("missing id")
	case m.SenderID == "" || m.ReceiverID == "":
		return ErrMissingParticipant
	case m.SenderID == m.ReceiverID:
		return ErrSelfMessage
	case m.CreatedAt.IsZero():
		return errors.New("missing created_at")
	}
	return nil
}

// NewMessage is the insert payload for a message. The store assigns id and created_at;
// read starts false.
type NewMessage struct {
	SenderID   string
	ReceiverID string
	Content    string
}

// Validate checks the participants before a store writes the row.
func (nm NewMessage) Validate() error {
	switch {
	case nm.SenderID == "" || nm.ReceiverID == "":
		return ErrMissingParticipant
	case nm.SenderID == nm.ReceiverID:
		return ErrSelfMessage
	}
	return nil
}

// Profile is the projection of a user profile the core consumes. Optional columns are
// pointers.
type Profile struct {
	ID         string
	Name       *string
	Avatar     *string
	Online     bool
	LastOnline *time.Time
	Latitude   *float64
	Longitude  *float64
	Status     *string
}

// Conversation is one row of the conversation list: the latest message exchanged with
// a counterpart.
type Conversation struct {
	ID      string
	Avatar  string
	Name    string
	Message string
	Time    string
	Unread  bool
	LastAt  time.Time
}

// MessageStore is the message half of RemoteStore.
type MessageStore interface {
	// LatestMessages returns the most recent message per counterpart of userID.
	LatestMessages(ctx context.Context, userID string) ([]Message, error)
	// Thread returns every message between the pair, ascending by created_at.
	Thread(ctx context.Context, userID, counterpartID string) ([]Message, error)
	InsertMessage(ctx context.Context, m NewMessage) (Message, error)
	// MarkRead sets read=true on the given ids and returns the number of rows changed.
	MarkRead(ctx context.Context, ids []string) (int64, error)
}

// ProfileStore fetches profiles in batches.
type ProfileStore interface {
	ProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error)
}

// RemoteStore is the backend the core reads from and writes to.
type RemoteStore interface {
	MessageStore
	ProfileStore
}

// ingest drops rows that fail validation, logging each one.
func ingest(rows []Message, log *slog.Logger) []Message {
	out := rows[:0:0]
	for _, m := range rows {
		if err := m.Validate(); err != nil {
			log.Warn("dropping invalid message row", "id", m.ID, "err", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// sortThread orders messages ascending by created_at, breaking ties by id so repeated
// loads of the same rows produce the same order.
func sortThread(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func wrap(op string, err error) error {
	return fmt.Errorf("messaging: %s: %w", op, err)
}
