package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/realtime"
)

// memStore is an in-memory RemoteStore with call counting and failure injection.
type memStore struct {
	mu       sync.Mutex
	msgs     []Message
	profiles map[string]Profile
	nextID   int
	clock    time.Time
	pub      realtime.Publisher
	calls    map[string]int

	failLatest   error
	failProfiles error
	failThread   error
	failInsert   error
	failMarkRead error

	// hooks run after the result has been captured, outside the lock
	latestHook func(ctx context.Context, call int) error
	threadHook func(ctx context.Context, call int) error
}

func newMemStore() *memStore {
	return &memStore{
		profiles: make(map[string]Profile),
		clock:    time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC),
		calls:    make(map[string]int),
	}
}

func strp(s string) *string { return &s }

func (s *memStore) addProfile(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id] = Profile{ID: id, Name: strp(name)}
}

// seed stores a message with an explicit timestamp without publishing.
func (s *memStore) seed(sender, receiver, content string, at time.Time, read bool) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := Message{
		ID:         fmt.Sprintf("m%03d", s.nextID),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  at,
		Read:       read,
	}
	s.msgs = append(s.msgs, m)
	return m
}

func (s *memStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) get(id string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == id {
			return m
		}
	}
	return Message{}
}

func (s *memStore) LatestMessages(ctx context.Context, userID string) ([]Message, error) {
	s.mu.Lock()
	s.calls["latest"]++
	call := s.calls["latest"]
	if err := s.failLatest; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	latest := make(map[string]Message)
	for _, m := range s.msgs {
		if !m.Involves(userID) {
			continue
		}
		cp := m.Counterpart(userID)
		if cur, ok := latest[cp]; !ok || m.CreatedAt.After(cur.CreatedAt) {
			latest[cp] = m
		}
	}
	out := make([]Message, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	hook := s.latestHook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *memStore) Thread(ctx context.Context, userID, counterpartID string) ([]Message, error) {
	s.mu.Lock()
	s.calls["thread"]++
	call := s.calls["thread"]
	if err := s.failThread; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var out []Message
	for _, m := range s.msgs {
		if (m.SenderID == userID && m.ReceiverID == counterpartID) ||
			(m.SenderID == counterpartID && m.ReceiverID == userID) {
			out = append(out, m)
		}
	}
	hook := s.threadHook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return nil, err
		}
	}
	// backend order is not guaranteed; return newest first to exercise sorting
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) InsertMessage(_ context.Context, nm NewMessage) (Message, error) {
	s.mu.Lock()
	s.calls["insert"]++
	if err := s.failInsert; err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	m := Message{
		ID:         fmt.Sprintf("m%03d", s.nextID),
		SenderID:   nm.SenderID,
		ReceiverID: nm.ReceiverID,
		Content:    nm.Content,
		CreatedAt:  s.clock,
	}
	s.msgs = append(s.msgs, m)
	pub := s.pub
	s.mu.Unlock()

	if pub != nil {
		pub.Publish(event(realtime.Insert, m))
	}
	return m, nil
}

func (s *memStore) MarkRead(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	s.calls["markread"]++
	if err := s.failMarkRead; err != nil {
		s.mu.Unlock()
		return 0, err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	var changed []Message
	for i := range s.msgs {
		if want[s.msgs[i].ID] && !s.msgs[i].Read {
			s.msgs[i].Read = true
			changed = append(changed, s.msgs[i])
			n++
		}
	}
	pub := s.pub
	s.mu.Unlock()

	if pub != nil {
		for _, m := range changed {
			pub.Publish(event(realtime.Update, m))
		}
	}
	return n, nil
}

func (s *memStore) ProfilesByIDs(_ context.Context, ids []string) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["profiles"]++
	if s.failProfiles != nil {
		return nil, s.failProfiles
	}
	var out []Profile
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func event(t realtime.EventType, m Message) realtime.Event {
	return realtime.Event{
		Table: MessagesTable,
		Type:  t,
		Columns: map[string]string{
			"id":          m.ID,
			"sender_id":   m.SenderID,
			"receiver_id": m.ReceiverID,
		},
		At: m.CreatedAt,
	}
}

// recorder collects notices.
type recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
