package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (l *eventLog) Publish(e realtime.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) last() realtime.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

// testStore opens a migrated in-memory SQLite store whose clock advances one second
// per write.
func testStore(t *testing.T) (*Store, *eventLog) {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)

	pub := &eventLog{}
	s := New(db, pub)
	clock := time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s, pub
}

func send(t *testing.T, s *Store, from, to, content string) messaging.Message {
	t.Helper()
	m, err := s.InsertMessage(context.Background(), messaging.NewMessage{SenderID: from, ReceiverID: to, Content: content})
	require.NoError(t, err)
	return m
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("postgres", "dsn")
	require.Error(t, err)
}

func TestStore_Ping(t *testing.T) {
	s, _ := testStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestStore_InsertAndThread(t *testing.T) {
	s, pub := testStore(t)
	ctx := context.Background()

	first := send(t, s, "alice", "bob", "hi bob")
	send(t, s, "carol", "alice", "other thread")
	reply := send(t, s, "bob", "alice", "hello alice")

	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Read)
	assert.Equal(t, realtime.Insert, pub.last().Type)
	assert.Equal(t, "bob", pub.last().Columns["sender_id"])

	thread, err := s.Thread(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, first.ID, thread[0].ID)
	assert.Equal(t, reply.ID, thread[1].ID)
	assert.True(t, first.CreatedAt.Equal(thread[0].CreatedAt))

	// the same thread seen from the other side
	other, err := s.Thread(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, thread, other)
}

func TestStore_InsertRejectsSelfMessage(t *testing.T) {
	s, pub := testStore(t)
	ctx := context.Background()

	_, err := s.InsertMessage(ctx, messaging.NewMessage{SenderID: "alice", ReceiverID: "alice", Content: "note to self"})
	require.ErrorIs(t, err, messaging.ErrSelfMessage)
	_, err = s.InsertMessage(ctx, messaging.NewMessage{SenderID: "alice", Content: "nobody"})
	require.ErrorIs(t, err, messaging.ErrMissingParticipant)

	thread, err := s.Thread(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.Empty(t, thread)
	assert.Empty(t, pub.events)
}

func TestStore_LatestMessages(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	send(t, s, "alice", "bob", "first")
	send(t, s, "carol", "alice", "hey")
	bobReply := send(t, s, "bob", "alice", "second")
	send(t, s, "dave", "erin", "unrelated")

	latest, err := s.LatestMessages(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, bobReply.ID, latest[0].ID)
	assert.Equal(t, "carol", latest[1].SenderID)

	none, err := s.LatestMessages(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_MarkRead(t *testing.T) {
	s, pub := testStore(t)
	ctx := context.Background()

	a := send(t, s, "bob", "alice", "a")
	b := send(t, s, "bob", "alice", "b")

	n, err := s.MarkRead(ctx, []string{a.ID, b.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, realtime.Update, pub.last().Type)

	n, err = s.MarkRead(ctx, []string{a.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.MarkRead(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	thread, err := s.Thread(ctx, "alice", "bob")
	require.NoError(t, err)
	for _, m := range thread {
		assert.True(t, m.Read)
	}
}

func TestStore_Accounts(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	acct, err := s.CreateAccount(ctx, " Alice@Example.com", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", acct.Email)

	_, err = s.CreateAccount(ctx, "alice@example.com", "other")
	require.ErrorIs(t, err, auth.ErrUserExists)

	got, err := s.AccountByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	byID, err := s.AccountByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.Email, byID.Email)

	_, err = s.AccountByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, auth.ErrUserNotFound)
	_, err = s.AccountByID(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestStore_Profiles(t *testing.T) {
	s, pub := testStore(t)
	ctx := context.Background()

	name := func(v string) *string { return &v }
	earlier := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	for _, p := range []messaging.Profile{
		{ID: "me", Name: name("Me"), Online: true},
		{ID: "a", Name: name("Away"), LastOnline: &earlier},
		{ID: "b", Name: name("Back"), LastOnline: &later},
		{ID: "c", Name: name("Online"), Online: true, LastOnline: &earlier},
		{ID: "d"},
	} {
		require.NoError(t, s.CreateProfile(ctx, p))
	}

	list, err := s.ListProfiles(ctx, "me")
	require.NoError(t, err)
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids)

	got, err := s.ProfilesByIDs(ctx, []string{"b", "d", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	none, err := s.ProfilesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.SetOnline(ctx, "a", true, later.Add(time.Hour)))
	assert.Equal(t, "profiles", pub.last().Table)
	got, err = s.ProfilesByIDs(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Online)
	require.NotNil(t, got[0].LastOnline)
	assert.True(t, got[0].LastOnline.Equal(later.Add(time.Hour)))

	require.ErrorIs(t, s.SetOnline(ctx, "missing", true, time.Now()), ErrProfileNotFound)
}
