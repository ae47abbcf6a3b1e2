package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2024, 5, 22, 12, 0, 0, 0, time.UTC) }

func testOptions(n Notifier) Options {
	return Options{Now: fixedNow, Location: time.UTC, Notifier: n}
}

func TestListConversations_EmptyUser(t *testing.T) {
	store := newMemStore()
	got, err := ListConversations(context.Background(), store, "", fixedNow(), time.UTC, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, store.count("latest"))
	assert.Equal(t, 0, store.count("profiles"))
}

func TestListConversations_NoMessagesSkipsProfiles(t *testing.T) {
	store := newMemStore()
	got, err := ListConversations(context.Background(), store, "u1", fixedNow(), time.UTC, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, store.count("latest"))
	assert.Equal(t, 0, store.count("profiles"))
}

func TestListConversations_DropsInvalidRows(t *testing.T) {
	store := newMemStore()
	store.seed("u2", "u1", "hi", fixedNow(), false)
	store.seed("u1", "u1", "self", fixedNow().Add(-time.Hour), false)

	got, err := ListConversations(context.Background(), store, "u1", fixedNow(), time.UTC, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].ID)
}

func TestAggregator_RefreshIdempotent(t *testing.T) {
	store := newMemStore()
	store.addProfile("u2", "Danny")
	store.seed("u1", "u2", "oi", fixedNow().Add(-25*time.Hour), false)
	store.seed("u3", "u1", "hello", fixedNow().Add(-3*24*time.Hour), false)

	agg := NewAggregator("u1", store, nil, testOptions(nil))
	defer agg.Close(context.Background())

	first, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	second, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, first, second)

	require.Len(t, first, 2)
	assert.Equal(t, Conversation{
		ID:      "u2",
		Avatar:  PlaceholderAvatar("Danny"),
		Name:    "Danny",
		Message: "→ oi",
		Time:    "Yesterday",
		LastAt:  fixedNow().Add(-25 * time.Hour),
	}, first[0])
	assert.Equal(t, "Unknown", first[1].Name)
	assert.Equal(t, "3d ago", first[1].Time)
	assert.True(t, first[1].Unread)
}

func TestAggregator_FailureKeepsPreviousList(t *testing.T) {
	store := newMemStore()
	store.seed("u2", "u1", "hi", fixedNow(), false)
	rec := &recorder{}

	agg := NewAggregator("u1", store, nil, testOptions(rec))
	defer agg.Close(context.Background())

	before, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, before, 1)

	store.mu.Lock()
	store.failProfiles = errors.New("backend down")
	store.mu.Unlock()
	store.seed("u3", "u1", "new", fixedNow(), false)

	_, err = agg.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, agg.Conversations())

	notices := rec.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "refresh conversations", notices[0].Op)
	assert.False(t, notices[0].UserVisible)
}

func TestAggregator_StaleResultDiscarded(t *testing.T) {
	store := newMemStore()
	store.seed("u2", "u1", "first", fixedNow(), false)

	release := make(chan struct{})
	started := make(chan struct{})
	store.latestHook = func(_ context.Context, call int) error {
		if call == 1 {
			close(started)
			<-release
		}
		return nil
	}

	agg := NewAggregator("u1", store, nil, testOptions(nil))
	defer agg.Close(context.Background())

	slow := make(chan []Conversation, 1)
	go func() {
		convs, _ := agg.Refresh(context.Background())
		slow <- convs
	}()
	<-started

	store.seed("u3", "u1", "second", fixedNow(), false)
	fresh, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, fresh, 2)

	close(release)
	stale := <-slow
	assert.Len(t, stale, 2, "stale pass returns the newer list")
	assert.Len(t, agg.Conversations(), 2)
}

func TestAggregator_RealtimeRefresh(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()

	store := newMemStore()
	store.pub = hub

	var updates = make(chan []Conversation, 8)
	opts := testOptions(nil)
	opts.OnConversations = func(c []Conversation) { updates <- c }

	agg := NewAggregator("u1", store, hub, opts)
	got, err := agg.Start(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, hub.Len())
	<-updates

	// unrelated traffic does not trigger a pass
	_, err = store.InsertMessage(context.Background(), NewMessage{SenderID: "u7", ReceiverID: "u8", Content: "x"})
	require.NoError(t, err)

	_, err = store.InsertMessage(context.Background(), NewMessage{SenderID: "u2", ReceiverID: "u1", Content: "hey"})
	require.NoError(t, err)

	select {
	case c := <-updates:
		require.Len(t, c, 1)
		assert.Equal(t, "hey", c[0].Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after insert")
	}
	assert.Equal(t, 2, store.count("latest"))

	require.NoError(t, agg.Close(context.Background()))
	assert.Equal(t, 0, hub.Len())

	_, err = agg.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, agg.Close(context.Background()))
}

// gatedChannel holds every Subscribe until release is closed.
type gatedChannel struct {
	*realtime.Hub
	entered chan struct{}
	release chan struct{}
}

func newGatedChannel(hub *realtime.Hub) *gatedChannel {
	return &gatedChannel{Hub: hub, entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gatedChannel) Subscribe(ctx context.Context, f realtime.Filter, h realtime.Handler) (int64, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Hub.Subscribe(ctx, f, h)
}

func TestAggregator_ConcurrentStartSubscribesOnce(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()
	ch := newGatedChannel(hub)

	agg := NewAggregator("u1", newMemStore(), ch, testOptions(nil))
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := agg.Start(context.Background())
			errs <- err
		}()
	}
	<-ch.entered
	// give the second Start time to reach the subscription step
	time.Sleep(20 * time.Millisecond)
	close(ch.release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, 1, hub.Len())
	assert.Len(t, ch.entered, 0)
	require.NoError(t, agg.Close(context.Background()))
	assert.Equal(t, 0, hub.Len())
}

func TestAggregator_CloseDuringSubscribe(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()
	ch := newGatedChannel(hub)

	agg := NewAggregator("u1", newMemStore(), ch, testOptions(nil))
	errs := make(chan error, 1)
	go func() {
		_, err := agg.Start(context.Background())
		errs <- err
	}()
	<-ch.entered
	require.NoError(t, agg.Close(context.Background()))
	close(ch.release)

	require.ErrorIs(t, <-errs, ErrClosed)
	assert.Equal(t, 0, hub.Len())
}

func TestAggregator_StartWithoutUser(t *testing.T) {
	hub := realtime.NewHub(0)
	defer hub.Close()
	store := newMemStore()

	agg := NewAggregator("", store, hub, testOptions(nil))
	got, err := agg.Start(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 0, store.count("latest"))
}

func TestAggregator_CallTimeout(t *testing.T) {
	store := newMemStore()
	store.latestHook = func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}

	opts := testOptions(nil)
	opts.CallTimeout = 20 * time.Millisecond
	agg := NewAggregator("u1", store, nil, opts)
	defer agg.Close(context.Background())

	_, err := agg.Refresh(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOptionsDefaultNoTimeout(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Zero(t, o.CallTimeout)
	assert.False(t, o.OptimisticEcho)
	assert.IsType(t, Refetch{}, o.Reconciler)
	assert.IsType(t, LogNotifier{}, o.Notifier)
}
