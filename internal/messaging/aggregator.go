package messaging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/metrics"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
)

// ListConversations runs one aggregation pass for userID: latest message per
// counterpart, one batched profile fetch, then BuildConversations. An empty userID or an
// empty latest-message set returns an empty list without touching the profile store.
func ListConversations(ctx context.Context, store RemoteStore, userID string, now time.Time, loc *time.Location, log *slog.Logger) ([]Conversation, error) {
	if userID == "" {
		return []Conversation{}, nil
	}
	if log == nil {
		log = slog.Default()
	}

	// Step 1: one row per counterpart, newest conversation first
	rows, err := store.LatestMessages(ctx, userID)
	if err != nil {
		return nil, wrap("latest messages", err)
	}
	latest := ingest(rows, log)
	// a backend bug could hand us rows of other users; never show them
	latest = slices.DeleteFunc(latest, func(m Message) bool {
		if m.Involves(userID) {
			return false
		}
		log.Warn("dropping latest message for another user", "id", m.ID, "user", userID)
		return true
	})

	ids := Counterparts(latest, userID)
	if len(ids) == 0 {
		return []Conversation{}, nil
	}

	// Step 2: every counterpart profile in a single batch
	profiles, err := store.ProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, wrap("profiles", err)
	}
	return BuildConversations(userID, latest, profiles, now, loc), nil
}

// Aggregator keeps the conversation list of one user current. Start subscribes to new
// messages involving the user; every event triggers a full pass.
type Aggregator struct {
	userID  string
	store   RemoteStore
	channel realtime.Channel
	opts    Options

	mu         sync.Mutex
	life       lifecycle
	convs      []Conversation
	subID      int64
	subscribed bool

	// subMu serialises Subscribe so concurrent Starts register one handler
	subMu sync.Mutex
}

// NewAggregator returns an aggregator for userID. Call Start to subscribe and load.
func NewAggregator(userID string, store RemoteStore, channel realtime.Channel, opts Options) *Aggregator {
	opts = opts.withDefaults()
	return &Aggregator{
		userID:  userID,
		store:   store,
		channel: channel,
		opts:    opts,
		life:    newLifecycle(opts.CallTimeout),
		convs:   []Conversation{},
	}
}

// Start subscribes to inserts addressed to or sent by the user and runs the first
// pass. Without a user it does nothing. A failed first pass is reported and returned;
// the subscription stays in place.
func (a *Aggregator) Start(ctx context.Context) ([]Conversation, error) {
	if a.userID == "" {
		return a.Conversations(), nil
	}

	if err := a.subscribe(ctx); err != nil {
		return nil, err
	}
	return a.Refresh(ctx)
}

// subscribe registers the event handler once. A handle obtained while Close ran is
// released again.
func (a *Aggregator) subscribe(ctx context.Context) error {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	a.mu.Lock()
	if a.life.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.subscribed || a.channel == nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	f := realtime.Filter{
		Table: MessagesTable,
		Types: []realtime.EventType{realtime.Insert},
		Match: []realtime.Clause{
			{"receiver_id": a.userID},
			{"sender_id": a.userID},
		},
	}
	id, err := a.channel.Subscribe(ctx, f, a.onEvent)
	if err != nil {
		return wrap("subscribe conversations", err)
	}

	a.mu.Lock()
	closed := a.life.closed
	if !closed {
		a.subID, a.subscribed = id, true
	}
	a.mu.Unlock()

	if closed {
		// Close already ran and did not see this handle
		_ = a.channel.Unsubscribe(ctx, id)
		return ErrClosed
	}
	return nil
}

// Refresh runs one aggregation pass and applies it unless a newer pass already
// landed. On failure the previous list stays in place and the error is reported to the
// notifier and returned.
func (a *Aggregator) Refresh(ctx context.Context) ([]Conversation, error) {
	a.mu.Lock()
	if a.life.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	// take a generation number before the call so later passes can supersede this one
	gen := a.life.issue()
	a.mu.Unlock()

	// bound to both ctx and Close
	cctx, cancel := a.life.bind(ctx)
	defer cancel()

	convs, err := ListConversations(cctx, a.store, a.userID, a.opts.Now(), a.opts.Location, a.opts.Logger)
	if err != nil {
		// errors caused by Close cancelling the call are not failures
		if a.isClosed() {
			return nil, ErrClosed
		}
		metrics.ConversationRefreshes.WithLabelValues(metrics.ResultError).Inc()
		a.opts.Notifier.Notify(ctx, Notice{Op: "refresh conversations", UserID: a.userID, Err: err})
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.life.closed {
		return nil, ErrClosed
	}
	// a newer pass already landed: keep it and hand it back
	if !a.life.accept(gen) {
		metrics.ConversationRefreshes.WithLabelValues(metrics.ResultStale).Inc()
		return slices.Clone(a.convs), nil
	}
	a.convs = convs
	metrics.ConversationRefreshes.WithLabelValues(metrics.ResultOK).Inc()
	if a.opts.OnConversations != nil {
		a.opts.OnConversations(slices.Clone(convs))
	}
	return slices.Clone(convs), nil
}

// Conversations returns the last applied list.
func (a *Aggregator) Conversations() []Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.convs)
}

// Close releases the subscription and cancels in-flight passes. It is idempotent.
func (a *Aggregator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.life.closed {
		a.mu.Unlock()
		return nil
	}
	a.life.closed = true
	id, subscribed := a.subID, a.subscribed
	a.subscribed = false
	a.mu.Unlock()

	a.life.cancel()
	if subscribed {
		if err := a.channel.Unsubscribe(ctx, id); err != nil {
			return wrap("unsubscribe conversations", err)
		}
	}
	return nil
}

func (a *Aggregator) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.life.closed
}

func (a *Aggregator) onEvent(e realtime.Event) {
	err := a.opts.Reconciler.Reconcile(a.life.ctx, e, func(ctx context.Context) error {
		_, err := a.Refresh(ctx)
		return err
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		a.opts.Logger.Debug("conversation refresh after event failed", "user", a.userID, "err", err)
	}
}
