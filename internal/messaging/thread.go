package messaging

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/PaulBabatuyi/nearchat/internal/metrics"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
)

// ThreadState is the lifecycle state of a ThreadSession.
type ThreadState int

const (
	Idle ThreadState = iota
	Loading
	Ready
	Closed
)

func (s ThreadState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// ThreadSession holds the message thread between a user and one counterpart.
//
// Loads may overlap; each load takes a generation number and a result is applied only
// if no newer load has been applied before it. After a load is applied, unread
// messages addressed to the user are marked read in the background.
type ThreadSession struct {
	userID        string
	counterpartID string
	store         MessageStore
	channel       realtime.Channel
	opts          Options

	mu         sync.Mutex
	life       lifecycle
	loaded     bool
	inflight   int
	messages   []Message
	subID      int64
	subscribed bool
	receipts   sync.WaitGroup

	// subMu serialises Subscribe so concurrent Opens register one handler
	subMu sync.Mutex
}

// NewThreadSession returns an idle session. Open subscribes and loads.
func NewThreadSession(userID, counterpartID string, store MessageStore, channel realtime.Channel, opts Options) *ThreadSession {
	opts = opts.withDefaults()
	return &ThreadSession{
		userID:        userID,
		counterpartID: counterpartID,
		store:         store,
		channel:       channel,
		opts:          opts,
		life:          newLifecycle(opts.CallTimeout),
		messages:      []Message{},
	}
}

// UserID returns the id of the user the thread is opened for.
func (s *ThreadSession) UserID() string { return s.userID }

// CounterpartID returns the other participant.
func (s *ThreadSession) CounterpartID() string { return s.counterpartID }

// Open subscribes to every change on messages between the pair, in either direction,
// and performs the first load. With a missing id, or the user as their own counterpart,
// it returns an empty thread and makes no calls.
func (s *ThreadSession) Open(ctx context.Context) ([]Message, error) {
	if !s.paired() {
		return []Message{}, nil
	}

	if err := s.subscribe(ctx); err != nil {
		return nil, err
	}
	return s.Load(ctx)
}

// subscribe registers the event handler once. A handle obtained while Close ran is
// released again.
func (s *ThreadSession) subscribe(ctx context.Context) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	if s.life.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.subscribed || s.channel == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// both directions of the pair, inserts and read updates alike
	f := realtime.Filter{
		Table: MessagesTable,
		Types: []realtime.EventType{realtime.Any},
		Match: []realtime.Clause{
			{"sender_id": s.userID, "receiver_id": s.counterpartID},
			{"sender_id": s.counterpartID, "receiver_id": s.userID},
		},
	}
	id, err := s.channel.Subscribe(ctx, f, s.onEvent)
	if err != nil {
		return wrap("subscribe thread", err)
	}

	s.mu.Lock()
	closed := s.life.closed
	if !closed {
		s.subID, s.subscribed = id, true
	}
	s.mu.Unlock()

	if closed {
		_ = s.channel.Unsubscribe(ctx, id)
		return ErrClosed
	}
	return nil
}

// Load fetches the whole thread ascending by created_at and applies it unless a newer
// load already landed, in which case the newer list is returned. Failures keep the
// previous list, are reported to the notifier and returned.
func (s *ThreadSession) Load(ctx context.Context) ([]Message, error) {
	if !s.paired() {
		return []Message{}, nil
	}

	s.mu.Lock()
	if s.life.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	gen := s.life.issue()
	s.inflight++
	s.mu.Unlock()

	cctx, cancel := s.life.bind(ctx)
	defer cancel()

	// Fetch the whole thread; the store does not promise an order
	rows, err := s.store.Thread(cctx, s.userID, s.counterpartID)

	s.mu.Lock()
	s.inflight--
	// results arriving after Close are thrown away
	if s.life.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if err != nil {
		// keep the previous messages; the session is usable again
		s.loaded = true
		s.mu.Unlock()
		metrics.ThreadLoads.WithLabelValues(metrics.ResultError).Inc()
		s.opts.Notifier.Notify(ctx, s.notice("load thread", err, false))
		return nil, wrap("load thread", err)
	}
	defer s.mu.Unlock()

	msgs := ingest(rows, s.opts.Logger)
	sortThread(msgs)

	// an older load must not overwrite a newer one
	if !s.life.accept(gen) {
		metrics.ThreadLoads.WithLabelValues(metrics.ResultStale).Inc()
		return slices.Clone(s.messages), nil
	}
	s.loaded = true
	s.messages = msgs
	metrics.ThreadLoads.WithLabelValues(metrics.ResultOK).Inc()
	if s.opts.OnMessages != nil {
		s.opts.OnMessages(slices.Clone(msgs))
	}

	// Read receipts: one batched update for everything the user just saw
	if ids := s.unreadIDs(msgs); len(ids) > 0 {
		s.receipts.Add(1)
		go s.markDelivered(ids)
	}
	return slices.Clone(msgs), nil
}

// Send inserts content from the user to the counterpart. Blank content, a missing id or
// a self-addressed pair is a silent no-op. Sends are never retried; a failure is reported as user-visible
// and returned.
func (s *ThreadSession) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" || !s.paired() {
		metrics.MessagesSent.WithLabelValues(metrics.ResultSkip).Inc()
		return nil
	}

	switch s.State() {
	case Closed:
		return ErrClosed
	case Idle:
		return ErrNotOpen
	}

	cctx, cancel := s.life.bind(ctx)
	defer cancel()

	msg, err := s.store.InsertMessage(cctx, NewMessage{
		SenderID:   s.userID,
		ReceiverID: s.counterpartID,
		Content:    content,
	})
	if err != nil {
		metrics.MessagesSent.WithLabelValues(metrics.ResultError).Inc()
		s.opts.Notifier.Notify(ctx, s.notice("send message", err, true))
		return wrap("send message", err)
	}
	metrics.MessagesSent.WithLabelValues(metrics.ResultOK).Inc()

	if s.opts.OptimisticEcho {
		s.echo(msg)
	}
	return nil
}

// Messages returns the last applied thread.
func (s *ThreadSession) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// State returns the current lifecycle state.
func (s *ThreadSession) State() ThreadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.life.closed:
		return Closed
	case s.inflight > 0:
		return Loading
	case s.loaded:
		return Ready
	}
	return Idle
}

// Close releases the subscription, waits for pending read receipts until ctx is done
// and then cancels every outstanding call. Results that arrive afterwards are
// discarded. Close is idempotent.
func (s *ThreadSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.life.closed {
		s.mu.Unlock()
		return nil
	}
	s.life.closed = true
	id, subscribed := s.subID, s.subscribed
	s.subscribed = false
	s.mu.Unlock()

	var err error
	if subscribed {
		if uerr := s.channel.Unsubscribe(ctx, id); uerr != nil {
			err = wrap("unsubscribe thread", uerr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.receipts.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.life.cancel()
	return err
}

// paired reports whether the session names two distinct users.
func (s *ThreadSession) paired() bool {
	return s.userID != "" && s.counterpartID != "" && s.userID != s.counterpartID
}

func (s *ThreadSession) unreadIDs(msgs []Message) []string {
	var ids []string
	for _, m := range msgs {
		if Unread(m, s.userID) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// markDelivered flags ids as read in one batched update. A failure leaves the loaded
// thread untouched.
func (s *ThreadSession) markDelivered(ids []string) {
	defer s.receipts.Done()

	ctx, cancel := s.life.bind(context.Background())
	defer cancel()

	n, err := s.store.MarkRead(ctx, ids)
	if err != nil {
		if s.life.ctx.Err() != nil {
			return
		}
		s.opts.Notifier.Notify(ctx, s.notice("mark read", err, true))
		return
	}
	metrics.ReadReceipts.Add(float64(n))
}

// echo splices an inserted message into the thread unless a load already delivered it.
func (s *ThreadSession) echo(m Message) {
	if err := m.Validate(); err != nil {
		s.opts.Logger.Warn("not echoing invalid message", "id", m.ID, "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.life.closed {
		return
	}
	if slices.ContainsFunc(s.messages, func(x Message) bool { return x.ID == m.ID }) {
		return
	}
	msgs := append(slices.Clone(s.messages), m)
	sortThread(msgs)
	s.messages = msgs
	if s.opts.OnMessages != nil {
		s.opts.OnMessages(slices.Clone(msgs))
	}
}

func (s *ThreadSession) notice(op string, err error, visible bool) Notice {
	return Notice{Op: op, UserID: s.userID, CounterpartID: s.counterpartID, Err: err, UserVisible: visible}
}

func (s *ThreadSession) onEvent(e realtime.Event) {
	err := s.opts.Reconciler.Reconcile(s.life.ctx, e, func(ctx context.Context) error {
		_, err := s.Load(ctx)
		return err
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		s.opts.Logger.Debug("thread reload after event failed", "user", s.userID, "counterpart", s.counterpartID, "err", err)
	}
}
