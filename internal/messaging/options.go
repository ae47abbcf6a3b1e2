package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/realtime"
)

// Options configures an Aggregator or a ThreadSession. The zero value is usable.
type Options struct {
	// Now returns the current time for time labels. Defaults to time.Now.
	Now func() time.Time
	// Location renders clock and date labels. Defaults to time.Local.
	Location *time.Location
	// CallTimeout bounds every store call. Zero means no timeout.
	CallTimeout time.Duration
	// Notifier receives failures. Defaults to a LogNotifier on Logger.
	Notifier Notifier
	Logger   *slog.Logger
	// Reconciler handles realtime events. Defaults to Refetch.
	Reconciler Reconciler
	// OptimisticEcho appends a sent message to the thread as soon as the insert
	// returns instead of waiting for the realtime round trip.
	OptimisticEcho bool

	// OnConversations is called with every conversation list an Aggregator applies.
	// It runs with the aggregator's lock held and must not call back into it.
	OnConversations func([]Conversation)
	// OnMessages is called with every message list a ThreadSession applies, under the
	// same restriction.
	OnMessages func([]Message)
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Notifier == nil {
		o.Notifier = LogNotifier{Logger: o.Logger}
	}
	if o.Reconciler == nil {
		o.Reconciler = Refetch{}
	}
	return o
}

// Notice describes a failed operation.
type Notice struct {
	Op            string
	UserID        string
	CounterpartID string
	Err           error
	// UserVisible marks failures of write paths that the user should be told about.
	UserVisible bool
}

// Notifier is told about every failure the core absorbs.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// LogNotifier logs notices: user-visible ones at error level, the rest at warn.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	level := slog.LevelWarn
	if n.UserVisible {
		level = slog.LevelError
	}
	log.Log(ctx, level, "messaging operation failed",
		"op", n.Op,
		"user", n.UserID,
		"counterpart", n.CounterpartID,
		"err", n.Err,
	)
}

// Reconciler brings a session up to date after a realtime event. refresh performs a
// full reload.
type Reconciler interface {
	Reconcile(ctx context.Context, e realtime.Event, refresh func(context.Context) error) error
}

// Refetch reloads everything on every event. Event payloads are never trusted.
type Refetch struct{}

func (Refetch) Reconcile(ctx context.Context, _ realtime.Event, refresh func(context.Context) error) error {
	return refresh(ctx)
}

// lifecycle is the cancellation and ordering state shared by sessions. Fields other
// than ctx and cancel are guarded by the owning session's mutex.
type lifecycle struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	issued  uint64
	applied uint64
	closed  bool
}

func newLifecycle(timeout time.Duration) lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	return lifecycle{ctx: ctx, cancel: cancel, timeout: timeout}
}

// issue returns the generation for a new call.
func (l *lifecycle) issue() uint64 {
	l.issued++
	return l.issued
}

// accept reports whether a result of generation gen may replace the current state and
// records it as applied when it may.
func (l *lifecycle) accept(gen uint64) bool {
	if l.closed || gen < l.applied {
		return false
	}
	l.applied = gen
	return true
}

// bind derives a call context that ends when ctx ends, when the session closes, or
// after the call timeout.
func (l *lifecycle) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.ctx, cancel)
	if l.timeout <= 0 {
		return ctx, func() { stop(); cancel() }
	}
	tctx, tcancel := context.WithTimeout(ctx, l.timeout)
	return tctx, func() { tcancel(); stop(); cancel() }
}
