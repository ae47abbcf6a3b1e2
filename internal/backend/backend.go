// Package backend assembles the configured persistence and realtime plumbing: a
// MongoDB or GORM store, the event hub, the optional change-stream feeds and the
// profile cache.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/cache"
	"github.com/PaulBabatuyi/nearchat/internal/config"
	"github.com/PaulBabatuyi/nearchat/internal/data"
	"github.com/PaulBabatuyi/nearchat/internal/db"
	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
	"github.com/PaulBabatuyi/nearchat/internal/sqlstore"
	"golang.org/x/sync/errgroup"
)

// feedRestartDelay is the pause before a failed change stream is reopened.
const feedRestartDelay = time.Second

// Backend owns the stores and the hub for one process.
type Backend struct {
	log      *slog.Logger
	hub      *realtime.Hub
	store    messaging.RemoteStore
	accounts auth.AccountStore
	dir      directory.Store
	feeds    []*realtime.ChangeFeed

	ping    func(context.Context) error
	migrate func(context.Context) error
	close   func(context.Context) error
	cancel  context.CancelFunc
}

// mongoStore joins the message and profile stores into one RemoteStore.
type mongoStore struct {
	*data.MessagesStore
	*data.ProfilesStore
}

// Open connects to the configured store. With the changestream source, writes reach
// the hub through MongoDB change streams once Run is started; otherwise the store
// publishes its own writes.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	b := &Backend{log: log, hub: realtime.NewHub(cfg.Realtime.QueueSize)}

	var pub realtime.Publisher = b.hub
	if cfg.Realtime.Source == config.SourceChangeStream {
		pub = nil
	}

	var remote messaging.RemoteStore
	switch cfg.Store.Driver {
	case config.DriverMongo:
		client, err := db.New(ctx, cfg.Store.DSN, cfg.Store.Database)
		if err != nil {
			return nil, fmt.Errorf("backend: %w", err)
		}
		msgs := data.NewMessagesStore(client.MessagesCollection(), pub)
		profiles := data.NewProfilesStore(client.ProfilesCollection(), pub)
		remote = mongoStore{MessagesStore: msgs, ProfilesStore: profiles}
		b.accounts = data.NewUsersStore(client.UsersCollection())
		b.dir = profiles
		b.ping = client.Ping
		b.migrate = client.CreateIndexes
		b.close = client.Close
		if pub == nil {
			b.feeds = []*realtime.ChangeFeed{
				realtime.NewChangeFeed(client.MessagesCollection(), messaging.MessagesTable, b.hub, log),
				realtime.NewChangeFeed(client.ProfilesCollection(), directory.ProfilesTable, b.hub, log),
			}
		}

	case config.DriverSQLite, config.DriverMySQL:
		gdb, err := sqlstore.Open(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("backend: %w", err)
		}
		s := sqlstore.New(gdb, pub)
		remote = s
		b.accounts = s
		b.dir = s
		b.ping = s.Ping
		b.migrate = s.Migrate
		b.close = func(context.Context) error { return s.Close() }

	default:
		return nil, fmt.Errorf("backend: unsupported driver %q", cfg.Store.Driver)
	}

	cacheCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.store = cache.Wrap(cacheCtx, remote, cfg.Messaging.ProfileCacheTTL)
	if cached, ok := b.store.(*cache.Profiles); ok {
		// profile writes, local or from the change stream, evict the cached copy; if the
		// queue overflowed we no longer know which ids changed, so everything goes
		_, err := b.hub.SubscribeOverflow(ctx, realtime.Filter{Table: directory.ProfilesTable}, func(e realtime.Event) {
			cached.Invalidate(e.Columns["id"])
		}, cached.Purge)
		if err != nil {
			_ = b.Close(ctx)
			return nil, fmt.Errorf("backend: %w", err)
		}
	}

	log.Info("backend opened", "driver", cfg.Store.Driver, "realtime", cfg.Realtime.Source,
		"profile_cache_ttl", cfg.Messaging.ProfileCacheTTL)
	return b, nil
}

// Store returns the RemoteStore used by conversation and thread sessions.
func (b *Backend) Store() messaging.RemoteStore { return b.store }

// Accounts returns the account store used for registration and login.
func (b *Backend) Accounts() auth.AccountStore { return b.accounts }

// Directory returns the profile directory.
func (b *Backend) Directory() directory.Store { return b.dir }

// Channel returns the realtime channel sessions subscribe to.
func (b *Backend) Channel() realtime.Channel { return b.hub }

// Hub returns the event hub.
func (b *Backend) Hub() *realtime.Hub { return b.hub }

// Ping checks the store connection.
func (b *Backend) Ping(ctx context.Context) error { return b.ping(ctx) }

// Migrate creates indexes (MongoDB) or tables (SQL).
func (b *Backend) Migrate(ctx context.Context) error { return b.migrate(ctx) }

// Run keeps the change-stream feeds running until ctx is cancelled, reopening a feed
// that fails. Without feeds it just waits for ctx.
func (b *Backend) Run(ctx context.Context) error {
	if len(b.feeds) == 0 {
		<-ctx.Done()
		return nil
	}
	g, gCtx := errgroup.WithContext(ctx)
	for _, f := range b.feeds {
		g.Go(func() error {
			for {
				err := f.Run(gCtx)
				if gCtx.Err() != nil {
					return nil
				}
				b.log.Warn("change feed stopped, restarting", "err", err)
				select {
				case <-gCtx.Done():
					return nil
				case <-time.After(feedRestartDelay):
				}
			}
		})
	}
	return g.Wait()
}

// Close shuts down the hub and the store connection.
func (b *Backend) Close(ctx context.Context) error {
	b.cancel()
	b.hub.Close()
	if err := b.close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("backend: close: %w", err)
	}
	return nil
}
