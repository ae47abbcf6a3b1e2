package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/normalize"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// LimiterStore maintains per-key rate limiters and performs periodic cleanup.
type LimiterStore struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	clients         map[string]*clientEntry
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a new store for per-key rate limiters.
// limitPerMinute controls allowed events per minute; burst is the burst capacity.
func NewLimiterStore(limitPerMinute int, burst int, cleanupInterval time.Duration) *LimiterStore {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &LimiterStore{
		limit:           rate.Every(time.Minute / time.Duration(limitPerMinute)),
		burst:           burst,
		clients:         map[string]*clientEntry{},
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *LimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			s.mu.Lock()
			for k, v := range s.clients {
				if v.lastSeen.Before(cutoff) {
					delete(s.clients, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops internal goroutines. It is safe to call more than once.
func (s *LimiterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// getLimiter returns or creates a limiter for key
func (s *LimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.clients[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// Allow checks whether an event for the given key is permitted.
func (s *LimiterStore) Allow(key string) bool {
	l := s.getLimiter(key)
	return l.Allow()
}

// KeyFunc derives the limiter key for a request. An empty key falls back to the
// remote peer address.
type KeyFunc func(ctx context.Context, req interface{}) string

// EmailKey keys requests by the email they carry, either through a GetEmail method
// or an "email" field of a structpb request, so attempts against one account are
// limited regardless of the client address.
func EmailKey(_ context.Context, req interface{}) string {
	var e string
	switch r := req.(type) {
	case interface{ GetEmail() string }:
		e = r.GetEmail()
	case *structpb.Struct:
		e = r.GetFields()["email"].GetStringValue()
	}
	if e = normalize.Email(e); e == "" {
		return ""
	}
	return "email:" + e
}

// ContextKey keys requests by a value taken from the context, e.g. the authenticated
// user id.
func ContextKey(prefix string, fn func(context.Context) string) KeyFunc {
	return func(ctx context.Context, _ interface{}) string {
		if v := fn(ctx); v != "" {
			return prefix + ":" + v
		}
		return ""
	}
}

// RateLimitUnaryInterceptor returns a grpc.UnaryServerInterceptor that applies
// rate limiting to the supplied methods, keyed by each method's KeyFunc. A nil
// KeyFunc keys by remote peer address only.
func RateLimitUnaryInterceptor(store *LimiterStore, limitedMethods map[string]KeyFunc) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		keyFn, ok := limitedMethods[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}

		key := ""
		if keyFn != nil {
			key = keyFn(ctx, req)
		}
		if key == "" {
			key = "peer:unknown"
			if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
				key = fmt.Sprintf("peer:%s", p.Addr.String())
			}
		}

		if !store.Allow(key) {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(ctx, req)
	}
}
