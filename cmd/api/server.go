package main

import (
	"log/slog"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
	"github.com/PaulBabatuyi/nearchat/internal/rpc"
	"google.golang.org/grpc"
)

// Server implements the messaging service and contains references to stores and auth logic.
type Server struct {
	rpc.UnimplementedMessagingServiceServer

	accounts auth.AccountStore
	store    messaging.RemoteStore
	dir      directory.Store
	channel  realtime.Channel
	auth     *auth.JWTManager
	// opts is the base for every session the handlers create
	opts messaging.Options
	log  *slog.Logger
}

// serverDeps groups what newServer needs.
type serverDeps struct {
	Accounts auth.AccountStore
	Store    messaging.RemoteStore
	Dir      directory.Store
	Channel  realtime.Channel
	Auth     *auth.JWTManager
	Options  messaging.Options
	Log      *slog.Logger
}

// newServer returns a ready-to-use Server wired with stores and auth manager.
func newServer(d serverDeps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Options.Logger == nil {
		d.Options.Logger = d.Log
	}
	return &Server{
		accounts: d.Accounts,
		store:    d.Store,
		dir:      d.Dir,
		channel:  d.Channel,
		auth:     d.Auth,
		opts:     d.Options,
		log:      d.Log,
	}
}

func (s *Server) now() time.Time {
	if s.opts.Now != nil {
		return s.opts.Now()
	}
	return time.Now()
}

// registerService registers the MessagingService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	rpc.RegisterMessagingServiceServer(s, srv)
}
