package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/PaulBabatuyi/nearchat/internal/admin"
	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/backend"
	"github.com/PaulBabatuyi/nearchat/internal/config"
	"github.com/PaulBabatuyi/nearchat/internal/logging"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/middleware"
	"github.com/PaulBabatuyi/nearchat/internal/rpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

// run serves gRPC and the admin endpoints until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	be, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		_ = be.Close(context.Background())
	}()

	// Ensure indexes / tables exist
	if err := be.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	jwtMgr, err := newJWTManager(cfg)
	if err != nil {
		return err
	}

	// small burst to allow a couple of quick retries
	limiterStore := middleware.NewLimiterStore(cfg.RateLimit.RPM, cfg.RateLimit.Burst, 0)
	defer limiterStore.Stop()

	srv := newServer(serverDeps{
		Accounts: be.Accounts(),
		Store:    be.Store(),
		Dir:      be.Directory(),
		Channel:  be.Channel(),
		Auth:     jwtMgr,
		Options: messaging.Options{
			Location:       cfg.Location(),
			CallTimeout:    cfg.Messaging.CallTimeout,
			OptimisticEcho: cfg.Messaging.OptimisticEcho,
			Logger:         log,
		},
		Log: log,
	})

	var serverOpts []grpc.ServerOption
	// If TLS certs are configured, create server credentials and require TLS
	if cfg.TLS.Cert != "" && cfg.TLS.Key != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	grpcServer := newGRPCServer(jwtMgr, limiterStore, srv, serverOpts...)

	lis, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC server listening", "addr", lis.Addr().String(), "tls", cfg.TLS.Cert != "")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down gRPC server")
		grpcServer.GracefulStop()
		return nil
	})
	g.Go(func() error {
		return admin.Serve(gCtx, ":"+cfg.AdminPort, be, log)
	})
	g.Go(func() error {
		return be.Run(gCtx)
	})
	return g.Wait()
}

// newJWTManager builds the token manager. JWT keys enable rotation; otherwise the
// single secret is used.
func newJWTManager(cfg *config.Config) (*auth.JWTManager, error) {
	if cfg.JWT.Keys == "" {
		return auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL), nil
	}
	keys, err := auth.ParseKeys(cfg.JWT.Keys)
	if err != nil {
		return nil, err
	}
	if _, ok := keys[cfg.JWT.ActiveKid]; !ok {
		return nil, fmt.Errorf("jwt active kid %q has no key", cfg.JWT.ActiveKid)
	}
	return auth.NewJWTManagerFromKeys(keys, cfg.JWT.ActiveKid, cfg.JWT.TTL), nil
}

// newGRPCServer chains authentication before rate limiting, so SendMessage can be
// limited per user while Register and Login are limited per email.
func newGRPCServer(jwtMgr *auth.JWTManager, limiter *middleware.LimiterStore, srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	limited := map[string]middleware.KeyFunc{
		rpc.RegisterMethod:    middleware.EmailKey,
		rpc.LoginMethod:       middleware.EmailKey,
		rpc.SendMessageMethod: middleware.ContextKey("user", userIDFromContext),
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(limiter, limited),
		),
		grpc.ChainStreamInterceptor(authStreamInterceptor(jwtMgr)),
	)
	s := grpc.NewServer(opts...)
	registerService(s, srv)
	return s
}
