package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/metrics"
	"github.com/PaulBabatuyi/nearchat/internal/normalize"
	"github.com/PaulBabatuyi/nearchat/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const minPasswordLen = 8

// Register handles user registration: hashes password, stores the account and its
// profile, returns a JWT token
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	creds, err := rpc.CredentialsFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	email := normalize.Email(creds.Email)
	if !strings.Contains(email, "@") {
		return nil, status.Errorf(codes.InvalidArgument, "invalid email")
	}
	if len(creds.Password) < minPasswordLen {
		return nil, status.Errorf(codes.InvalidArgument, "password must be at least %d characters", minPasswordLen)
	}

	// Hash password using auth utility
	hashed, err := auth.HashPassword(creds.Password)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to hash password: %v", err)
	}

	acct, err := s.accounts.CreateAccount(ctx, email, hashed)
	if errors.Is(err, auth.ErrUserExists) {
		return nil, status.Errorf(codes.AlreadyExists, "user already exists")
	}
	if err != nil {
		s.log.Error("create account failed", "err", err)
		return nil, status.Errorf(codes.Internal, "failed to create user")
	}

	// New accounts get a profile named after the request (or the email's local part),
	// a generated avatar and start online.
	name := normalize.Name(creds.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	avatar := messaging.PlaceholderAvatar(name)
	seen := s.now().UTC()
	if err := s.dir.CreateProfile(ctx, messaging.Profile{
		ID:         acct.ID,
		Name:       &name,
		Avatar:     &avatar,
		Online:     true,
		LastOnline: &seen,
	}); err != nil {
		s.log.Error("create profile failed", "user", acct.ID, "err", err)
		return nil, status.Errorf(codes.Internal, "failed to create profile")
	}

	return s.session(acct)
}

// Login authenticates a user and returns a JWT token
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	creds, err := rpc.CredentialsFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	// Lookup account by email
	acct, err := s.accounts.AccountByEmail(ctx, creds.Email)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, status.Errorf(codes.NotFound, "user not found")
	}
	if err != nil {
		s.log.Error("find account failed", "err", err)
		return nil, status.Errorf(codes.Internal, "failed to read user")
	}

	// Verify password
	if err := auth.CheckPassword(acct.PasswordHash, creds.Password); err != nil {
		return nil, status.Errorf(codes.PermissionDenied, "invalid credentials")
	}

	return s.session(acct)
}

func (s *Server) session(acct auth.Account) (*structpb.Struct, error) {
	token, expiresAt, err := s.auth.GenerateToken(acct.ID, acct.Email)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to generate token: %v", err)
	}
	return rpc.Session{Token: token, UserID: acct.ID, ExpiresAt: expiresAt}.Struct(), nil
}

// ListConversations returns the caller's conversation list from one aggregation pass.
func (s *Server) ListConversations(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	agg := messaging.NewAggregator(claims.UserID, s.store, nil, s.opts)
	defer agg.Close(ctx)

	convs, err := agg.Refresh(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to read conversations: %v", err)
	}
	return rpc.ConversationsStruct(convs), nil
}

// GetThread returns the thread with the requested counterpart. Unread messages
// addressed to the caller are marked read before the call returns.
func (s *Server) GetThread(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	if req.GetValue() == "" {
		return nil, status.Errorf(codes.InvalidArgument, "counterpart is required")
	}
	s.markOnline(ctx, claims.UserID)

	sess := messaging.NewThreadSession(claims.UserID, req.GetValue(), s.store, nil, s.opts)
	msgs, err := sess.Load(ctx)
	_ = sess.Close(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to get thread: %v", err)
	}
	return rpc.MessagesStruct(msgs), nil
}

// SendMessage stores a sanitised message from the caller to the requested user.
func (s *Server) SendMessage(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	out, err := rpc.OutgoingFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if out.To == claims.UserID {
		return nil, status.Errorf(codes.InvalidArgument, "cannot message yourself")
	}
	content := strings.TrimSpace(normalize.Text(out.Content))
	if content == "" {
		metrics.MessagesSent.WithLabelValues(metrics.ResultSkip).Inc()
		return nil, status.Errorf(codes.InvalidArgument, "content is empty")
	}

	// verify recipient exists
	profiles, err := s.store.ProfilesByIDs(ctx, []string{out.To})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to verify recipient: %v", err)
	}
	if len(profiles) == 0 {
		return nil, status.Errorf(codes.NotFound, "recipient not found")
	}

	if _, err := s.store.InsertMessage(ctx, messaging.NewMessage{
		SenderID:   claims.UserID,
		ReceiverID: out.To,
		Content:    content,
	}); err != nil {
		metrics.MessagesSent.WithLabelValues(metrics.ResultError).Inc()
		s.log.Error("send message failed", "user", claims.UserID, "counterpart", out.To, "err", err)
		return nil, status.Errorf(codes.Internal, "failed to save message")
	}
	metrics.MessagesSent.WithLabelValues(metrics.ResultOK).Inc()
	return &emptypb.Empty{}, nil
}

// WatchConversations streams the caller's conversation list after every applied
// refresh until the client goes away.
func (s *Server) WatchConversations(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	snaps := newLatest[[]messaging.Conversation]()
	opts := s.opts
	opts.OnConversations = snaps.put

	agg := messaging.NewAggregator(claims.UserID, s.store, s.channel, opts)
	defer agg.Close(context.Background())

	if _, err := agg.Start(ctx); err != nil {
		return status.Errorf(codes.Unavailable, "failed to load conversations: %v", err)
	}
	return pump(ctx, snaps, func(cs []messaging.Conversation) error {
		return stream.Send(rpc.ConversationsStruct(cs))
	})
}

// WatchThread streams the thread with the requested counterpart after every applied
// load until the client goes away.
func (s *Server) WatchThread(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	if req.GetValue() == "" {
		return status.Errorf(codes.InvalidArgument, "counterpart is required")
	}
	s.markOnline(ctx, claims.UserID)

	snaps := newLatest[[]messaging.Message]()
	opts := s.opts
	opts.OnMessages = snaps.put

	sess := messaging.NewThreadSession(claims.UserID, req.GetValue(), s.store, s.channel, opts)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sess.Close(closeCtx)
	}()

	if _, err := sess.Open(ctx); err != nil {
		return status.Errorf(codes.Unavailable, "failed to load thread: %v", err)
	}
	return pump(ctx, snaps, func(ms []messaging.Message) error {
		return stream.Send(rpc.MessagesStruct(ms))
	})
}

// ListNearby lists other profiles, optionally with distances from a given origin.
func (s *Server) ListNearby(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	q, err := rpc.QueryFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if q.Origin != nil && !q.Origin.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "origin out of range")
	}

	nearby, err := directory.ListNearby(ctx, s.dir, claims.UserID, q)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list profiles: %v", err)
	}
	return rpc.NearbyStruct(nearby), nil
}

// SetPresence marks the caller online or offline.
func (s *Server) SetPresence(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	err := directory.SetPresence(ctx, s.dir, claims.UserID, req.GetValue(), s.now())
	if errors.Is(err, directory.ErrProfileNotFound) {
		return nil, status.Errorf(codes.NotFound, "profile not found")
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to set presence: %v", err)
	}
	return &emptypb.Empty{}, nil
}

// markOnline records the user as online; failures are only logged.
func (s *Server) markOnline(ctx context.Context, userID string) {
	err := directory.SetPresence(ctx, s.dir, userID, true, s.now())
	if err != nil && !errors.Is(err, directory.ErrProfileNotFound) {
		s.log.Warn("mark online failed", "user", userID, "err", err)
	}
}

// latest holds the newest unsent snapshot for a stream. put never blocks and
// replaces a snapshot the writer has not picked up yet.
type latest[T any] struct {
	ch chan T
}

func newLatest[T any]() *latest[T] {
	return &latest[T]{ch: make(chan T, 1)}
}

func (l *latest[T]) put(v T) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

// pump sends snapshots until ctx is done or a send fails.
func pump[T any](ctx context.Context, snaps *latest[T], send func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-snaps.ch:
			if err := send(v); err != nil {
				return status.Errorf(codes.Unavailable, "failed to send snapshot: %v", err)
			}
		}
	}
}
