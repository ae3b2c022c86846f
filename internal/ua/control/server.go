package control

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/sebas/softphone/internal/ua/events"
	"github.com/sebas/softphone/internal/ua/phone"
	"github.com/sebas/softphone/internal/ua/session"
)

// Config holds control server configuration
type Config struct {
	// DefaultAccount is used by Register when the request has no id_uri.
	DefaultAccount *engine.AccountConfig
	Logger         *slog.Logger
}

// Server implements ControlServer on top of a phone. Commands keyed by call
// id are resolved through the phone's call directory.
type Server struct {
	phone *phone.Phone
	bus   *events.Bus
	cfg   Config
	log   *slog.Logger
}

var _ ControlServer = (*Server)(nil)

// NewServer creates a control server. Events are read from bus, which must
// be attached to p by the caller.
func NewServer(p *phone.Phone, bus *events.Bus, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{phone: p, bus: bus, cfg: cfg, log: log}
}

// Register implements ControlServer.Register. It waits for the registrar's
// confirmation.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cfg, err := s.accountConfig(req)
	if err != nil {
		return nil, err
	}
	s.log.Info("[Control] Register", "account", cfg.IDURI, "registrar", cfg.Registrar)

	c, err := s.phone.MakeAccount(cfg)
	if err != nil {
		s.log.Error("[Control] Register failed", "account", cfg.IDURI, "error", err)
		return nil, toStatus(err)
	}
	if err := c.Wait(ctx); err != nil {
		s.log.Warn("[Control] Registration rejected", "account", cfg.IDURI, "error", err)
		return nil, toStatus(err)
	}
	return s.accountReply()
}

func (s *Server) accountConfig(req *structpb.Struct) (engine.AccountConfig, error) {
	id := stringField(req, "id_uri")
	if id == "" {
		if s.cfg.DefaultAccount == nil {
			return engine.AccountConfig{}, status.Error(codes.InvalidArgument, "id_uri is required")
		}
		return *s.cfg.DefaultAccount, nil
	}

	cfg := engine.AccountConfig{
		IDURI:     id,
		Registrar: stringField(req, "registrar"),
		Expires:   intField(req, "expires"),
	}
	if user := stringField(req, "username"); user != "" {
		cfg.Credentials = []engine.Credentials{{
			Realm:    stringField(req, "realm"),
			Username: user,
			Password: stringField(req, "password"),
		}}
	}
	return cfg, nil
}

func (s *Server) accountReply() (*structpb.Struct, error) {
	rs := s.phone.Account()
	if rs == nil {
		return nil, toStatus(session.ErrNoAccount)
	}
	return newStruct(map[string]any{
		"account": rs.ID(),
		"state":   rs.State().String(),
	})
}

// Unregister implements ControlServer.Unregister.
func (s *Server) Unregister(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.log.Info("[Control] Unregister")
	c, err := s.phone.RemoveAccount()
	if err != nil {
		return nil, toStatus(err)
	}
	if err := c.Wait(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.accountReply()
}

// Renew implements ControlServer.Renew.
func (s *Server) Renew(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.log.Info("[Control] Renew")
	if err := s.phone.RenewAccount(); err != nil {
		return nil, toStatus(err)
	}
	return s.accountReply()
}

// MakeCall implements ControlServer.MakeCall. It returns once the engine has
// assigned the call an id.
func (s *Server) MakeCall(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	dest := stringField(req, "destination")
	if dest == "" {
		return nil, status.Error(codes.InvalidArgument, "destination is required")
	}
	s.log.Info("[Control] MakeCall", "destination", dest)

	cs, err := s.phone.MakeCall(dest, session.MakeCallOptions{
		Param:         stringField(req, "param"),
		AudioDeviceID: intField(req, "audio_device_id"),
	})
	if err != nil {
		s.log.Error("[Control] MakeCall failed", "destination", dest, "error", err)
		return nil, toStatus(err)
	}

	id, err := awaitCallID(ctx, cs)
	if err != nil {
		return nil, err
	}
	return newStruct(map[string]any{
		"call_id": id,
		"state":   cs.State().String(),
	})
}

// awaitCallID waits for the first state notification of an outbound call,
// which carries its engine id.
func awaitCallID(ctx context.Context, cs *session.CallSession) (string, error) {
	if id := cs.ID(); id != "" {
		return id, nil
	}
	seen := make(chan struct{}, 1)
	unsub := cs.OnEvent(func(session.CallEvent) {
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	defer unsub()

	for {
		if id := cs.ID(); id != "" {
			return id, nil
		}
		select {
		case <-seen:
		case <-cs.Done():
			if id := cs.ID(); id != "" {
				return id, nil
			}
			return "", status.Error(codes.Unavailable, "call ended before it was assigned an id")
		case <-ctx.Done():
			return "", toStatus(ctx.Err())
		}
	}
}

func (s *Server) lookup(req *structpb.Struct) (*session.CallSession, error) {
	id := stringField(req, "call_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "call_id is required")
	}
	cs, ok := s.phone.Call(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "call %s not found", id)
	}
	return cs, nil
}

// Answer implements ControlServer.Answer
func (s *Server) Answer(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	cs, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	code := intField(req, "code")
	s.log.Info("[Control] Answer", "call_id", cs.ID(), "status", code)
	if err := cs.Answer(code, stringField(req, "reason")); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Hangup implements ControlServer.Hangup. It waits until the call is
// disconnected and its media released.
func (s *Server) Hangup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cs, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	id := cs.ID()
	code := intField(req, "code")
	s.log.Info("[Control] Hangup", "call_id", id, "status", code)

	c, err := cs.Hangup(code, stringField(req, "reason"))
	if err != nil {
		return nil, toStatus(err)
	}
	if err := c.Wait(ctx); err != nil {
		return nil, toStatus(err)
	}

	reply := map[string]any{"call_id": id}
	if outcome, ok := cs.Outcome(); ok {
		reply["outcome"] = outcome.Kind.String()
		reply["status_code"] = outcome.StatusCode
		reply["reason"] = outcome.Reason
	}
	return newStruct(reply)
}

// PlaySong implements ControlServer.PlaySong
func (s *Server) PlaySong(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	cs, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	path := stringField(req, "path")
	if path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}
	s.log.Info("[Control] PlaySong", "call_id", cs.ID(), "path", path)
	if err := cs.PlaySong(path); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// SendMessage implements ControlServer.SendMessage
func (s *Server) SendMessage(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	cs, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	if err := cs.SendInstantMessage(stringField(req, "text")); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// DialDTMF implements ControlServer.DialDTMF
func (s *Server) DialDTMF(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	cs, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	digits := stringField(req, "digits")
	if digits == "" {
		return nil, status.Error(codes.InvalidArgument, "digits is required")
	}
	if err := cs.DialDTMF(digits); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Events implements ControlServer.Events. The stream ends when the client
// goes away or the bus is closed.
func (s *Server) Events(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	pattern := stringField(req, "pattern")
	if pattern == "" {
		pattern = events.PatternAll
	}
	s.log.Info("[Control] Events stream opened", "pattern", pattern)
	defer s.log.Info("[Control] Events stream closed", "pattern", pattern)

	past, ch, cancel := s.bus.SubscribeReplay(pattern, 256, intField(req, "replay"))
	defer cancel()

	for _, ev := range past {
		if err := sendEvent(stream, ev); err != nil {
			return err
		}
	}
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := sendEvent(stream, ev); err != nil {
				return err
			}
		}
	}
}

func sendEvent(stream grpc.ServerStreamingServer[structpb.Struct], ev *events.Event) error {
	fields, err := ev.Fields()
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(msg)
}
