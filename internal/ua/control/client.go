package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/sebas/softphone/internal/ua/events"
)

// ClientConfig holds gRPC client configuration
type ClientConfig struct {
	Address           string
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:           "localhost:9091",
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// Client calls the control service.
type Client struct {
	conn  *grpc.ClientConn
	owned bool
}

// Dial creates a client for the control service at cfg.Address.
func Dial(cfg ClientConfig) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveInterval,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create control client for %s: %w", cfg.Address, err)
	}
	slog.Debug("[Control] Client created", "address", cfg.Address)
	return &Client{conn: conn, owned: true}, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection if the client created it.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in map[string]any, out any) error {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, fullMethod(method), req, out)
}

// AccountStatus is the reply of Register, Unregister and Renew.
type AccountStatus struct {
	Account string
	State   string
}

func accountStatus(st *structpb.Struct) AccountStatus {
	return AccountStatus{Account: stringField(st, "account"), State: stringField(st, "state")}
}

// Register registers cfg, or the server's default account when cfg.IDURI is
// empty, and waits for the outcome.
func (c *Client) Register(ctx context.Context, cfg engine.AccountConfig) (AccountStatus, error) {
	in := map[string]any{}
	if cfg.IDURI != "" {
		in["id_uri"] = cfg.IDURI
		in["registrar"] = cfg.Registrar
		in["expires"] = cfg.Expires
		if len(cfg.Credentials) > 0 {
			in["username"] = cfg.Credentials[0].Username
			in["password"] = cfg.Credentials[0].Password
			in["realm"] = cfg.Credentials[0].Realm
		}
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Register", in, out); err != nil {
		return AccountStatus{}, err
	}
	return accountStatus(out), nil
}

// Unregister removes the account registration and waits for the outcome.
func (c *Client) Unregister(ctx context.Context) (AccountStatus, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("Unregister"), &emptypb.Empty{}, out); err != nil {
		return AccountStatus{}, err
	}
	return accountStatus(out), nil
}

// Renew refreshes the registration binding of a Registered account.
func (c *Client) Renew(ctx context.Context) (AccountStatus, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("Renew"), &emptypb.Empty{}, out); err != nil {
		return AccountStatus{}, err
	}
	return accountStatus(out), nil
}

// CallRequest describes an outbound call.
type CallRequest struct {
	Destination   string
	Param         string
	AudioDeviceID int
}

// MakeCall places a call and returns its id.
func (c *Client) MakeCall(ctx context.Context, req CallRequest) (string, error) {
	out := new(structpb.Struct)
	err := c.invoke(ctx, "MakeCall", map[string]any{
		"destination":     req.Destination,
		"param":           req.Param,
		"audio_device_id": req.AudioDeviceID,
	}, out)
	if err != nil {
		return "", err
	}
	return stringField(out, "call_id"), nil
}

// Answer answers an incoming call. code 0 means 200.
func (c *Client) Answer(ctx context.Context, callID string, code int, reason string) error {
	return c.invoke(ctx, "Answer", map[string]any{"call_id": callID, "code": code, "reason": reason}, &emptypb.Empty{})
}

// HangupResult is the final outcome of a call ended through Hangup.
type HangupResult struct {
	CallID     string
	Outcome    string
	StatusCode int
	Reason     string
}

// Hangup ends a call and waits until it is disconnected. code 0 means 603.
func (c *Client) Hangup(ctx context.Context, callID string, code int, reason string) (HangupResult, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Hangup", map[string]any{"call_id": callID, "code": code, "reason": reason}, out); err != nil {
		return HangupResult{}, err
	}
	return HangupResult{
		CallID:     stringField(out, "call_id"),
		Outcome:    stringField(out, "outcome"),
		StatusCode: intField(out, "status_code"),
		Reason:     stringField(out, "reason"),
	}, nil
}

// PlaySong plays path on the call's player.
func (c *Client) PlaySong(ctx context.Context, callID, path string) error {
	return c.invoke(ctx, "PlaySong", map[string]any{"call_id": callID, "path": path}, &emptypb.Empty{})
}

// SendMessage sends an in-dialog instant message.
func (c *Client) SendMessage(ctx context.Context, callID, text string) error {
	return c.invoke(ctx, "SendMessage", map[string]any{"call_id": callID, "text": text}, &emptypb.Empty{})
}

// DialDTMF sends digits on the call.
func (c *Client) DialDTMF(ctx context.Context, callID, digits string) error {
	return c.invoke(ctx, "DialDTMF", map[string]any{"call_id": callID, "digits": digits}, &emptypb.Empty{})
}

// Events streams events whose subject matches pattern, starting with up to
// replay past events. The channel is closed when the stream ends.
func (c *Client) Events(ctx context.Context, pattern string, replay int) (<-chan *events.Event, error) {
	req, err := structpb.NewStruct(map[string]any{"pattern": pattern, "replay": replay})
	if err != nil {
		return nil, err
	}
	cs, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Events"))
	if err != nil {
		return nil, fmt.Errorf("Events RPC failed: %w", err)
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("Events RPC failed: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("Events RPC failed: %w", err)
	}

	out := make(chan *events.Event, 64)
	go func() {
		defer close(out)
		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("[Control] Event stream ended", "error", err)
				}
				return
			}
			ev, err := decodeEvent(msg)
			if err != nil {
				slog.Warn("[Control] Undecodable event", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodeEvent(msg *structpb.Struct) (*events.Event, error) {
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return nil, err
	}
	ev := new(events.Event)
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
