package control

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/sebas/softphone/internal/ua/engine/enginetest"
	"github.com/sebas/softphone/internal/ua/events"
	"github.com/sebas/softphone/internal/ua/phone"
	"github.com/sebas/softphone/internal/ua/session"
)

var alice = engine.AccountConfig{IDURI: "sip:alice@example.com", Registrar: "sip:example.com"}

type harness struct {
	eng    *enginetest.Engine
	phone  *phone.Phone
	client *Client
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	eng := enginetest.New()
	p := phone.New(eng)
	bus := events.NewBus(0, nil)
	detach := bus.Attach(p, events.NewBuilder("test"))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterControlServer(srv, NewServer(p, bus, cfg))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		detach()
		bus.Close()
	})
	return &harness{eng: eng, phone: p, client: NewClient(conn)}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// register registers alice directly on the phone.
func (h *harness) register(t *testing.T) {
	t.Helper()
	c, err := h.phone.MakeAccount(alice)
	require.NoError(t, err)
	h.eng.Accounts()[0].RegState(true, 200)
	require.NoError(t, c.Wait(testContext(t)))
}

func codeOf(err error) codes.Code {
	return status.Code(err)
}

func TestRegisterWaitsForConfirmation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	type result struct {
		st  AccountStatus
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := h.client.Register(ctx, alice)
		done <- result{st, err}
	}()

	require.Eventually(t, func() bool {
		accts := h.eng.Accounts()
		return len(accts) == 1 && accts[0].HasHandler()
	}, 2*time.Second, 5*time.Millisecond)
	h.eng.Accounts()[0].RegState(true, 200)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "sip:alice@example.com", r.st.Account)
	assert.Equal(t, "Registered", r.st.State)
}

func TestRegisterUsesDefaultAccount(t *testing.T) {
	def := alice
	h := newHarness(t, Config{DefaultAccount: &def})
	ctx := testContext(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.client.Register(ctx, engine.AccountConfig{})
		done <- err
	}()
	require.Eventually(t, func() bool {
		accts := h.eng.Accounts()
		return len(accts) == 1 && accts[0].HasHandler()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "sip:alice@example.com", h.eng.Accounts()[0].Config().IDURI)
	h.eng.Accounts()[0].RegState(true, 200)
	require.NoError(t, <-done)
}

func TestRegisterErrors(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	_, err := h.client.Register(ctx, engine.AccountConfig{})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))

	done := make(chan error, 1)
	go func() {
		_, err := h.client.Register(ctx, alice)
		done <- err
	}()
	require.Eventually(t, func() bool {
		accts := h.eng.Accounts()
		return len(accts) == 1 && accts[0].HasHandler()
	}, 2*time.Second, 5*time.Millisecond)
	h.eng.Accounts()[0].RegState(false, 403)
	assert.Equal(t, codes.PermissionDenied, codeOf(<-done))
}

func TestUnregisterWithoutAccount(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.client.Unregister(testContext(t))
	assert.Equal(t, codes.FailedPrecondition, codeOf(err))
}

func TestRenew(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	_, err := h.client.Renew(ctx)
	assert.Equal(t, codes.FailedPrecondition, codeOf(err), "no account")

	h.register(t)
	h.eng.Reset()
	st, err := h.client.Renew(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Registered", st.State)
	assert.Equal(t, []string{"account-1.setRegistration true"}, h.eng.Commands())
}

func TestMakeCallRequiresRegistration(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	_, err := h.client.MakeCall(ctx, CallRequest{})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))

	_, err = h.client.MakeCall(ctx, CallRequest{Destination: "sip:bob@example.com"})
	assert.Equal(t, codes.FailedPrecondition, codeOf(err))
}

func TestCallLifecycle(t *testing.T) {
	h := newHarness(t, Config{})
	h.register(t)
	ctx := testContext(t)

	idCh := make(chan string, 1)
	go func() {
		id, err := h.client.MakeCall(ctx, CallRequest{Destination: "sip:bob@example.com", AudioDeviceID: 2})
		if err != nil {
			id = "error: " + err.Error()
		}
		idCh <- id
	}()

	var call *enginetest.Call
	require.Eventually(t, func() bool {
		call = h.eng.Accounts()[0].LastCall()
		return call != nil && call.HasHandler()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, call.Options().AudioDeviceID)
	call.State(engine.CallStateCalling, 0)
	require.Equal(t, call.ID(), <-idCh)

	call.State(engine.CallStateConfirmed, 200)

	require.NoError(t, h.client.DialDTMF(ctx, call.ID(), "12#"))
	require.NoError(t, h.client.SendMessage(ctx, call.ID(), "hello"))
	assert.Contains(t, h.eng.Commands(), call.ID()+".dialDtmf 12#")
	assert.Contains(t, h.eng.Commands(), call.ID()+".sendInstantMessage hello")

	// answering an outbound call is a state error
	err := h.client.Answer(ctx, call.ID(), 200, "")
	assert.Equal(t, codes.FailedPrecondition, codeOf(err))

	type result struct {
		res HangupResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := h.client.Hangup(ctx, call.ID(), 0, "")
		done <- result{res, err}
	}()
	require.Eventually(t, func() bool {
		for _, c := range h.eng.Commands() {
			if strings.HasPrefix(c, call.ID()+".hangup") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	call.State(engine.CallStateDisconnected, 200)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, HangupResult{CallID: call.ID(), Outcome: "Disconnected", StatusCode: 200}, r.res)

	_, err = h.client.Hangup(ctx, call.ID(), 0, "")
	assert.Equal(t, codes.NotFound, codeOf(err), "released calls leave the directory")
}

func TestIncomingCallAnswer(t *testing.T) {
	h := newHarness(t, Config{})
	h.register(t)
	ctx := testContext(t)

	call := h.eng.Accounts()[0].IncomingCall("sip:carol@example.com")
	require.NoError(t, h.client.Answer(ctx, call.ID(), 0, ""))
	assert.Contains(t, h.eng.Commands(), call.ID()+".answer 200")

	err := h.client.PlaySong(ctx, call.ID(), "")
	assert.Equal(t, codes.InvalidArgument, codeOf(err))
	require.NoError(t, h.client.PlaySong(ctx, call.ID(), "song.wav"))
}

func TestUnknownCall(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	for name, call := range map[string]func() error{
		"answer":  func() error { return h.client.Answer(ctx, "nope", 200, "") },
		"play":    func() error { return h.client.PlaySong(ctx, "nope", "a.wav") },
		"message": func() error { return h.client.SendMessage(ctx, "nope", "x") },
		"dtmf":    func() error { return h.client.DialDTMF(ctx, "nope", "1") },
	} {
		assert.Equal(t, codes.NotFound, codeOf(call()), name)
	}
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t, Config{})
	h.register(t)
	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	ch, err := h.client.Events(ctx, events.PatternAll, 10)
	require.NoError(t, err)

	next := func() *events.Event {
		t.Helper()
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "stream closed")
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return nil
		}
	}

	// replayed
	assert.Equal(t, events.AccountRegistering, next().EventType)
	reg := next()
	assert.Equal(t, events.AccountRegistered, reg.EventType)
	assert.Equal(t, "sip:alice@example.com", reg.Account)
	assert.Equal(t, 200, reg.StatusCode)

	// live
	call := h.eng.Accounts()[0].IncomingCall("sip:carol@example.com")
	incoming := next()
	assert.Equal(t, events.CallIncoming, incoming.EventType)
	assert.Equal(t, call.ID(), incoming.CallID)
	assert.Equal(t, events.DirectionInbound, incoming.Direction)

	call.DTMF("7")
	dtmf := next()
	assert.Equal(t, events.CallDTMF, dtmf.EventType)
	assert.Equal(t, "7", dtmf.Digit)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{session.ErrNoAccount, codes.FailedPrecondition},
		{session.ErrNotRegistered, codes.FailedPrecondition},
		{session.ErrOperationInProgress, codes.Aborted},
		{session.ErrTimeout, codes.DeadlineExceeded},
		{&session.StateTransitionError{Entity: "call", ID: "c", From: engine.CallStateConfirmed, Op: "answer"}, codes.FailedPrecondition},
		{&session.RegistrationFailedError{StatusCode: 401}, codes.PermissionDenied},
		{&session.RegistrationFailedError{StatusCode: 503}, codes.Unavailable},
		{&session.SetupFailedError{StatusCode: 486}, codes.Unavailable},
		{&session.EngineCommandError{Op: "hangup", Cause: errors.New("boom")}, codes.Internal},
		{context.Canceled, codes.Canceled},
		{status.Error(codes.NotFound, "x"), codes.NotFound},
		{errors.New("other"), codes.Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), "%v", tt.err)
	}
	assert.NoError(t, toStatus(nil))
}
