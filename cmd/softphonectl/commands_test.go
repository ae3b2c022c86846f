package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/ua/control"
	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/sebas/softphone/internal/ua/events"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) Register(ctx context.Context, cfg engine.AccountConfig) (control.AccountStatus, error) {
	args := m.Called(ctx, cfg)
	return args.Get(0).(control.AccountStatus), args.Error(1)
}

func (m *mockController) Unregister(ctx context.Context) (control.AccountStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(control.AccountStatus), args.Error(1)
}

func (m *mockController) Renew(ctx context.Context) (control.AccountStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(control.AccountStatus), args.Error(1)
}

func (m *mockController) MakeCall(ctx context.Context, req control.CallRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockController) Answer(ctx context.Context, callID string, code int, reason string) error {
	return m.Called(ctx, callID, code, reason).Error(0)
}

func (m *mockController) Hangup(ctx context.Context, callID string, code int, reason string) (control.HangupResult, error) {
	args := m.Called(ctx, callID, code, reason)
	return args.Get(0).(control.HangupResult), args.Error(1)
}

func (m *mockController) PlaySong(ctx context.Context, callID, path string) error {
	return m.Called(ctx, callID, path).Error(0)
}

func (m *mockController) SendMessage(ctx context.Context, callID, text string) error {
	return m.Called(ctx, callID, text).Error(0)
}

func (m *mockController) DialDTMF(ctx context.Context, callID, digits string) error {
	return m.Called(ctx, callID, digits).Error(0)
}

func (m *mockController) Events(ctx context.Context, pattern string, replay int) (<-chan *events.Event, error) {
	args := m.Called(ctx, pattern, replay)
	return args.Get(0).(<-chan *events.Event), args.Error(1)
}

func (m *mockController) Close() error {
	return m.Called().Error(0)
}

type mockStatus struct {
	mock.Mock
}

func (m *mockStatus) Health(ctx context.Context) (*types.HealthResponse, error) {
	args := m.Called(ctx)
	return args.Get(0).(*types.HealthResponse), args.Error(1)
}

func (m *mockStatus) Account(ctx context.Context) (*types.Account, error) {
	args := m.Called(ctx)
	acc, _ := args.Get(0).(*types.Account)
	return acc, args.Error(1)
}

func (m *mockStatus) Calls(ctx context.Context) ([]types.Call, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Call), args.Error(1)
}

type fakeDialer struct {
	ctrl    *mockController
	status  *mockStatus
	addr    string
	dialErr error
}

func (d *fakeDialer) Control(addr string) (Controller, error) {
	d.addr = addr
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.ctrl, nil
}

func (d *fakeDialer) Status(string) StatusReader { return d.status }

func execute(t *testing.T, d *fakeDialer, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(d)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func newDialer() *fakeDialer {
	ctrl := new(mockController)
	ctrl.On("Close").Return(nil)
	return &fakeDialer{ctrl: ctrl, status: new(mockStatus)}
}

func TestRegisterCmd(t *testing.T) {
	d := newDialer()
	want := engine.AccountConfig{
		IDURI:       "sip:alice@example.com",
		Registrar:   "sip:example.com",
		Credentials: []engine.Credentials{{Realm: "*", Username: "alice", Password: "pw"}},
	}
	d.ctrl.On("Register", mock.Anything, want).
		Return(control.AccountStatus{Account: "sip:alice@example.com", State: "Registered"}, nil)

	out, err := execute(t, d, "--control", "10.0.0.1:9091", "register",
		"--id-uri", "sip:alice@example.com", "--registrar", "sip:example.com",
		"--username", "alice", "--password", "pw")
	require.NoError(t, err)
	assert.Equal(t, "sip:alice@example.com Registered\n", out)
	assert.Equal(t, "10.0.0.1:9091", d.addr)
	d.ctrl.AssertExpectations(t)
}

func TestRegisterCmdDefaultAccount(t *testing.T) {
	d := newDialer()
	d.ctrl.On("Register", mock.Anything, engine.AccountConfig{}).
		Return(control.AccountStatus{}, errors.New("rpc error: code = PermissionDenied"))

	_, err := execute(t, d, "register")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register failed")
	assert.Contains(t, err.Error(), "PermissionDenied")
}

func TestCallAndHangupCmds(t *testing.T) {
	d := newDialer()
	d.ctrl.On("MakeCall", mock.Anything, control.CallRequest{Destination: "sip:bob@example.com", AudioDeviceID: 2}).
		Return("call-1", nil)
	d.ctrl.On("Hangup", mock.Anything, "call-1", 486, "Busy Here").
		Return(control.HangupResult{CallID: "call-1", Outcome: "Disconnected", StatusCode: 486, Reason: "Busy Here"}, nil)

	out, err := execute(t, d, "call", "sip:bob@example.com", "--device", "2")
	require.NoError(t, err)
	assert.Equal(t, "call-1\n", out)

	out, err = execute(t, d, "hangup", "call-1", "--code", "486", "--reason", "Busy Here")
	require.NoError(t, err)
	assert.Equal(t, "call-1 Disconnected 486 Busy Here\n", out)
	d.ctrl.AssertExpectations(t)
}

func TestInCallCmds(t *testing.T) {
	d := newDialer()
	d.ctrl.On("Answer", mock.Anything, "call-2", 0, "").Return(nil)
	d.ctrl.On("PlaySong", mock.Anything, "call-2", "/tmp/song.wav").Return(nil)
	d.ctrl.On("SendMessage", mock.Anything, "call-2", "hello there").Return(nil)
	d.ctrl.On("DialDTMF", mock.Anything, "call-2", "12#").Return(nil)

	out, err := execute(t, d, "answer", "call-2")
	require.NoError(t, err)
	assert.Equal(t, "answered call-2\n", out)

	_, err = execute(t, d, "play", "call-2", "/tmp/song.wav")
	require.NoError(t, err)
	_, err = execute(t, d, "message", "call-2", "hello", "there")
	require.NoError(t, err)
	_, err = execute(t, d, "dtmf", "call-2", "12#")
	require.NoError(t, err)
	d.ctrl.AssertExpectations(t)
}

func TestArgumentValidation(t *testing.T) {
	d := newDialer()
	_, err := execute(t, d, "call")
	assert.Error(t, err)
	_, err = execute(t, d, "dtmf", "call-1")
	assert.Error(t, err)
	d.ctrl.AssertNotCalled(t, "MakeCall", mock.Anything, mock.Anything)
}

func TestRenewCmd(t *testing.T) {
	d := newDialer()
	d.ctrl.On("Renew", mock.Anything).
		Return(control.AccountStatus{Account: "sip:alice@example.com", State: "Registered"}, nil).Once()
	out, err := execute(t, d, "renew")
	require.NoError(t, err)
	assert.Equal(t, "sip:alice@example.com Registered\n", out)

	d.ctrl.On("Renew", mock.Anything).Return(control.AccountStatus{}, errors.New("not registered")).Once()
	_, err = execute(t, d, "renew")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renew failed")
	d.ctrl.AssertExpectations(t)
}

func TestDialFailure(t *testing.T) {
	d := newDialer()
	d.dialErr = errors.New("bad address")
	_, err := execute(t, d, "unregister")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestEventsCmd(t *testing.T) {
	d := newDialer()
	ch := make(chan *events.Event, 2)
	ch <- &events.Event{EventType: events.AccountRegistered, Account: "sip:alice@example.com"}
	close(ch)
	d.ctrl.On("Events", mock.Anything, events.PatternAllAccounts, 5).Return((<-chan *events.Event)(ch), nil)

	out, err := execute(t, d, "events", "--pattern", events.PatternAllAccounts, "--replay", "5")
	require.NoError(t, err)
	assert.Contains(t, out, `"event_type":"`+string(events.AccountRegistered)+`"`)
	d.ctrl.AssertExpectations(t)
}

func TestRunStatus(t *testing.T) {
	s := new(mockStatus)
	s.On("Health", mock.Anything).Return(&types.HealthResponse{Status: "ok", NodeID: "node-1", Uptime: 42}, nil)
	s.On("Account", mock.Anything).Return(&types.Account{ID: "sip:alice@example.com", State: "Registered"}, nil)
	s.On("Calls", mock.Anything).Return([]types.Call{
		{CallID: "call-1", Direction: "inbound", State: "Confirmed", RemoteURI: "sip:carol@example.com"},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runStatus(context.Background(), s, &buf))
	out := buf.String()
	assert.Contains(t, out, "Node:    node-1 (up 42s)")
	assert.Contains(t, out, "Account: sip:alice@example.com Registered")
	assert.Contains(t, out, "Calls:   1")
	assert.Contains(t, out, "  call-1 inbound Confirmed sip:carol@example.com")
}

func TestRunStatusWithoutAccount(t *testing.T) {
	s := new(mockStatus)
	s.On("Health", mock.Anything).Return(&types.HealthResponse{Status: "ok", NodeID: "n"}, nil)
	s.On("Account", mock.Anything).Return(nil, errors.New("unexpected status: 404"))
	s.On("Calls", mock.Anything).Return([]types.Call{}, nil)

	var buf bytes.Buffer
	require.NoError(t, runStatus(context.Background(), s, &buf))
	assert.Contains(t, buf.String(), "Account: none")
	assert.Contains(t, buf.String(), "Calls:   0")
}
