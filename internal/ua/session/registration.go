package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/looplab/fsm"
	"github.com/sebas/softphone/internal/ua/engine"
)

// RegistrationState is the registration state of an account.
type RegistrationState int

const (
	StateOffline RegistrationState = iota
	StateRegistering
	StateRegistered
	StateUnregistering
)

// String returns the string representation of the state
func (s RegistrationState) String() string {
	switch s {
	case StateOffline:
		return "Offline"
	case StateRegistering:
		return "Registering"
	case StateRegistered:
		return "Registered"
	case StateUnregistering:
		return "Unregistering"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Registration state machine states.
const (
	fsmOffline       = "offline"
	fsmRegistering   = "registering"
	fsmRegistered    = "registered"
	fsmUnregistering = "unregistering"
)

func (s RegistrationState) fsmState() string {
	switch s {
	case StateRegistering:
		return fsmRegistering
	case StateRegistered:
		return fsmRegistered
	case StateUnregistering:
		return fsmUnregistering
	default:
		return fsmOffline
	}
}

func parseRegistrationState(s string) RegistrationState {
	switch s {
	case fsmRegistering:
		return StateRegistering
	case fsmRegistered:
		return StateRegistered
	case fsmUnregistering:
		return StateUnregistering
	default:
		return StateOffline
	}
}

// Registration state machine events.
const (
	evRegister         = "register"
	evRegistered       = "registered"
	evRegisterFailed   = "register_failed"
	evUnregister       = "unregister"
	evUnregisterFailed = "unregister_failed"
	evUnregistered     = "unregistered"
)

func newRegistrationFSM() *fsm.FSM {
	offline := fsmOffline
	registering := fsmRegistering
	registered := fsmRegistered
	unregistering := fsmUnregistering

	return fsm.NewFSM(
		offline,
		fsm.Events{
			{Name: evRegister, Src: []string{offline, registered}, Dst: registering},
			{Name: evRegistered, Src: []string{registering}, Dst: registered},
			{Name: evRegisterFailed, Src: []string{registering}, Dst: offline},
			{Name: evUnregister, Src: []string{registered}, Dst: unregistering},
			{Name: evUnregisterFailed, Src: []string{unregistering}, Dst: registered},
			{Name: evUnregistered, Src: []string{unregistering, registered}, Dst: offline},
		},
		nil,
	)
}

// AccountEventType identifies an account-layer event.
type AccountEventType int

const (
	AccountEventRegistering AccountEventType = iota
	AccountEventRegistered
	AccountEventUnregistering
	AccountEventUnregistered
	AccountEventIncomingCall
	AccountEventInstantMessage
)

func (t AccountEventType) String() string {
	switch t {
	case AccountEventRegistering:
		return "registering"
	case AccountEventRegistered:
		return "registered"
	case AccountEventUnregistering:
		return "unregistering"
	case AccountEventUnregistered:
		return "unregistered"
	case AccountEventIncomingCall:
		return "incomingCall"
	case AccountEventInstantMessage:
		return "instantMessage"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// AccountEvent is delivered to account listeners. Only the fields relevant
// to Type are set.
type AccountEvent struct {
	Type       AccountEventType
	Account    string
	StatusCode int
	Call       *CallSession
	CallInfo   engine.CallInfo
	FromURI    string
	Text       string
}

// Option configures a RegistrationSession.
type Option func(*options)

type options struct {
	log       *slog.Logger
	dir       *Directory
	playerCfg PlayerConfig
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithDirectory registers every call of the account in dir.
func WithDirectory(dir *Directory) Option {
	return func(o *options) { o.dir = dir }
}

// WithPlayerConfig sets the default player configuration inherited by calls.
func WithPlayerConfig(cfg PlayerConfig) Option {
	return func(o *options) { o.playerCfg = cfg }
}

// MakeCallOptions are the optional parameters of MakeCall.
type MakeCallOptions struct {
	Param         string
	AudioDeviceID int
	// Player overrides the account's player configuration for this call.
	Player *PlayerConfig
}

// RegistrationSession wraps one engine account. It owns the registration
// state machine and gates call creation on the Registered state.
type RegistrationSession struct {
	log       *slog.Logger
	eng       engine.Engine
	dir       *Directory
	playerCfg PlayerConfig

	mu        sync.Mutex
	cfg       engine.AccountConfig
	account   engine.Account
	fsm       *fsm.FSM
	pending   *Completion
	pendingOp string
	attached  bool
	buddies   map[string]*BuddySession

	events listeners[AccountEvent]
}

// NewRegistrationSession creates an Offline session. The engine account is
// created by the first Register.
func NewRegistrationSession(eng engine.Engine, opts ...Option) *RegistrationSession {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return &RegistrationSession{
		log:       o.log,
		eng:       eng,
		dir:       o.dir,
		playerCfg: o.playerCfg,
		fsm:       newRegistrationFSM(),
		buddies:   make(map[string]*BuddySession),
	}
}

// ID returns the account identity URI.
func (s *RegistrationSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.IDURI
}

// State returns the current registration state.
func (s *RegistrationSession) State() RegistrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *RegistrationSession) stateLocked() RegistrationState {
	return parseRegistrationState(s.fsm.Current())
}

// PlayerConfig returns the default player configuration for calls.
func (s *RegistrationSession) PlayerConfig() PlayerConfig { return s.playerCfg }

// Directory returns the call directory, or nil.
func (s *RegistrationSession) Directory() *Directory { return s.dir }

// OnEvent registers a listener for account events. Returns an unsubscribe func.
func (s *RegistrationSession) OnEvent(fn func(AccountEvent)) func() {
	return s.events.add(fn)
}

func (s *RegistrationSession) fire(event string) error {
	return s.fsm.Event(context.Background(), event)
}

// Register issues a registration with cfg. The first call creates the engine
// account; later calls modify it. The completion resolves on a 200
// confirmation and rejects with ErrTimeout (408) or *RegistrationFailedError.
func (s *RegistrationSession) Register(cfg engine.AccountConfig) (*Completion, error) {
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	if err := s.fire(evRegister); err != nil {
		st := s.stateLocked()
		s.mu.Unlock()
		return nil, &StateTransitionError{Entity: "account", ID: cfg.IDURI, From: st, Op: "register"}
	}
	c := newCompletion()
	s.pending, s.pendingOp = c, evRegister
	s.cfg = cfg
	acct := s.account
	attach := !s.attached
	s.attached = true
	s.mu.Unlock()

	s.log.Info("[Registration] Registering", "account", cfg.IDURI, "registrar", cfg.Registrar)
	s.events.emit(AccountEvent{Type: AccountEventRegistering, Account: cfg.IDURI})

	var err error
	if acct == nil {
		acct, err = s.eng.CreateAccount(cfg)
		if err == nil {
			s.mu.Lock()
			s.account = acct
			s.mu.Unlock()
			acct.SetHandler(&accountDispatcher{s: s})
		}
	} else {
		if attach {
			acct.SetHandler(&accountDispatcher{s: s})
		}
		err = acct.Modify(cfg)
	}
	if err != nil {
		s.mu.Lock()
		if s.pending == c {
			s.pending, s.pendingOp = nil, ""
			_ = s.fire(evRegisterFailed)
		}
		if acct == nil {
			s.attached = false
		}
		s.mu.Unlock()
		return nil, engineErr("register", err)
	}
	return c, nil
}

// Unregister de-registers the account. It succeeds immediately when already
// Offline and fails with ErrNotRegistered unless Registered. On confirmation
// the engine handler is released.
func (s *RegistrationSession) Unregister() (*Completion, error) {
	s.mu.Lock()
	st := s.stateLocked()
	switch st {
	case StateOffline:
		s.mu.Unlock()
		return resolved(), nil
	case StateUnregistering:
		s.mu.Unlock()
		return nil, ErrOperationInProgress
	case StateRegistered:
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w, %q", ErrNotRegistered, st.String())
	}
	if err := s.fire(evUnregister); err != nil {
		s.mu.Unlock()
		return nil, &StateTransitionError{Entity: "account", ID: s.cfg.IDURI, From: st, Op: "unregister"}
	}
	c := newCompletion()
	s.pending, s.pendingOp = c, evUnregister
	acct, id := s.account, s.cfg.IDURI
	s.mu.Unlock()

	s.log.Info("[Registration] Unregistering", "account", id)
	s.events.emit(AccountEvent{Type: AccountEventUnregistering, Account: id})

	if err := acct.SetRegistration(false); err != nil {
		s.mu.Lock()
		if s.pending == c {
			s.pending, s.pendingOp = nil, ""
			_ = s.fire(evUnregisterFailed)
		}
		s.mu.Unlock()
		return nil, engineErr("unregister", err)
	}
	return c, nil
}

// Renew refreshes a Registered account's binding without a state change.
func (s *RegistrationSession) Renew() error {
	s.mu.Lock()
	st, acct := s.stateLocked(), s.account
	s.mu.Unlock()
	if st != StateRegistered {
		return ErrNotRegistered
	}
	return engineErr("renew", acct.SetRegistration(true))
}

// MakeCall places a call to destination. It fails with ErrNotRegistered,
// without issuing any engine command, unless the account is Registered. The
// returned session's Connected completion reports the setup outcome.
func (s *RegistrationSession) MakeCall(destination string, opts MakeCallOptions) (*CallSession, error) {
	s.mu.Lock()
	st, acct, id := s.stateLocked(), s.account, s.cfg.IDURI
	s.mu.Unlock()
	if st != StateRegistered {
		return nil, ErrNotRegistered
	}

	cfg := s.playerCfg
	if opts.Player != nil {
		cfg = *opts.Player
	}
	if opts.AudioDeviceID > 0 {
		s.log.Info("[Registration] Using audio device", "account", id, "device_id", opts.AudioDeviceID)
	}

	media, err := newMediaBindingFromConfig(s.eng, cfg, s.log)
	if err != nil {
		return nil, err
	}

	call, err := acct.MakeCall(destination, engine.CallOptions{
		Param:         opts.Param,
		AudioDeviceID: opts.AudioDeviceID,
	})
	if err != nil {
		media.Close()
		return nil, engineErr("make call", err)
	}

	s.log.Info("[Registration] Call placed", "account", id, "destination", destination)
	return newCallSession(s, call, media, false, engine.CallInfo{}), nil
}

// Close releases the engine handler, deletes the engine account and rejects
// any pending operation with ErrNotRegistered.
func (s *RegistrationSession) Close() error {
	s.mu.Lock()
	acct := s.account
	pending := s.pending
	s.pending, s.pendingOp = nil, ""
	s.attached = false
	s.account = nil
	s.fsm.SetState(StateOffline.fsmState())
	buddies := s.buddies
	s.buddies = make(map[string]*BuddySession)
	s.mu.Unlock()

	for _, b := range buddies {
		b.release()
	}
	if pending != nil {
		pending.reject(ErrNotRegistered)
	}
	if acct == nil {
		return nil
	}
	acct.SetHandler(nil)
	return engineErr("shutdown", acct.Shutdown())
}

func (s *RegistrationSession) onRegState(info engine.RegStateInfo) {
	s.mu.Lock()
	st := s.stateLocked()
	id := s.cfg.IDURI
	var (
		settle  *Completion
		err     error
		event   *AccountEvent
		release engine.Account
	)

	switch st {
	case StateRegistering:
		if info.Active && info.StatusCode == 200 {
			_ = s.fire(evRegistered)
			event = &AccountEvent{Type: AccountEventRegistered, Account: id, StatusCode: info.StatusCode}
		} else {
			_ = s.fire(evRegisterFailed)
			err = registrationError(info)
			event = &AccountEvent{Type: AccountEventUnregistered, Account: id, StatusCode: info.StatusCode}
		}
		if s.pendingOp == evRegister {
			settle = s.pending
			s.pending, s.pendingOp = nil, ""
		}
	case StateRegistered:
		if info.Active {
			s.mu.Unlock()
			s.log.Debug("[Registration] Refreshed", "account", id, "expires", info.Expires)
			return
		}
		_ = s.fire(evUnregistered)
		event = &AccountEvent{Type: AccountEventUnregistered, Account: id, StatusCode: info.StatusCode}
	case StateUnregistering:
		if info.Active {
			_ = s.fire(evUnregisterFailed)
			err = &RegistrationFailedError{StatusCode: info.StatusCode, Reason: info.Reason}
		} else {
			_ = s.fire(evUnregistered)
			release = s.account
			s.attached = false
			event = &AccountEvent{Type: AccountEventUnregistered, Account: id, StatusCode: info.StatusCode}
		}
		if s.pendingOp == evUnregister {
			settle = s.pending
			s.pending, s.pendingOp = nil, ""
		}
	default:
		s.mu.Unlock()
		s.log.Debug("[Registration] Notification while offline dropped",
			"account", id,
			"active", info.Active,
			"status", info.StatusCode,
		)
		return
	}
	next := s.stateLocked()
	s.mu.Unlock()

	s.log.Info("[Registration] State changed",
		"account", id,
		"from", st.String(),
		"to", next.String(),
		"status", info.StatusCode,
	)

	if release != nil {
		release.SetHandler(nil)
	}
	if settle != nil {
		settle.settle(err)
	}
	if event != nil {
		s.events.emit(*event)
	}
}

func registrationError(info engine.RegStateInfo) error {
	if info.StatusCode == 408 {
		return ErrTimeout
	}
	return &RegistrationFailedError{StatusCode: info.StatusCode, Reason: info.Reason}
}

func (s *RegistrationSession) onIncomingCall(info engine.CallInfo, call engine.Call) {
	id := s.ID()
	media, err := newMediaBindingFromConfig(s.eng, s.playerCfg, s.log)
	if err != nil {
		s.log.Warn("[Registration] Incoming call without media resources", "account", id, "error", err)
		media = NewMediaBinding(nil, "", nil, s.log)
	}
	cs := newCallSession(s, call, media, true, info)

	s.log.Info("[Registration] Incoming call", "account", id, "call_id", info.ID, "from", info.RemoteURI)
	s.events.emit(AccountEvent{Type: AccountEventIncomingCall, Account: id, Call: cs, CallInfo: info})
}

func (s *RegistrationSession) onInstantMessage(fromURI, text string) {
	s.events.emit(AccountEvent{Type: AccountEventInstantMessage, Account: s.ID(), FromURI: fromURI, Text: text})
}

// accountDispatcher is the single engine handler installed for an account.
type accountDispatcher struct {
	s *RegistrationSession
}

func (d *accountDispatcher) OnRegState(info engine.RegStateInfo) { d.s.onRegState(info) }
func (d *accountDispatcher) OnIncomingCall(info engine.CallInfo, call engine.Call) {
	d.s.onIncomingCall(info, call)
}
func (d *accountDispatcher) OnInstantMessage(fromURI, text string) { d.s.onInstantMessage(fromURI, text) }
