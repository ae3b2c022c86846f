package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sebas/softphone/internal/ua/engine"
)

// Default status codes for Answer and Hangup.
const (
	DefaultAnswerCode = 200
	DefaultHangupCode = 603
)

// OutcomeKind distinguishes a normal call end from a call that never connected.
type OutcomeKind int

const (
	// OutcomeDisconnected means the call was confirmed before it ended.
	OutcomeDisconnected OutcomeKind = iota
	// OutcomeSetupFailed means the call ended before it was confirmed.
	OutcomeSetupFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDisconnected:
		return "Disconnected"
	case OutcomeSetupFailed:
		return "SetupFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// CallOutcome is the terminal result of a call.
type CallOutcome struct {
	Kind       OutcomeKind
	StatusCode int
	Reason     string
}

// Err returns a *SetupFailedError for OutcomeSetupFailed and nil otherwise.
func (o CallOutcome) Err() error {
	if o.Kind == OutcomeSetupFailed {
		return &SetupFailedError{StatusCode: o.StatusCode, Reason: o.Reason}
	}
	return nil
}

// CallEventType identifies a call-layer event.
type CallEventType int

const (
	CallEventState CallEventType = iota
	CallEventConnecting
	CallEventConfirmed
	CallEventDisconnected
	CallEventMedia
	CallEventDTMF
	CallEventPlaybackStatus
	CallEventInstantMessage
)

func (t CallEventType) String() string {
	switch t {
	case CallEventState:
		return "state"
	case CallEventConnecting:
		return "connecting"
	case CallEventConfirmed:
		return "confirmed"
	case CallEventDisconnected:
		return "disconnected"
	case CallEventMedia:
		return "media"
	case CallEventDTMF:
		return "dtmf"
	case CallEventPlaybackStatus:
		return "playbackStatus"
	case CallEventInstantMessage:
		return "instantMessage"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// CallEvent is delivered to call listeners. Only the fields relevant to
// Type are set.
type CallEvent struct {
	Type        CallEventType
	CallID      string
	State       engine.CallState
	StatusCode  int
	Reason      string
	Outcome     *CallOutcome
	MediaStatus engine.MediaStatus
	Digit       string
	Playback    engine.PlaybackStatus
	FromURI     string
	Text        string
}

type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingConnect
	pendingHangup
)

// CallSession owns one call's state machine and its media binding.
//
// State only moves forward through the engine.CallState order. The
// Disconnected transition is applied once: it closes the media binding,
// releases the engine handler, removes the session from the directory and
// settles whichever completion is pending.
type CallSession struct {
	log      *slog.Logger
	account  *RegistrationSession
	call     engine.Call
	dir      *Directory
	media    *MediaBinding
	incoming bool
	connect  *Completion

	mu          sync.Mutex
	id          string
	state       engine.CallState
	lastCode    int
	lastReason  string
	mediaActive bool
	endpoint    engine.AudioMedia
	pending     *Completion
	pendingKind pendingKind
	terminated  bool
	outcome     *CallOutcome
	done        chan struct{}

	events listeners[CallEvent]
}

func newCallSession(account *RegistrationSession, call engine.Call, media *MediaBinding, incoming bool, info engine.CallInfo) *CallSession {
	s := &CallSession{
		log:      account.log,
		account:  account,
		call:     call,
		dir:      account.dir,
		media:    media,
		incoming: incoming,
		id:       info.ID,
		done:     make(chan struct{}),
	}
	if incoming {
		s.state = engine.CallStateIncoming
	} else {
		s.connect = newCompletion()
		s.pending = s.connect
		s.pendingKind = pendingConnect
	}

	if p := media.Player(); p != nil {
		p.SetStatusHandler(s.onPlaybackStatus)
	}
	if s.id != "" && s.dir != nil {
		s.dir.Register(s.id, s)
	}
	call.SetHandler(&callDispatcher{s: s})
	return s
}

// ID returns the engine call id, or "" until the engine has reported it.
func (s *CallSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Account returns the owning registration session.
func (s *CallSession) Account() *RegistrationSession { return s.account }

// Incoming reports whether the call was received rather than placed.
func (s *CallSession) Incoming() bool { return s.incoming }

// State returns the current call state.
func (s *CallSession) State() engine.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastStatusCode returns the last status code reported by the engine.
func (s *CallSession) LastStatusCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

// Info returns the engine's call snapshot.
func (s *CallSession) Info() engine.CallInfo {
	return s.call.Info()
}

// Media returns the call's media binding.
func (s *CallSession) Media() *MediaBinding { return s.media }

// Connected returns the completion that resolves when an outbound call is
// confirmed and rejects with *SetupFailedError if it ends first. Nil for
// incoming calls.
func (s *CallSession) Connected() *Completion { return s.connect }

// Done is closed once the call has reached Disconnected.
func (s *CallSession) Done() <-chan struct{} { return s.done }

// Outcome returns the terminal outcome once the call has ended.
func (s *CallSession) Outcome() (CallOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return CallOutcome{}, false
	}
	return *s.outcome, true
}

// Terminated reports whether the call has reached Disconnected.
func (s *CallSession) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// OnEvent registers a listener for call events. Returns an unsubscribe func.
func (s *CallSession) OnEvent(fn func(CallEvent)) func() {
	return s.events.add(fn)
}

// Answer responds to an incoming call. statusCode <= 0 means 200. Valid only
// while the call is Incoming or Early; the outcome arrives as a later state
// notification.
func (s *CallSession) Answer(statusCode int, reason string) error {
	if statusCode <= 0 {
		statusCode = DefaultAnswerCode
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return ErrCallTerminated
	}
	if !s.incoming || (s.state != engine.CallStateIncoming && s.state != engine.CallStateEarly) {
		err := &StateTransitionError{Entity: "call", ID: s.id, From: s.state, Op: "answer"}
		s.mu.Unlock()
		return err
	}
	id := s.id
	s.mu.Unlock()

	s.log.Info("[Call] Answering", "call_id", id, "status", statusCode)
	return engineErr("answer", s.call.Answer(statusCode, reason))
}

// Hangup ends the call in any non-terminal state. statusCode <= 0 means 603.
// The returned completion resolves once Disconnected has been observed and
// media has been torn down. A pending connect completion is rejected with
// ErrCallTerminated.
func (s *CallSession) Hangup(statusCode int, reason string) (*Completion, error) {
	if statusCode <= 0 {
		statusCode = DefaultHangupCode
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return nil, ErrCallTerminated
	}
	if s.pendingKind == pendingHangup {
		s.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	prev, prevKind := s.pending, s.pendingKind
	c := newCompletion()
	s.pending, s.pendingKind = c, pendingHangup
	id := s.id
	s.mu.Unlock()

	s.media.Detach()

	s.log.Info("[Call] Hanging up", "call_id", id, "status", statusCode)
	if err := s.call.Hangup(statusCode, reason); err != nil {
		s.mu.Lock()
		if s.pending == c {
			s.pending, s.pendingKind = prev, prevKind
		}
		restore := !s.terminated && s.state == engine.CallStateConfirmed && s.endpoint != nil
		endpoint, active := s.endpoint, s.mediaActive
		s.mu.Unlock()

		// The call is still up: give it back the media stopped above.
		if restore {
			if rerr := s.media.reattach(endpoint, active); rerr != nil {
				s.log.Warn("[Call] Media restore after failed hangup", "call_id", id, "error", rerr)
			}
		}
		return nil, engineErr("hangup", err)
	}

	if prev != nil {
		prev.reject(ErrCallTerminated)
	}
	return c, nil
}

// PlaySong plays path on the call's player. No-op when the call has no player.
func (s *CallSession) PlaySong(path string) error {
	if s.Terminated() {
		return ErrCallTerminated
	}
	return s.media.PlaySong(path)
}

// SendInstantMessage sends an in-dialog MESSAGE.
func (s *CallSession) SendInstantMessage(text string) error {
	if s.Terminated() {
		return ErrCallTerminated
	}
	return engineErr("send instant message", s.call.SendInstantMessage(text))
}

// DialDTMF sends digits to the remote party.
func (s *CallSession) DialDTMF(digits string) error {
	if s.Terminated() {
		return ErrCallTerminated
	}
	return engineErr("dial dtmf", s.call.DialDTMF(digits))
}

func (s *CallSession) emit(ev CallEvent) {
	s.events.emit(ev)
}

func (s *CallSession) onCallState(info engine.CallStateInfo) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		s.log.Debug("[Call] State after terminal ignored", "call_id", info.ID, "state", info.State.String())
		return
	}

	newID := false
	if info.ID != "" && s.id == "" {
		s.id = info.ID
		newID = true
	}
	prior := s.state
	s.lastCode = info.LastStatusCode
	s.lastReason = info.LastReason

	if info.State == engine.CallStateDisconnected {
		s.mu.Unlock()
		if newID && s.dir != nil {
			s.dir.Register(info.ID, s)
		}
		s.terminate(prior, info)
		return
	}

	if info.State < prior {
		s.mu.Unlock()
		s.log.Debug("[Call] Out-of-order state ignored",
			"call_id", s.id,
			"state", info.State.String(),
			"current", prior.String(),
		)
		return
	}
	s.state = info.State

	var (
		settle *Completion
		attach engine.AudioMedia
	)
	if info.State == engine.CallStateConfirmed && prior != engine.CallStateConfirmed {
		if s.pendingKind == pendingConnect {
			settle = s.pending
			s.pending, s.pendingKind = nil, pendingNone
		}
		if s.mediaActive && s.pendingKind != pendingHangup {
			attach = s.endpoint
		}
	}
	id := s.id
	s.mu.Unlock()

	if newID && s.dir != nil {
		s.dir.Register(id, s)
	}

	s.log.Debug("[Call] State changed",
		"call_id", id,
		"from", prior.String(),
		"to", info.State.String(),
		"status", info.LastStatusCode,
	)

	if attach != nil {
		if err := s.media.OnEndpointStatus(engine.MediaStatusActive, attach); err != nil {
			s.log.Warn("[Call] Media attach failed", "call_id", id, "error", err)
		}
	}
	if settle != nil {
		settle.resolve()
	}

	if info.State == prior {
		return
	}
	s.emit(CallEvent{Type: CallEventState, CallID: id, State: info.State, StatusCode: info.LastStatusCode})
	switch info.State {
	case engine.CallStateConnecting:
		s.emit(CallEvent{Type: CallEventConnecting, CallID: id, State: info.State, StatusCode: info.LastStatusCode})
	case engine.CallStateConfirmed:
		s.log.Info("[Call] Confirmed", "call_id", id)
		s.emit(CallEvent{Type: CallEventConfirmed, CallID: id, State: info.State, StatusCode: info.LastStatusCode})
	}
}

// terminate applies the Disconnected transition. prior is the state held
// before the disconnect notification.
func (s *CallSession) terminate(prior engine.CallState, info engine.CallStateInfo) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	outcome := CallOutcome{Kind: OutcomeDisconnected, StatusCode: info.LastStatusCode, Reason: info.LastReason}
	if prior < engine.CallStateConfirmed {
		outcome.Kind = OutcomeSetupFailed
	}
	s.terminated = true
	s.state = engine.CallStateDisconnected
	s.outcome = &outcome
	s.mediaActive = false
	pending, kind := s.pending, s.pendingKind
	s.pending, s.pendingKind = nil, pendingNone
	id := s.id
	s.mu.Unlock()

	s.media.Close()
	s.call.SetHandler(nil)
	if s.dir != nil && id != "" {
		s.dir.release(id, s)
	}

	if pending != nil {
		switch kind {
		case pendingHangup:
			pending.resolve()
		case pendingConnect:
			// prior < Confirmed here; a confirmed call has no pending connect
			pending.reject(outcome.Err())
		}
	}
	close(s.done)

	s.log.Info("[Call] Disconnected",
		"call_id", id,
		"outcome", outcome.Kind.String(),
		"status", outcome.StatusCode,
		"prior", prior.String(),
	)

	s.emit(CallEvent{Type: CallEventState, CallID: id, State: engine.CallStateDisconnected, StatusCode: outcome.StatusCode})
	s.emit(CallEvent{
		Type:       CallEventDisconnected,
		CallID:     id,
		State:      engine.CallStateDisconnected,
		StatusCode: outcome.StatusCode,
		Reason:     outcome.Reason,
		Outcome:    &outcome,
	})
	s.events.clear()
}

func (s *CallSession) onMediaState(endpoints []engine.MediaEndpoint) {
	var ep *engine.MediaEndpoint
	for i := range endpoints {
		if endpoints[i].Audio != nil {
			ep = &endpoints[i]
			break
		}
	}
	if ep == nil {
		return
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	var apply bool
	switch {
	case ep.Status == engine.MediaStatusActive:
		s.mediaActive = true
		s.endpoint = ep.Audio
		apply = s.state == engine.CallStateConfirmed
	case ep.Status.IsHold():
		s.mediaActive = false
		s.endpoint = ep.Audio
		apply = true
	}
	if s.pendingKind == pendingHangup {
		// media was stopped ahead of the hangup; keep it stopped
		apply = false
	}
	id := s.id
	s.mu.Unlock()

	s.log.Debug("[Call] Media state", "call_id", id, "status", ep.Status.String(), "apply", apply)
	if apply {
		if err := s.media.OnEndpointStatus(ep.Status, ep.Audio); err != nil {
			s.log.Warn("[Call] Media update failed", "call_id", id, "error", err)
		}
	}
	s.emit(CallEvent{Type: CallEventMedia, CallID: id, MediaStatus: ep.Status})
}

func (s *CallSession) onDTMF(digit string) {
	if s.Terminated() {
		return
	}
	s.emit(CallEvent{Type: CallEventDTMF, CallID: s.ID(), Digit: digit})
}

func (s *CallSession) onInstantMessage(fromURI, text string) {
	if s.Terminated() {
		return
	}
	s.emit(CallEvent{Type: CallEventInstantMessage, CallID: s.ID(), FromURI: fromURI, Text: text})
}

func (s *CallSession) onPlaybackStatus(st engine.PlaybackStatus) {
	s.emit(CallEvent{Type: CallEventPlaybackStatus, CallID: s.ID(), Playback: st})
}

// callDispatcher is the single engine handler installed for a call's lifetime.
type callDispatcher struct {
	s *CallSession
}

func (d *callDispatcher) OnCallState(info engine.CallStateInfo) { d.s.onCallState(info) }
func (d *callDispatcher) OnMediaState(eps []engine.MediaEndpoint) { d.s.onMediaState(eps) }
func (d *callDispatcher) OnDTMF(digit string) { d.s.onDTMF(digit) }
func (d *callDispatcher) OnInstantMessage(fromURI, text string) { d.s.onInstantMessage(fromURI, text) }
