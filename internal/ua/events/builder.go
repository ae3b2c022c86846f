package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/sebas/softphone/internal/ua/session"
)

// Builder creates event envelopes with consistent defaults.
type Builder struct {
	nodeID string
}

// NewBuilder creates an event builder stamping nodeID on every event.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

func (b *Builder) newEvent(t EventType) *Event {
	return &Event{
		EventID:   uuid.New().String(),
		EventType: t,
		EventTime: time.Now().UTC(),
		NodeID:    b.nodeID,
	}
}

var accountTypes = map[session.AccountEventType]EventType{
	session.AccountEventRegistering:    AccountRegistering,
	session.AccountEventRegistered:     AccountRegistered,
	session.AccountEventUnregistering:  AccountUnregistering,
	session.AccountEventUnregistered:   AccountUnregistered,
	session.AccountEventIncomingCall:   CallIncoming,
	session.AccountEventInstantMessage: AccountMessage,
}

// FromAccount converts an account event.
func (b *Builder) FromAccount(ev session.AccountEvent) *Event {
	t, ok := accountTypes[ev.Type]
	if !ok {
		t = EventType("account." + ev.Type.String())
	}
	e := b.newEvent(t)
	e.Account = ev.Account
	e.StatusCode = ev.StatusCode
	e.From = ev.FromURI
	e.Text = ev.Text

	if ev.Type == session.AccountEventIncomingCall {
		e.CallID = ev.CallInfo.ID
		e.Direction = DirectionInbound
		e.From = ev.CallInfo.RemoteURI
		e.To = ev.CallInfo.LocalURI
		e.State = ev.CallInfo.State.String()
	}
	return e
}

var callTypes = map[session.CallEventType]EventType{
	session.CallEventState:          CallState,
	session.CallEventConnecting:     CallConnecting,
	session.CallEventConfirmed:      CallConfirmed,
	session.CallEventDisconnected:   CallDisconnected,
	session.CallEventMedia:          CallMedia,
	session.CallEventDTMF:           CallDTMF,
	session.CallEventPlaybackStatus: CallPlaybackStatus,
	session.CallEventInstantMessage: CallMessage,
}

// FromCall converts a call event of a call placed from or offered to account.
func (b *Builder) FromCall(account string, ev session.CallEvent) *Event {
	t, ok := callTypes[ev.Type]
	if !ok {
		t = EventType("call." + ev.Type.String())
	}
	e := b.newEvent(t)
	e.Account = account
	e.CallID = ev.CallID
	e.StatusCode = ev.StatusCode
	e.Reason = ev.Reason

	switch ev.Type {
	case session.CallEventState, session.CallEventConnecting, session.CallEventConfirmed:
		e.State = ev.State.String()
	case session.CallEventDisconnected:
		e.State = ev.State.String()
		if ev.Outcome != nil {
			e.Outcome = ev.Outcome.Kind.String()
			e.StatusCode = ev.Outcome.StatusCode
			e.Reason = ev.Outcome.Reason
		}
	case session.CallEventMedia:
		e.MediaStatus = ev.MediaStatus.String()
	case session.CallEventDTMF:
		e.Digit = ev.Digit
	case session.CallEventPlaybackStatus:
		e.Playback = &Playback{
			Path:  ev.Playback.Path,
			Event: ev.Playback.Event.String(),
			Param: ev.Playback.Param,
		}
	case session.CallEventInstantMessage:
		e.From = ev.FromURI
		e.Text = ev.Text
	}
	return e
}

// CallPlaced describes a new outbound call.
func (b *Builder) CallPlaced(cs *session.CallSession) *Event {
	info := cs.Info()
	e := b.newEvent(CallPlaced)
	e.Account = cs.Account().ID()
	e.CallID = cs.ID()
	e.Direction = DirectionOutbound
	e.From = info.LocalURI
	e.To = info.RemoteURI
	e.State = info.State.String()
	return e
}
