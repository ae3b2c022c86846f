// Package events turns account and call session events into envelopes with
// stable ids, timestamps and subjects, and fans them out to subscribers such
// as the control stream and the HTTP API.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event
type EventType string

const (
	AccountRegistering   EventType = "account.registering"
	AccountRegistered    EventType = "account.registered"
	AccountUnregistering EventType = "account.unregistering"
	AccountUnregistered  EventType = "account.unregistered"
	AccountMessage       EventType = "account.message"

	// CallIncoming fires when an INVITE is offered to the account
	CallIncoming       EventType = "call.incoming"
	// CallPlaced fires when an outbound call is created
	CallPlaced         EventType = "call.placed"
	CallState          EventType = "call.state"
	CallConnecting     EventType = "call.connecting"
	CallConfirmed      EventType = "call.confirmed"
	CallDisconnected   EventType = "call.disconnected"
	CallMedia          EventType = "call.media"
	CallDTMF           EventType = "call.dtmf"
	CallPlaybackStatus EventType = "call.playback"
	CallMessage        EventType = "call.message"
)

// Direction indicates call direction
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Playback carries a player status update.
type Playback struct {
	Path  string `json:"path"`
	Event string `json:"event"`
	Param int    `json:"param"`
}

// Event is the envelope delivered to subscribers. Fields not relevant to
// EventType are left empty.
type Event struct {
	// EventID is unique per event instance
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	NodeID    string    `json:"node_id,omitempty"`
	Account   string    `json:"account,omitempty"`

	// CallID is the engine call id; empty for account events
	CallID     string    `json:"call_id,omitempty"`
	Direction  Direction `json:"direction,omitempty"`
	State      string    `json:"state,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`

	// Outcome is set on call.disconnected: "Disconnected" or "SetupFailed"
	Outcome     string    `json:"outcome,omitempty"`
	MediaStatus string    `json:"media_status,omitempty"`
	Digit       string    `json:"digit,omitempty"`
	Playback    *Playback `json:"playback,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Text        string    `json:"text,omitempty"`
}

// Subject returns the routing subject.
// Format: softphone.calls.<call_id>.<suffix> or softphone.accounts.<account>.<suffix>
func (e *Event) Subject() string {
	if e.CallID != "" {
		return CallSubject(e.CallID, SubjectForEventType(e.EventType))
	}
	return AccountSubject(e.Account, SubjectForEventType(e.EventType))
}

// IsCall reports whether the event belongs to a call.
func (e *Event) IsCall() bool { return e.CallID != "" }

// Fields returns the event as a generic map, the shape used by the control
// stream.
func (e *Event) Fields() (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["subject"] = e.Subject()
	return m, nil
}
