package engine

import (
	"fmt"
	"time"
)

// CallState is the signaling progress of a call. The numeric order is
// significant: a larger value means further progress.
type CallState int

const (
	CallStateNull CallState = iota
	CallStateCalling
	CallStateEarly
	CallStateConnecting
	CallStateConfirmed
	CallStateDisconnected
)

// CallStateIncoming shares the progress rank of CallStateCalling.
const CallStateIncoming = CallStateCalling

// String returns the string representation of the state
func (s CallState) String() string {
	switch s {
	case CallStateNull:
		return "Null"
	case CallStateCalling:
		return "Calling"
	case CallStateEarly:
		return "Early"
	case CallStateConnecting:
		return "Connecting"
	case CallStateConfirmed:
		return "Confirmed"
	case CallStateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal returns true if this is a terminal state
func (s CallState) IsTerminal() bool {
	return s == CallStateDisconnected
}

// MediaStatus is the negotiated status of one media endpoint.
type MediaStatus int

const (
	MediaStatusNone MediaStatus = iota
	MediaStatusActive
	MediaStatusLocalHold
	MediaStatusRemoteHold
	MediaStatusError
)

func (s MediaStatus) String() string {
	switch s {
	case MediaStatusNone:
		return "None"
	case MediaStatusActive:
		return "Active"
	case MediaStatusLocalHold:
		return "LocalHold"
	case MediaStatusRemoteHold:
		return "RemoteHold"
	case MediaStatusError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsHold reports whether either side has put the stream on hold.
func (s MediaStatus) IsHold() bool {
	return s == MediaStatusLocalHold || s == MediaStatusRemoteHold
}

// MediaEndpoint is one negotiated audio stream of a call.
type MediaEndpoint struct {
	Index  int
	Status MediaStatus
	Audio  AudioMedia
}

// RegStateInfo is delivered on every registration state change.
type RegStateInfo struct {
	Active     bool
	StatusCode int
	Reason     string
	Expires    int
}

// CallStateInfo is delivered on every call state change. ID is assigned by
// the engine and is always set on notifications.
type CallStateInfo struct {
	ID             string
	State          CallState
	LastStatusCode int
	LastReason     string
}

// CallInfo is a snapshot of call details.
type CallInfo struct {
	ID              string
	LocalURI        string
	RemoteURI       string
	RemoteContact   string
	State           CallState
	StateText       string
	LastStatusCode  int
	LastReason      string
	Incoming        bool
	ConnectDuration time.Duration
}

// CallOptions are the optional parameters of an outbound call.
type CallOptions struct {
	// Param is an opaque engine parameter (extra header or URI params).
	Param string
	// AudioDeviceID selects a capture device; zero or negative means none.
	AudioDeviceID int
}

// Credentials authenticate an account against its registrar.
type Credentials struct {
	Realm    string
	Username string
	Password string
}

// AccountConfig describes one account.
type AccountConfig struct {
	// IDURI is the account identity, e.g. "sip:alice@example.com".
	IDURI string
	// Registrar is the registrar URI, e.g. "sip:example.com".
	Registrar   string
	Credentials []Credentials
	// Expires is the requested registration lifetime in seconds.
	Expires int
}

// DeviceInfo describes one audio device.
type DeviceInfo struct {
	ID                int
	Name              string
	Driver            string
	InputCount        int
	OutputCount       int
	DefaultSampleRate int
}

// CodecInfo identifies a codec and its current priority.
type CodecInfo struct {
	ID       string
	Priority int
}

// PlaybackEvent is the kind of a playback status notification.
type PlaybackEvent int

const (
	PlaybackStarted PlaybackEvent = iota
	PlaybackProgress
	PlaybackCompleted
	PlaybackStopped
	PlaybackError
)

func (e PlaybackEvent) String() string {
	switch e {
	case PlaybackStarted:
		return "Started"
	case PlaybackProgress:
		return "Progress"
	case PlaybackCompleted:
		return "Completed"
	case PlaybackStopped:
		return "Stopped"
	case PlaybackError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// PlaybackStatus reports player progress. Param is event specific:
// elapsed milliseconds for Progress, zero otherwise.
type PlaybackStatus struct {
	Path  string
	Event PlaybackEvent
	Param int
}

// BuddyState is a presence update for one buddy.
type BuddyState struct {
	URI       string
	StateText string
}
