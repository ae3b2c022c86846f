// Package engine defines the capability surface the softphone core consumes
// from a signaling/media engine. Each external object is reduced to the
// methods the core actually calls.
package engine

// Engine creates accounts and media ports and exposes device/codec tables.
type Engine interface {
	// CreateAccount creates an account and starts registration with the
	// registrar named in cfg. Registration outcome arrives via OnRegState.
	CreateAccount(cfg AccountConfig) (Account, error)

	// CreatePlayer creates an idle file player port.
	CreatePlayer() (Player, error)

	// CreateRecorder creates a recorder port writing to path.
	CreateRecorder(path string) (Recorder, error)

	AudioDevices() ([]DeviceInfo, error)
	Codecs() ([]CodecInfo, error)
	SetCodecPriority(codecID string, priority int) error
}

// Account is one registered identity on the engine.
type Account interface {
	// SetHandler installs the single notification handler for this account.
	// Passing nil releases it.
	SetHandler(h AccountHandler)

	// Modify replaces the account configuration and re-registers.
	Modify(cfg AccountConfig) error

	// SetRegistration refreshes the registration when renew is true and
	// unregisters (expires=0) when false.
	SetRegistration(renew bool) error

	// MakeCall creates an outbound call. The call id is not known until the
	// first state notification.
	MakeCall(destination string, opts CallOptions) (Call, error)

	AddBuddy(uri string, subscribe bool) (Buddy, error)
	DelBuddy(uri string) error

	// Shutdown deletes the account from the engine.
	Shutdown() error
}

// AccountHandler receives account notifications. Notifications for one
// account are delivered serially.
type AccountHandler interface {
	OnRegState(info RegStateInfo)
	OnIncomingCall(info CallInfo, call Call)
	OnInstantMessage(fromURI, text string)
}

// Call is one signaling dialog.
type Call interface {
	// SetHandler installs the single notification handler for this call.
	// Passing nil releases it.
	SetHandler(h CallHandler)

	Answer(statusCode int, reason string) error
	Hangup(statusCode int, reason string) error
	SendInstantMessage(text string) error
	DialDTMF(digits string) error
	Info() CallInfo
}

// CallHandler receives call notifications. Notifications for one call are
// delivered serially and in emission order.
type CallHandler interface {
	OnCallState(info CallStateInfo)
	OnMediaState(endpoints []MediaEndpoint)
	OnDTMF(digit string)
	OnInstantMessage(fromURI, text string)
}

// AudioMedia is a conference port able to transmit its audio to a sink port.
type AudioMedia interface {
	StartTransmit(sink AudioMedia) error
	StopTransmit(sink AudioMedia) error
}

// Player plays audio files into the conference.
type Player interface {
	AudioMedia

	// Play starts playing path from the beginning.
	Play(path string) error

	// SetStatusHandler installs the playback status callback. Nil releases it.
	SetStatusHandler(fn func(PlaybackStatus))

	Close() error
}

// Recorder writes everything transmitted to it into a file.
type Recorder interface {
	AudioMedia
	Close() error
}

// Buddy is a presence subscription and instant message peer.
type Buddy interface {
	URI() string
	SubscribePresence(subscribe bool) error
	SendInstantMessage(text string) error

	// SetStateHandler installs the presence callback. Nil releases it.
	SetStateHandler(fn func(BuddyState))
}
