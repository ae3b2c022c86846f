// Package types defines the JSON types of the softphone status API.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      int64  `json:"uptime"`
	NodeID      string `json:"node_id,omitempty"`
	Registered  bool   `json:"registered"`
	ActiveCalls int    `json:"active_calls"`
}

// Account is the response from /api/v1/account
type Account struct {
	ID    string `json:"id"`
	State string `json:"state"`
	// Player and Recorder are the default media files for calls of this account
	Player   string `json:"player,omitempty"`
	Recorder string `json:"recorder,omitempty"`
}

// Call represents one live call
type Call struct {
	CallID         string `json:"call_id"`
	Direction      string `json:"direction"`
	State          string `json:"state"`
	LocalURI       string `json:"local_uri,omitempty"`
	RemoteURI      string `json:"remote_uri"`
	RemoteContact  string `json:"remote_contact,omitempty"`
	LastStatusCode int    `json:"last_status_code,omitempty"`
	LastReason     string `json:"last_reason,omitempty"`
	Duration       int    `json:"duration"`
	Transmitting   bool   `json:"transmitting"`
	Recording      bool   `json:"recording"`
}

// Device is one audio device from /api/v1/devices
type Device struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Driver            string `json:"driver"`
	InputCount        int    `json:"input_count"`
	OutputCount       int    `json:"output_count"`
	DefaultSampleRate int    `json:"default_sample_rate"`
}

// Codec is one codec from /api/v1/codecs
type Codec struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

// CodecPriorityRequest is the body of PUT /api/v1/codecs/{id}
type CodecPriorityRequest struct {
	Priority int `json:"priority"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}
