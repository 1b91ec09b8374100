// Package api is the client for the remote session contracts: start,
// heartbeat and end.
package api

import "time"

// Contract paths, relative to the API base URL.
const (
	StartPath     = "/api/sessions/start"
	HeartbeatPath = "/api/sessions/heartbeat"
	EndPath       = "/api/sessions/end"
)

// DeviceInfo is the device snapshot attached once to start.
type DeviceInfo struct {
	UserAgent    string    `json:"user_agent"`
	Platform     string    `json:"platform"`
	Language     string    `json:"language"`
	ScreenWidth  int       `json:"screen_width"`
	ScreenHeight int       `json:"screen_height"`
	Timezone     string    `json:"timezone"`
	Timestamp    time.Time `json:"timestamp"`
}

// StartRequest is the body of the start contract.
type StartRequest struct {
	SessionID  string     `json:"session_id"`
	TabID      string     `json:"tab_id"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

// HeartbeatRequest is the body of the heartbeat contract.
type HeartbeatRequest struct {
	SessionID string `json:"session_id"`
	TabID     string `json:"tab_id"`
}

// EndRequest is the body of the end contract, whether sent as a request
// or through the teardown sender.
type EndRequest struct {
	SessionID string `json:"session_id"`
	TabID     string `json:"tab_id"`
	Reason    string `json:"reason"`
}
