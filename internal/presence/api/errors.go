package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// CodeSessionNotFound is the error code the server uses when it no longer
// knows a session.
const CodeSessionNotFound = "SESSION_NOT_FOUND"

// ErrSessionNotFound matches (via errors.Is) any RemoteError reporting a
// forgotten session.
var ErrSessionNotFound = errors.New("session not found")

// RemoteError is a non-2xx answer from the session API.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("session api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("session api: %d: %s", e.Status, e.Message)
}

// SessionNotFound reports whether the server said it forgot the session.
// A typed code is authoritative; servers that send no code are matched on
// the message text.
func (e *RemoteError) SessionNotFound() bool {
	if e.Code != "" {
		return strings.EqualFold(e.Code, CodeSessionNotFound)
	}
	return strings.Contains(strings.ToLower(e.Message), "session not found")
}

// Is lets errors.Is(err, ErrSessionNotFound) see through RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrSessionNotFound && e.SessionNotFound()
}

// errorBody accepts the error shapes the API is known to send:
//
//	{"error": {"code": "...", "message": "..."}}
//	{"error": "..."}
//	{"code": "...", "message": "..."}
//	{"detail": "..."}
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
}

func decodeRemoteError(status int, body []byte) *RemoteError {
	rerr := &RemoteError{Status: status}

	var eb errorBody
	if err := sonic.Unmarshal(body, &eb); err != nil {
		rerr.Message = strings.TrimSpace(string(body))
		return rerr
	}

	rerr.Code = eb.Code
	rerr.Message = eb.Message
	if rerr.Message == "" {
		rerr.Message = eb.Detail
	}

	if len(eb.Error) > 0 && string(eb.Error) != "null" {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var text string
		switch {
		case sonic.Unmarshal(eb.Error, &nested) == nil:
			rerr.Code = nested.Code
			rerr.Message = nested.Message
		case sonic.Unmarshal(eb.Error, &text) == nil:
			rerr.Message = text
		}
	}
	return rerr
}
