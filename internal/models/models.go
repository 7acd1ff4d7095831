package models

import "time"

type AttemptResult string

const (
	AttemptAccepted    AttemptResult = "accepted"
	AttemptRejected    AttemptResult = "rejected"
	AttemptUnavailable AttemptResult = "unavailable"
	AttemptThrottled   AttemptResult = "throttled"
)

// Attempt is one authentication request as seen by the daemon. Passwords
// are never recorded.
type Attempt struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	RemoteIP  string        `json:"remote_ip"`
	Result    AttemptResult `json:"result"`
	Reason    *string       `json:"reason,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
