package runner

import "fmt"

// Reason classifies an outcome. ReasonNone means the attempt succeeded.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTimeout
	ReasonConnection
	ReasonUnexpectedStatus
	ReasonInvalidResponse
	ReasonCancelled
	ReasonOther
)

var reasonNames = map[Reason]string{
	ReasonNone:             "success",
	ReasonTimeout:          "timeout",
	ReasonConnection:       "connection",
	ReasonUnexpectedStatus: "unexpected_status",
	ReasonInvalidResponse:  "invalid_response",
	ReasonCancelled:        "cancelled",
	ReasonOther:            "other",
}

// Reasons lists every failure reason in display order.
var Reasons = []Reason{
	ReasonTimeout,
	ReasonConnection,
	ReasonUnexpectedStatus,
	ReasonInvalidResponse,
	ReasonCancelled,
	ReasonOther,
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	for k, v := range reasonNames {
		if v == string(b) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown reason %q", string(b))
}
