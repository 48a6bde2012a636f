package fetch

import "fmt"

// Kind tags an Outcome. Only Success and PermanentSkip are terminal.
type Kind int

const (
	Transient Kind = iota
	Success
	PermanentSkip
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case PermanentSkip:
		return "permanent_skip"
	default:
		return "transient"
	}
}

// Reason says why an outcome has its kind. It is what the metrics and the
// logs group by.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonAbsent           Reason = "absent"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonServerError      Reason = "server_error"
	ReasonUnexpectedStatus Reason = "unexpected_status"
	ReasonTransport        Reason = "transport"
	ReasonContentShape     Reason = "content_shape"
	ReasonSink             Reason = "sink"
	ReasonCanceled         Reason = "canceled"
)

// Outcome is the result of one Fetch. Failures travel here, never as errors.
type Outcome struct {
	URL      string
	Kind     Kind
	Reason   Reason
	Status   int    // last HTTP status seen, 0 if none
	Attempts int    // transport attempts used
	Title    string // set on Success
	Artifact string // path written on Success
	Err      error  // last underlying error, for logging
}

func (o Outcome) Terminal() bool {
	return o.Kind == Success || o.Kind == PermanentSkip
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s (%s, status %d): %v", o.Kind, o.URL, o.Reason, o.Status, o.Err)
	}
	return fmt.Sprintf("%s %s (%s, status %d)", o.Kind, o.URL, o.Reason, o.Status)
}
