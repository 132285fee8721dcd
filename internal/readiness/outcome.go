package readiness

import "net/http"

// Outcome is the result of a readiness evaluation. The zero value is not
// meaningful; construct with Ready, NotReady or NotReadyStatus.
type Outcome struct {
	ready  bool
	cause  string
	status int
}

// Ready returns the passing outcome.
func Ready() Outcome {
	return Outcome{ready: true, status: http.StatusOK}
}

// NotReady returns a failing outcome with the given cause and a 503 status.
func NotReady(cause string) Outcome {
	return NotReadyStatus(cause, http.StatusServiceUnavailable)
}

// NotReadyStatus returns a failing outcome with an explicit status code.
// Codes outside 400..599 are replaced with 503.
func NotReadyStatus(cause string, status int) Outcome {
	if cause == "" {
		cause = "not ready"
	}
	if status < 400 || status > 599 {
		status = http.StatusServiceUnavailable
	}
	return Outcome{cause: cause, status: status}
}

func (o Outcome) IsReady() bool { return o.ready }

// Cause is the human readable failure reason, empty when ready. A zero
// Outcome reports "not ready".
func (o Outcome) Cause() string {
	if !o.ready && o.cause == "" {
		return "not ready"
	}
	return o.cause
}

// StatusCode is 200 when ready, otherwise the failure status.
func (o Outcome) StatusCode() int {
	if o.ready {
		return http.StatusOK
	}
	if o.status == 0 {
		return http.StatusServiceUnavailable
	}
	return o.status
}

func (o Outcome) String() string {
	if o.ready {
		return "ready"
	}
	return "not ready: " + o.Cause()
}
