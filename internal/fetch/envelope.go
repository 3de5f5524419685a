// File: internal/fetch/envelope.go
package fetch

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// TimestampLayout is ISO-8601 with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// ResponseEnvelope is the uniform result of one execution.
// Exactly one of Data and Error is meaningful, selected by Success.
type ResponseEnvelope struct {
	Success   bool
	Data      string
	Error     string
	Timestamp time.Time
}

// wireEnvelope fixes field order and presence on the wire.
type wireEnvelope struct {
	Success   bool    `json:"success"`
	Data      *string `json:"data,omitempty"`
	Error     *string `json:"error,omitempty"`
	Timestamp string  `json:"timestamp"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newSuccess(data string, now time.Time) ResponseEnvelope {
	return ResponseEnvelope{Success: true, Data: data, Timestamp: now}
}

func newFailure(err error, now time.Time) ResponseEnvelope {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return ResponseEnvelope{Success: false, Error: msg, Timestamp: now}
}

// Failed builds a failure envelope stamped with the current time, for
// callers that reject a request before it reaches a Proxy.
func Failed(err error) ResponseEnvelope {
	return newFailure(err, time.Now())
}

// FormattedTimestamp renders Timestamp the way it appears on the wire.
func (e ResponseEnvelope) FormattedTimestamp() string {
	return e.Timestamp.Format(TimestampLayout)
}

// MarshalJSON emits data only on success and error only on failure, so an
// empty response body still appears as "data": "".
func (e ResponseEnvelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{Success: e.Success, Timestamp: e.FormattedTimestamp()}
	if e.Success {
		data := e.Data
		w.Data = &data
	} else {
		msg := e.Error
		w.Error = &msg
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the wire form produced by MarshalJSON.
func (e *ResponseEnvelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := time.Parse(TimestampLayout, w.Timestamp)
	if err != nil {
		// Accept any RFC 3339 variant from other producers.
		ts, err = time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return err
		}
	}
	*e = ResponseEnvelope{Success: w.Success, Timestamp: ts}
	if w.Data != nil {
		e.Data = *w.Data
	}
	if w.Error != nil {
		e.Error = *w.Error
	}
	return nil
}
