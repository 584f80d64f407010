package dispatch

import "encoding/json"

// Result is the outcome of handling one event. It encodes to the wire as a
// list of per-book records, a single advisory message, or false when nothing
// was done.
type Result struct {
	Records []string
	Message string
}

// Handled reports whether the event produced any visible outcome.
func (r *Result) Handled() bool {
	return r != nil && (r.Message != "" || len(r.Records) > 0)
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Message != "" {
		return json.Marshal(r.Message)
	}
	if len(r.Records) == 0 {
		return json.Marshal(false)
	}
	return json.Marshal(r.Records)
}
