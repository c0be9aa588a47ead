package workflow

import (
	"encoding/json"
	"fmt"
)

// Driver response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// DriverResponse is what a driver hands back to the kernel. The kernel only
// reads Status, Output, Final, State, Route, Parallel, HadError and Error;
// everything else a driver wants to report (match counts, iteration totals,
// tool call logs) travels in Extras and is flattened into the JSON object.
//
// Output and Final are presence-sensitive: an explicit nil still counts as
// a write. Use SetOutput/SetFinal when the value may legitimately be nil.
type DriverResponse struct {
	Status    string
	Output    interface{}
	Final     interface{}
	State     map[string]interface{}
	Route     string
	Parallel  bool
	Error     string
	HadError  bool
	ErrorType string
	Extras    map[string]interface{}

	outputSet bool
	finalSet  bool
}

// OKResponse builds a success response carrying an output value.
func OKResponse(output interface{}) DriverResponse {
	r := DriverResponse{Status: StatusOK}
	r.SetOutput(output)
	return r
}

// ErrorResponse builds an error response with a formatted message.
func ErrorResponse(format string, args ...interface{}) DriverResponse {
	return DriverResponse{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// SetOutput records an output value, marking the key present even for nil.
func (r *DriverResponse) SetOutput(v interface{}) {
	r.Output = v
	r.outputSet = true
}

// SetFinal records a final value, marking the key present even for nil.
func (r *DriverResponse) SetFinal(v interface{}) {
	r.Final = v
	r.finalSet = true
}

// HasOutput reports whether the response carries an output key.
func (r *DriverResponse) HasOutput() bool {
	return r.outputSet || r.Output != nil
}

// HasFinal reports whether the response carries a final key.
func (r *DriverResponse) HasFinal() bool {
	return r.finalSet || r.Final != nil
}

// WithExtra attaches a driver-specific key and returns the response for
// chaining.
func (r DriverResponse) WithExtra(key string, v interface{}) DriverResponse {
	if r.Extras == nil {
		r.Extras = make(map[string]interface{})
	}
	r.Extras[key] = v
	return r
}

// Extra reads a driver-specific key.
func (r *DriverResponse) Extra(key string) (interface{}, bool) {
	v, ok := r.Extras[key]
	return v, ok
}

var responseKeys = map[string]bool{
	"status":     true,
	"output":     true,
	"final":      true,
	"state":      true,
	"route":      true,
	"parallel":   true,
	"error":      true,
	"had_error":  true,
	"error_type": true,
}

// MarshalJSON flattens Extras into the top-level object alongside the
// known keys. Output and final appear whenever they were set, even as null.
func (r DriverResponse) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Extras)+9)
	for k, v := range r.Extras {
		if responseKeys[k] {
			continue
		}
		m[k] = v
	}
	m["status"] = r.Status
	if r.HasOutput() {
		m["output"] = r.Output
	}
	if r.HasFinal() {
		m["final"] = r.Final
	}
	if r.State != nil {
		m["state"] = r.State
	}
	if r.Route != "" {
		m["route"] = r.Route
	}
	if r.Parallel {
		m["parallel"] = r.Parallel
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.HadError {
		m["had_error"] = r.HadError
	}
	if r.ErrorType != "" {
		m["error_type"] = r.ErrorType
	}
	return json.Marshal(m)
}

// UnmarshalJSON restores the known keys (tracking output/final presence)
// and collects the rest into Extras.
func (r *DriverResponse) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = DriverResponse{}
	for k, v := range raw {
		var err error
		switch k {
		case "status":
			err = json.Unmarshal(v, &r.Status)
		case "output":
			err = json.Unmarshal(v, &r.Output)
			r.outputSet = true
		case "final":
			err = json.Unmarshal(v, &r.Final)
			r.finalSet = true
		case "state":
			err = json.Unmarshal(v, &r.State)
		case "route":
			err = json.Unmarshal(v, &r.Route)
		case "parallel":
			err = json.Unmarshal(v, &r.Parallel)
		case "error":
			err = json.Unmarshal(v, &r.Error)
		case "had_error":
			err = json.Unmarshal(v, &r.HadError)
		case "error_type":
			err = json.Unmarshal(v, &r.ErrorType)
		default:
			var val interface{}
			if err = json.Unmarshal(v, &val); err == nil {
				if r.Extras == nil {
					r.Extras = make(map[string]interface{})
				}
				r.Extras[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("decode driver response key %q: %w", k, err)
		}
	}
	return nil
}
