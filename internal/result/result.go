// Package result provides the uniform outcome value returned by every
// network operation in the console client. Failures are carried as
// values, never as panics or raw errors, so callers always branch on a
// status code from a single taxonomy.
package result

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Status codes. HTTP-range codes are passed through from the backend;
// the 6xx range is produced locally and never originates from a server.
const (
	CodeSuccess      = 200
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500

	// CodeTimeout marks a connect/handshake that did not settle in time.
	CodeTimeout = 601
	// CodeConnectionError marks a local transport failure (network
	// unreachable, dial aborted).
	CodeConnectionError = 602
)

// ErrMalformedPayload reports a handshake or response payload that does
// not carry a status code.
var ErrMalformedPayload = errors.New("result: payload has no code field")

// Result is the uniform outcome of a network operation. Treat values as
// immutable once constructed.
type Result struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// New builds a result with a code and message and no payload.
func New(code int, message string) Result {
	return Result{Code: code, Message: message}
}

// Ok builds a success result.
func Ok(message string) Result {
	return Result{Code: CodeSuccess, Message: message}
}

// Timeout builds the local timeout result.
func Timeout(message string) Result {
	return Result{Code: CodeTimeout, Message: message}
}

// ConnectionError builds the local transport failure result.
func ConnectionError(message string) Result {
	return Result{Code: CodeConnectionError, Message: message}
}

// WithData attaches a JSON payload, returning a copy.
func (r Result) WithData(data json.RawMessage) Result {
	r.Data = data
	return r
}

// FromJSON decodes a server payload into a Result. Missing fields decode
// to their zero values; use FromJSONStrict where an absent code must be
// treated as a protocol violation.
func FromJSON(raw []byte) Result {
	r := Result{
		Code:    int(gjson.GetBytes(raw, "code").Int()),
		Message: gjson.GetBytes(raw, "message").String(),
	}
	if data := gjson.GetBytes(raw, "data"); data.Exists() {
		r.Data = json.RawMessage(data.Raw)
	}
	return r
}

// FromJSONStrict decodes a server payload and rejects payloads that do
// not carry a code field.
func FromJSONStrict(raw []byte) (Result, error) {
	if !gjson.GetBytes(raw, "code").Exists() {
		return Result{}, fmt.Errorf("%w: %s", ErrMalformedPayload, truncate(raw, 128))
	}
	return FromJSON(raw), nil
}

// IsSuccess reports whether the operation succeeded.
func (r Result) IsSuccess() bool {
	return r.Code == CodeSuccess
}

// IsClientError reports a 4xx outcome.
func (r Result) IsClientError() bool {
	return r.Code >= 400 && r.Code < 500
}

// IsServerError reports a 5xx outcome.
func (r Result) IsServerError() bool {
	return r.Code >= 500 && r.Code < 600
}

// IsConnectionError reports a locally produced 6xx outcome: the request
// never completed a round trip.
func (r Result) IsConnectionError() bool {
	return r.Code == CodeTimeout || r.Code == CodeConnectionError
}

// String renders the result for logs.
func (r Result) String() string {
	if r.Message == "" {
		return fmt.Sprintf("result(%d)", r.Code)
	}
	return fmt.Sprintf("result(%d, %s)", r.Code, r.Message)
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
