package patients

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-intake/internal/intake"
)

// APIError is a backend failure that is not about individual fields.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("patients: API error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("patients: API error (status %d): %s", e.StatusCode, e.Message)
}

// errorBody covers the shapes the backend uses for failures: a field map
// under "errors", or a single string under "error" or "message".
type errorBody struct {
	Errors  json.RawMessage `json:"errors"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// decodeError normalizes an error response into either
// *intake.ValidationError or *APIError.
func decodeError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &APIError{StatusCode: status, Message: truncate(msg, 256)}
	}
	if fields := decodeFieldErrors(body.Errors); len(fields) > 0 {
		return &intake.ValidationError{Fields: fields}
	}
	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

// decodeFieldErrors accepts {"field": "msg"} and {"field": ["msg", ...]},
// keeping the first message per field.
func decodeFieldErrors(raw json.RawMessage) intake.FieldErrors {
	if len(raw) == 0 {
		return nil
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	out := intake.FieldErrors{}
	for field, value := range generic {
		var single string
		if err := json.Unmarshal(value, &single); err == nil {
			if single != "" {
				out[field] = single
			}
			continue
		}
		var many []string
		if err := json.Unmarshal(value, &many); err == nil && len(many) > 0 {
			out[field] = many[0]
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
