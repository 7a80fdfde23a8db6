package jobclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPError is returned for non-2xx responses. Message is taken from the
// {"success":false,"code":...,"error":...} envelope when the body has one.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, msg)
}

// HTTPStatus exposes the status code to retry.DefaultRetryable.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

func newHTTPError(status int, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: status}

	var envelope struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		e.Code = envelope.Code
		e.Message = envelope.Error
		if e.Message == "" {
			e.Message = envelope.Message
		}
		return e
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	e.Message = text
	return e
}
