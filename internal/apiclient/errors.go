package apiclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lzjever/infrawiz/internal/core"
)

// errorBody covers the error shapes the backend uses.
type errorBody struct {
	Error   string          `json:"error"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// serverMessage picks the most specific message from an error body.
func serverMessage(b []byte) string {
	var eb errorBody
	if err := json.Unmarshal(b, &eb); err != nil {
		return ""
	}
	for _, m := range []string{eb.Error, eb.Msg, eb.Message} {
		if s := strings.TrimSpace(m); s != "" {
			return s
		}
	}
	if len(eb.Details) > 0 {
		var s string
		if err := json.Unmarshal(eb.Details, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var list []string
		if err := json.Unmarshal(eb.Details, &list); err == nil {
			return strings.Join(list, "; ")
		}
	}
	return ""
}

// classify maps an HTTP error response onto the client error taxonomy.
func classify(status int, body []byte) *core.AppError {
	msg := serverMessage(body)
	switch {
	case status == http.StatusUnauthorized:
		return &core.AppError{Code: core.ErrSessionExpired, Message: core.MsgSessionExpired, Status: status}
	case status == http.StatusInternalServerError:
		return &core.AppError{Code: core.ErrServer, Message: core.MsgServerError, Status: status}
	case status == http.StatusConflict:
		if msg == "" {
			msg = "The workspace was changed elsewhere. Reload it and try again."
		}
		return &core.AppError{Code: core.ErrConflict, Message: msg, Status: status}
	case status == http.StatusNotFound:
		if msg == "" {
			msg = "Not found."
		}
		return &core.AppError{Code: core.ErrNotFound, Message: msg, Status: status}
	default:
		if msg == "" {
			msg = core.MsgGenericFailure
		}
		return &core.AppError{Code: core.ErrRequestFailed, Message: msg, Status: status}
	}
}

// retryable reports whether a failed idempotent request may be repeated.
func retryable(err error) bool {
	var appErr *core.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	if appErr.Code == core.ErrUnreachable {
		return true
	}
	switch appErr.Status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
