package agent

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lzjever/infrawiz/internal/core"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes err as an error response. Errors without a code are
// reported as internal and their text is not exposed.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *core.AppError
	if !errors.As(err, &appErr) {
		appErr = core.NewAppError(core.ErrInternal, "internal error")
	}
	status := appErr.Code.HTTPStatus()
	// failures reported by the backend keep their status class
	if appErr.Code == core.ErrRequestFailed && appErr.Status >= 400 && appErr.Status < 500 {
		status = appErr.Status
	}
	WriteJSON(w, status, ErrorResponse{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
