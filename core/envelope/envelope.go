// Package envelope builds the uniform JSON response envelope of the gateway.
//
// Every response, success or failure, carries the same outer shape so that
// clients can branch on the "success" flag alone:
//
//	{"success": true, "data": ..., "message": "...", "code": 200}
//	{"success": false, "error": {"message": "...", "code": 404}}
//
// The code inside the body doubles as the HTTP status of the response.
package envelope

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ormgate-tech/ormgate/core/logger"
)

// ErrorBody is the error payload of a failed envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Envelope is the uniform response shape of the API.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    int         `json:"code,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// Success returns a successful envelope carrying data.
func Success(data interface{}, message string, code int) Envelope {
	return Envelope{
		Success: true,
		Data:    data,
		Message: message,
		Code:    code,
	}
}

// Error returns a failed envelope.
func Error(message string, code int) Envelope {
	return Envelope{
		Success: false,
		Error:   &ErrorBody{Message: message, Code: code},
	}
}

// Status returns the HTTP status the envelope should be written with.
func (e Envelope) Status() int {
	if e.Success {
		if e.Code == 0 {
			return http.StatusOK
		}
		return e.Code
	}
	if e.Error == nil || e.Error.Code == 0 {
		return http.StatusBadRequest
	}
	return e.Error.Code
}

// Write writes the envelope as JSON, with the envelope's code as HTTP status.
func Write(w http.ResponseWriter, e Envelope) {
	body, err := json.Marshal(e)
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot marshal response envelope")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	w.Write(body)
}
