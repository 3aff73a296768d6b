package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"inferd/internal/errs"
	"inferd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// errorBody maps err to the status and envelope body clients see.
func errorBody(err error) (int, types.ErrorBody) {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.StatusCode(), types.ErrorBody{Message: e.Error(), Type: e.Kind.Type(), Code: e.Code()}
	}
	if errs.IsCancellation(err) {
		k := errs.KindCancelled
		return k.Status(), types.ErrorBody{Message: "request cancelled", Type: k.Type(), Code: k.String()}
	}
	var he HTTPError
	if errors.As(err, &he) {
		typ := "server_error"
		if he.StatusCode() < 500 {
			typ = "invalid_request_error"
		}
		return he.StatusCode(), types.ErrorBody{Message: he.Error(), Type: typ, Code: http.StatusText(he.StatusCode())}
	}
	return http.StatusInternalServerError, types.ErrorBody{Message: err.Error(), Type: "server_error", Code: errs.KindUnknown.String()}
}

// writeJSONError writes err as a non-streamed error envelope.
func writeJSONError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: body})
}
