package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// httpStatus maps a status code onto the HTTP status the binding answers with.
func httpStatus(code status.Code) int {
	switch code {
	case status.OK:
		return http.StatusOK
	case status.PartitionNotFound, status.KeyNotFound:
		return http.StatusNotFound
	case status.SizeMismatch, status.NotInitialized:
		return http.StatusConflict
	case status.PartitionFull:
		return http.StatusInsufficientStorage
	case status.InvalidArgument, status.OutOfRange:
		return http.StatusBadRequest
	case status.ReadOnly:
		return http.StatusForbidden
	case status.Unsupported:
		return http.StatusUnprocessableEntity
	case status.Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func setStatus(w http.ResponseWriter, code status.Code) {
	w.Header().Set(status.Header, strconv.Itoa(int(code)))
}

func (s *Server) respondJSON(w http.ResponseWriter, httpCode int, data any) {
	setStatus(w, status.OK)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", logging.Error(err))
	}
}

func (s *Server) respondNoContent(w http.ResponseWriter) {
	setStatus(w, status.OK)
	w.WriteHeader(http.StatusNoContent)
}

// respondError writes the JSON error body for err. Device and corruption
// details are logged; the client gets the sentinel message only.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := status.CodeOf(err)
	msg := err.Error()
	switch code {
	case status.IoError, status.Corrupt, status.TableCorrupt, status.Unknown:
		s.logger.Error("request failed", logging.String("method", r.Method), logging.Path(r.URL.Path), logging.Error(err))
		if sentinel := code.Err(); code != status.Unknown && sentinel != nil {
			msg = sentinel.Error()
		} else {
			msg = "internal error"
		}
	}

	var maxErr *http.MaxBytesError
	httpCode := httpStatus(code)
	if errors.As(err, &maxErr) {
		httpCode = http.StatusRequestEntityTooLarge
	}

	setStatus(w, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: int(code), Error: msg})
}
