package server

import (
	"encoding/json"
	stderrors "errors"
	"log"
	"net/http"

	"github.com/HexSleeves/buzz/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"detail": "..."}. Untagged errors are logged
// and hidden behind a generic message.
func writeError(w http.ResponseWriter, logger *log.Logger, err error) {
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind == errors.KindInternal {
		logger.Printf("⚠ Internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "An unexpected error occurred"})
		return
	}
	writeJSON(w, errors.HTTPStatus(e.Kind), map[string]string{"detail": e.Message()})
}

// decodeBody reads a JSON body. Malformed JSON is a validation error.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Newf(errors.KindValidation, "Invalid request body: %v", err)
	}
	return nil
}
