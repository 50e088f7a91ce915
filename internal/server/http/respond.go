package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/and161185/kanban-keeper/internal/errs"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errorBody is the JSON error envelope.
type errorBody struct {
	Error  string       `json:"error"`
	Code   string       `json:"code,omitempty"`
	Issues []errs.Issue `json:"issues,omitempty"`
}

type successBody struct {
	Success bool `json:"success"`
}

var okBody = successBody{Success: true}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its status and envelope. Internal errors are
// logged and answered without detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	e := errs.As(err)
	body := errorBody{Error: e.Message, Code: e.Kind.Code(), Issues: e.Issues}
	if e.Kind == errs.KindInternal {
		log.Error("request failed", zap.Error(err))
		body.Error = "internal error"
	}
	writeJSON(w, e.Kind.Status(), body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errs.Validation("invalid request body", errs.Issue{Path: "body", Message: err.Error()})
	}
	return nil
}

// pathID parses the named route variable as a UUID.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.FromString(mux.Vars(r)[name])
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.Validation("invalid "+name, errs.Issue{Path: name, Message: "must be a UUID"})
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation("invalid "+name, errs.Issue{Path: name, Message: "must be an integer"})
	}
	return n, nil
}
