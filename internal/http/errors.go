package http

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/janus/internal/observability/logger"
	"github.com/dropDatabas3/janus/internal/service"
)

// errorBody is the wire shape of every error response. Code and reason are
// stable; message is for humans and may change.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Reason  string `json:"reason,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	c := service.Classify(err)

	var body errorBody
	body.Error.Code = c.Code
	body.Error.Reason = c.Reason
	body.Error.Message = c.Err.Error()

	log := logger.From(r.Context())
	if c.Status >= 500 {
		log.Error("request failed", logger.String("code", c.Code), logger.Err(c.Err))
		// los detalles de errores internos no salen al wire
		body.Error.Message = "internal error"
	} else {
		log.Warn("request rejected", logger.String("code", c.Code), logger.Err(c.Err))
	}
	writeJSON(w, c.Status, body)
}
