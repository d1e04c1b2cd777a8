package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/John-Robertt/clash2singbox/internal/model"
)

func WriteText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func WriteError(w http.ResponseWriter, status int, e model.AppError) {
	writeJSON(w, status, model.ErrorResponse{Error: e})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeDocument writes an already rendered JSON document.
func writeDocument(w http.ResponseWriter, body []byte, warnings int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Conversion-Warnings", strconv.Itoa(warnings))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
