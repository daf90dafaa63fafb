package httputil

import (
	"encoding/json"
	"io"
	"net/http"
)

// MaxJSONBodySize is the maximum size for JSON request bodies (1MB).
const MaxJSONBodySize = 1 << 20

// DecodeJSON decodes JSON from the request body into the provided value,
// enforcing a maximum body size. If decoding fails, it writes an error
// response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	limited := io.LimitReader(r.Body, MaxJSONBodySize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		InvalidJSON(w, r, err)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
