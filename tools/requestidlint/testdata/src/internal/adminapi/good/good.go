package adminapi

import "net/http"

func writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
}

func handlePing(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusServiceUnavailable, nil)
}
