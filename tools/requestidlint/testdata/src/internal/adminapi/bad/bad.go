package adminapi

import "net/http"

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusServiceUnavailable) // want "use writeError helper to ensure X-Request-ID header is set instead of calling WriteHeader directly"
}

func handleLegacy(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "boom", http.StatusInternalServerError) // want "use writeError helper to ensure X-Request-ID header is set instead of http.Error"
}
