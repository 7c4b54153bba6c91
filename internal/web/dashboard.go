package web

import (
	"embed"
	"net/http"
)

//go:embed static/dashboard.html
var assets embed.FS

// ServeDashboard serves the embedded dashboard page
func ServeDashboard(w http.ResponseWriter, r *http.Request) {
	page, err := assets.ReadFile("static/dashboard.html")
	if err != nil {
		http.Error(w, "Dashboard unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'; connect-src 'self'")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}
