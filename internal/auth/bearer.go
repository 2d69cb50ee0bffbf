package auth

import (
	"net/http"
	"strings"
)

// BearerToken extracts the credential from the Authorization header, falling
// back to the "token" query parameter for browser WebSocket clients.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
