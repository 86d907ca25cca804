// Package api contains the REST handlers. The live path is the websocket;
// these endpoints exist for history, catch-up after offline stretches, and
// anything a client wants to do without a socket.
package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// partnerOf returns the other invited identity, or "" if the identity is
// not part of the pair.
func partnerOf(pair []string, identity string) string {
	for i, id := range pair {
		if id == identity {
			return pair[(i+1)%len(pair)]
		}
	}
	return ""
}
