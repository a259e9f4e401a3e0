package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with timeouts suited to the voting flow: reads are
// small JSON bodies, but responses may wait on verifier or ledger round-trips.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}
}
