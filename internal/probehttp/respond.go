package probehttp

import (
	"net/http"

	"github.com/keithlinneman/kprobe/internal/readiness"
)

const okBody = "Ok"

// writeOutcome writes the probe response contract: text/plain, "Ok" on
// success, the cause verbatim with the outcome's status on failure.
func writeOutcome(w http.ResponseWriter, o readiness.Outcome) {
	h := w.Header()
	h.Set("Content-Type", "text/plain")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(o.StatusCode())
	if o.IsReady() {
		_, _ = w.Write([]byte(okBody))
		return
	}
	_, _ = w.Write([]byte(o.Cause()))
}
