package httpmw

import (
	"net/http"

	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Recover turns a handler panic into a 500 and an error log with the stack.
// onPanic, if set, runs after logging (e.g. to count panics).
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				err := xerrors.Newf("panic: %v", rec)
				L.Error(ctx, err, "http handler panic",
					"request_id", RequestIDFromContext(ctx),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
