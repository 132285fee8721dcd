package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/kprobe/internal/backends"
	"github.com/keithlinneman/kprobe/internal/httpmw"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/version"
)

// HostCacheName selects the backends-file cache used by the /kv routes.
// Without one a process-local memory cache is used.
const HostCacheName = "app"

// HostRoutes mounts the sample application served behind the probe
// interceptor: a build info document and a small key/value API over a
// cache backend.
func HostRoutes(caches *backends.Caches, info version.Info) (func(chi.Router), backends.Cache) {
	cache, ok := caches.Get(HostCacheName)
	if !ok {
		cache = backends.NewMemory()
	}
	kv := &kvHandler{cache: cache}

	return func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"service": "kprobe",
				"version": info.Version,
				"commit":  info.Commit,
			})
		})
		r.Route("/kv", func(r chi.Router) {
			r.Use(httpmw.Scope("kv"))
			r.Get("/{key}", kv.get)
			r.Put("/{key}", kv.put)
			r.Delete("/{key}", kv.delete)
		})
	}, cache
}

type kvHandler struct {
	cache backends.Cache
}

func (h *kvHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, ok, err := h.cache.Get(ctx, chi.URLParam(r, "key"))
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "cache get")
		http.Error(w, "cache unavailable", http.StatusBadGateway)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(v)
}

const defaultKVTTL = time.Hour

// put stores the body; ?ttl=30s overrides the one hour expiry.
func (h *kvHandler) put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ttl := defaultKVTTL
	if s := r.URL.Query().Get("ttl"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
		ttl = d
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if err := h.cache.Set(ctx, chi.URLParam(r, "key"), body, ttl); err != nil {
		log.FromContext(ctx).Error(ctx, err, "cache set")
		http.Error(w, "cache unavailable", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *kvHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.cache.Delete(ctx, chi.URLParam(r, "key")); err != nil {
		log.FromContext(ctx).Error(ctx, err, "cache delete")
		http.Error(w, "cache unavailable", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
