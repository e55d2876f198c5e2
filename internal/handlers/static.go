package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"os"

	"devserve/internal/logging"
	"devserve/internal/metrics"
	"devserve/internal/namespace"

	"go.uber.org/zap"
)

// StaticHandler serves files from the merged namespace. Byte serving, MIME
// detection, conditional and range requests are left to http.ServeContent.
type StaticHandler struct {
	ns *namespace.Composer
}

func NewStaticHandler(ns *namespace.Composer) *StaticHandler {
	return &StaticHandler{
		ns: ns,
	}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, ok := h.ns.Resolve(r.URL.Path)
	if !ok {
		metrics.RecordResolution("")
		http.NotFound(w, r)
		return
	}
	metrics.RecordResolution(res.Mount.Name)

	if res.Redirect != "" {
		target := (&url.URL{Path: res.Redirect, RawQuery: r.URL.RawQuery}).String()
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusMovedPermanently)
		return
	}

	f, info, err := h.ns.Open(res)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Removed between Resolve and Open.
			http.NotFound(w, r)
			return
		}
		logging.WithContext(r.Context()).Error("failed to open file",
			zap.String("mount", res.Mount.Name),
			zap.String("file", res.File),
			zap.Error(err),
		)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
