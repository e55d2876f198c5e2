package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"devserve/internal/logging"
	"devserve/internal/manifest"
	"devserve/internal/metrics"
	"devserve/internal/storage"
	"devserve/pkg/types"

	"go.uber.org/zap"
)

// ManifestHandler serves GET /manifest: a fresh scan of the primary root on
// every request.
type ManifestHandler struct {
	root    string
	scanner *manifest.Scanner
	ledger  *storage.ScanLedger
}

// NewManifestHandler creates the handler. ledger may be nil.
func NewManifestHandler(root string, scanner *manifest.Scanner, ledger *storage.ScanLedger) *ManifestHandler {
	return &ManifestHandler{
		root:    root,
		scanner: scanner,
		ledger:  ledger,
	}
}

func (h *ManifestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	logger := logging.WithContext(r.Context())
	started := time.Now()
	report, err := h.scanner.Run(r.Context(), h.root)
	h.record(r, started, report, err)

	if err != nil {
		logger.Error("manifest scan failed", zap.String("root", h.root), zap.Error(err))
		var scanErr *manifest.ScanError
		if errors.As(err, &scanErr) {
			sendError(w, http.StatusInternalServerError, "Failed to scan root: "+err.Error())
		} else {
			// The client went away or the scan was cancelled.
			sendError(w, http.StatusServiceUnavailable, "Scan aborted: "+err.Error())
		}
		return
	}

	logger.Debug("manifest scanned",
		zap.String("root", report.Root),
		zap.Int("files", len(report.Manifest)),
		zap.Int("pruned", report.Pruned),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	json.NewEncoder(w).Encode(types.ManifestResponse{Mtimes: report.Manifest})
}

func (h *ManifestHandler) record(r *http.Request, started time.Time, report *manifest.Report, scanErr error) {
	rec := &types.ScanRecord{
		Root:      h.root,
		StartedAt: started,
		Duration:  time.Since(started),
		RequestID: logging.RequestID(r.Context()),
	}
	if scanErr != nil {
		rec.Error = scanErr.Error()
	} else {
		rec.Root = report.Root
		rec.Duration = report.Duration
		rec.Files = len(report.Manifest)
		rec.Pruned = report.Pruned
		rec.Skipped = report.Skipped
	}

	metrics.RecordScan(rec.Duration, rec.Files, rec.Skipped, scanErr == nil)

	if h.ledger == nil {
		return
	}
	if err := h.ledger.Record(rec); err != nil {
		logging.WithContext(r.Context()).Warn("failed to record scan", zap.Error(err))
	}
}
