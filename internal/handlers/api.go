package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"devserve/internal/namespace"
	"devserve/internal/storage"
	"devserve/pkg/types"
)

const defaultScanLimit = 20

// APIHandler serves the read-only JSON API under /api/.
type APIHandler struct {
	ns     *namespace.Composer
	ledger *storage.ScanLedger
}

// NewAPIHandler creates the handler. ledger may be nil.
func NewAPIHandler(ns *namespace.Composer, ledger *storage.ScanLedger) *APIHandler {
	return &APIHandler{
		ns:     ns,
		ledger: ledger,
	}
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ScanListResponse struct {
	Scans []types.ScanRecord `json:"scans"`
	Total int                `json:"total"`
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch strings.Trim(r.URL.Path, "/") {
	case "api/mounts":
		h.handleMounts(w, r)
	case "api/resolve":
		h.handleResolve(w, r)
	case "api/scans":
		h.handleScans(w, r)
	default:
		sendError(w, http.StatusNotFound, "Invalid API endpoint")
	}
}

// GET /api/mounts - the mount table in resolution order
func (h *APIHandler) handleMounts(w http.ResponseWriter, r *http.Request) {
	mounts := h.ns.Mounts()
	infos := make([]types.MountInfo, 0, len(mounts))
	for _, m := range mounts {
		infos = append(infos, types.MountInfo{
			Name:   m.Name,
			Root:   m.Root,
			Prefix: m.Prefix,
			Rank:   m.Rank,
			Exists: h.ns.Exists(m.Name),
		})
	}

	sendSuccess(w, http.StatusOK, "Mounts retrieved successfully", infos)
}

// GET /api/resolve?path=/app.js - which mount answers a logical path
func (h *APIHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		sendError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	info := types.ResolveInfo{Path: namespace.CleanPath(p)}
	res, ok := h.ns.Resolve(p)
	if !ok {
		// Not found is an answer, not an error.
		sendSuccess(w, http.StatusOK, "Path not found in any mount", info)
		return
	}

	info.Found = true
	info.Mount = res.Mount.Name
	info.File = res.File
	info.Redirect = res.Redirect
	sendSuccess(w, http.StatusOK, "Path resolved", info)
}

// GET /api/scans?limit=N - recent manifest scans, newest first
func (h *APIHandler) handleScans(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		sendError(w, http.StatusNotFound, "Scan ledger is disabled")
		return
	}

	limit := defaultScanLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	scans, err := h.ledger.Recent(limit)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to read scans: "+err.Error())
		return
	}
	total, err := h.ledger.Count()
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to count scans: "+err.Error())
		return
	}

	if scans == nil {
		scans = []types.ScanRecord{}
	}
	sendSuccess(w, http.StatusOK, "Scans retrieved successfully", ScanListResponse{Scans: scans, Total: total})
}

func sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
	json.NewEncoder(w).Encode(response)
}

func sendError(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   errorMsg,
	}
	json.NewEncoder(w).Encode(response)
}
