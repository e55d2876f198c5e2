package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devserve/internal/manifest"
)

func TestManifestHandler_Scenario(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "index.html", "<html>")
	writeTestFile(t, root, ".hidden/secret.txt", "secret")
	writeTestFile(t, root, "node_modules/pkg/file.js", "dep")
	writeTestFile(t, root, "src/app.js", "app")

	mtime := time.Unix(1_600_000_123, 0)
	if err := os.Chtimes(filepath.Join(root, "src", "app.js"), mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	ledger := createTestLedger(t)
	handler := NewManifestHandler(root, manifest.NewScanner(), ledger)

	req := httptest.NewRequest("GET", "/manifest", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var body map[string]map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode manifest: %v", err)
	}

	mtimes, ok := body["mtimes"]
	if !ok {
		t.Fatal("Expected mtimes field in response")
	}

	if len(mtimes) != 2 {
		t.Errorf("Expected 2 entries, got %d: %v", len(mtimes), mtimes)
	}

	if mtimes["src/app.js"] != mtime.Unix() {
		t.Errorf("Expected src/app.js mtime %d, got %d", mtime.Unix(), mtimes["src/app.js"])
	}

	if _, ok := mtimes["index.html"]; !ok {
		t.Error("Expected index.html in manifest")
	}

	records, err := ledger.Recent(0)
	if err != nil {
		t.Fatalf("Failed to read ledger: %v", err)
	}

	if len(records) != 1 || records[0].Files != 2 || records[0].Pruned != 2 {
		t.Errorf("Expected one ledger record with 2 files and 2 pruned, got %+v", records)
	}
}

func TestManifestHandler_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gone")
	ledger := createTestLedger(t)
	handler := NewManifestHandler(root, manifest.NewScanner(), ledger)

	req := httptest.NewRequest("GET", "/manifest", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, w.Code)
	}

	response := decodeResponse(t, w)
	if response.Success || response.Error == "" {
		t.Errorf("Expected error response, got %+v", response)
	}

	records, err := ledger.Recent(0)
	if err != nil {
		t.Fatalf("Failed to read ledger: %v", err)
	}

	if len(records) != 1 || records[0].Error == "" {
		t.Errorf("Expected failed scan in ledger, got %+v", records)
	}
}

func TestManifestHandler_WithoutLedger(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "a")
	handler := NewManifestHandler(root, manifest.NewScanner(), nil)

	req := httptest.NewRequest("GET", "/manifest", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
}

func TestManifestHandler_MethodNotAllowed(t *testing.T) {
	handler := NewManifestHandler(t.TempDir(), manifest.NewScanner(), nil)

	req := httptest.NewRequest("POST", "/manifest", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}
