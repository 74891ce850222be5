// Package testutils holds assertion and fixture helpers shared by tests.
package testutils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestHelper bundles a test with a logger whose output is kept in memory.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTestHelper creates a helper with a debug-level logger writing to an
// in-memory buffer.
func NewTestHelper(t *testing.T) *TestHelper {
	h := &TestHelper{T: t}
	h.Logger = logrus.New()
	h.Logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	h.Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	h.Logger.SetOutput(lockedWriter{h})
	return h
}

type lockedWriter struct{ h *TestHelper }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.h.mu.Lock()
	defer w.h.mu.Unlock()
	return w.h.buf.Write(p)
}

// Logs returns everything logged so far.
func (h *TestHelper) Logs() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

// WriteFile writes content to name inside a per-test temporary directory
// and returns the full path.
func (h *TestHelper) WriteFile(name, content string) string {
	h.T.Helper()
	path := filepath.Join(h.T.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		h.T.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// ReadProjectFile reads a file relative to the module root.
func ReadProjectFile(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	// Navigate up to find the project root (look for go.mod file)
	root := wd
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(root)
		if parent == root {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		root = parent
	}

	fullPath := filepath.Join(root, relPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}
	return string(data), nil
}
