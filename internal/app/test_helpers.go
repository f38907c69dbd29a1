package app

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vk/flowgrad/internal/op"
)

// SafeBuffer is a thread-safe buffer for capturing output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// WriteGraphFile writes src to a fresh graph file and returns its path.
func WriteGraphFile(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.hcl")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatalf("failed to write graph file: %v", err)
	}
	return path
}

// SetupAppTest creates an app for src with debug logging captured in the
// returned buffer. Set FLOWGRAD_TEST_LOGS=true to print it after the test.
func SetupAppTest(t *testing.T, src string, cfg Config, registry *op.Registry) (*App, *SafeBuffer) {
	t.Helper()

	cfg.GraphPath = WriteGraphFile(t, src)
	cfg.LogLevel = "debug"
	buf := &SafeBuffer{}
	testApp := NewApp(buf, &cfg, registry)

	t.Cleanup(func() {
		if os.Getenv("FLOWGRAD_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
	return testApp, buf
}
