package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteMediaFixture creates a stand-in media file of the given size. The
// payload starts with a recognizable marker and then repeats bytes derived
// from the file name, so two fixtures with different names never compare
// equal. A size <= 0 still produces a non-empty file.
func WriteMediaFixture(t testing.TB, path string, size int64) {
	t.Helper()

	marker := []byte("FAKEMEDIA:" + filepath.Base(path) + "\n")
	if size < int64(len(marker)) {
		size = int64(len(marker))
	}

	payload := make([]byte, size)
	copy(payload, marker)
	var seed byte
	for _, c := range filepath.Base(path) {
		seed += byte(c)
	}
	for i := int64(len(marker)); i < size; i++ {
		payload[i] = seed + byte(i%251)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
