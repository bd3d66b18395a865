package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(parts ...string) string {
	return filepath.Join(append([]string{"testdata"}, parts...)...)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// SeedFile copies a fixture into dst, creating parent directories. File-backed
// repositories use it to start from a known data directory.
func SeedFile(t testing.TB, fixture, dst string) {
	t.Helper()

	data := LoadFixture(t, fixture)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", dst, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		t.Fatalf("failed to seed %s: %v", dst, err)
	}
}

// CompareWithGolden compares actual data with expected data from a golden file.
// If the golden file doesn't exist, it creates one with the actual data.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			writeGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

func writeGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}
