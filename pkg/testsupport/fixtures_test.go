package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFixturePaths(t *testing.T) {
	if got, want := FixturePath("players", "ab.json"), filepath.Join("testdata", "players", "ab.json"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got, want := GoldenPath("out.json"), filepath.Join("testdata", "golden", "out.json"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestLoadFixture(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	testContent := []byte("test fixture content")

	if err := os.WriteFile(testFile, testContent, 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	result := LoadFixture(t, testFile)
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestSeedFile_CreatesParents(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.json")
	if err := os.WriteFile(src, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}

	dst := filepath.Join(tmpDir, "data", "ab", "abc.json")
	SeedFile(t, src, dst)

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("expected seeded file: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("unexpected seeded content %q", data)
	}
}

func TestCompareWithGolden(t *testing.T) {
	tmpDir := t.TempDir()
	goldenFile := filepath.Join(tmpDir, "golden", "test.golden")
	content := []byte("golden content")

	// first call creates the golden file
	CompareWithGolden(t, goldenFile, content)
	if _, err := os.Stat(goldenFile); err != nil {
		t.Fatalf("golden file should have been created: %v", err)
	}

	CompareWithGolden(t, goldenFile, content)
}

func TestMatchAttributes(t *testing.T) {
	data := []byte(`{"name":"ann","level":3,"jailed":true,"tags":["a"]}`)

	tests := []struct {
		name  string
		attrs map[string]any
		want  bool
	}{
		{"no filters", nil, true},
		{"string match", map[string]any{"name": "ann"}, true},
		{"int matches float", map[string]any{"level": 3}, true},
		{"bool mismatch", map[string]any{"jailed": false}, false},
		{"missing field", map[string]any{"world": "nether"}, false},
		{"slice match", map[string]any{"tags": []string{"a"}}, true},
		{"all must match", map[string]any{"name": "ann", "level": 4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchAttributes(data, tt.attrs)
			if err != nil {
				t.Fatalf("MatchAttributes() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
