package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetState() {
	CloseAll()
	logsDir = ""
	opts = Options{}
}

func TestDisabledIsSilent(t *testing.T) {
	defer resetState()
	dir := t.TempDir()

	if err := Initialize(dir, Options{DebugMode: false}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Router("this should go nowhere")
	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

func TestCategoryFileCreated(t *testing.T) {
	defer resetState()
	dir := t.TempDir()

	err := Initialize(dir, Options{DebugMode: true, Level: "debug"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Router("decision: tier=%s", "local")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_router.log") {
			found = true
			data, _ := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
			if !strings.Contains(string(data), "tier=local") {
				t.Error("router log missing expected entry")
			}
		}
	}
	if !found {
		t.Error("no router log file created")
	}
}

func TestCategoryFilter(t *testing.T) {
	defer resetState()
	dir := t.TempDir()

	err := Initialize(dir, Options{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"store": false},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if IsCategoryEnabled(CategoryStore) {
		t.Error("store category should be disabled")
	}
	if !IsCategoryEnabled(CategoryRouter) {
		t.Error("unlisted categories default to enabled")
	}
}

func TestLevelFilter(t *testing.T) {
	defer resetState()
	dir := t.TempDir()

	if err := Initialize(dir, Options{DebugMode: true, Level: "warn"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	l := Get(CategoryHealth)
	l.Info("hidden")
	l.Warn("visible")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_health.log") {
			data, _ := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
			if strings.Contains(string(data), "hidden") {
				t.Error("info entry should be filtered at warn level")
			}
			if !strings.Contains(string(data), "visible") {
				t.Error("warn entry missing")
			}
		}
	}
}
