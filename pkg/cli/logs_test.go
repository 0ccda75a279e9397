package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withTestProjectRoot(t *testing.T, dir string) {
	t.Helper()
	original := projectRoot
	projectRoot = dir
	t.Cleanup(func() { projectRoot = original })
}

func writeTargetLog(t *testing.T, dir, target string, lines []string) {
	t.Helper()
	logDir := filepath.Join(dir, ".poltergeist", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	content := strings.Join(lines, "\n") + "\n"
	path := filepath.Join(logDir, target+".log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestRunLogs_NoLogDirectoryWarnsWithoutError(t *testing.T) {
	tempDir := t.TempDir()
	withTestProjectRoot(t, tempDir)

	if err := runLogs("", false, 50); err != nil {
		t.Errorf("runLogs: %v", err)
	}
}

func TestRunLogs_SpecificTargetMissingIsAnError(t *testing.T) {
	tempDir := t.TempDir()
	withTestProjectRoot(t, tempDir)
	writeTargetLog(t, tempDir, "app", []string{"line one"})

	if err := runLogs("missing", false, 50); err == nil {
		t.Error("expected an error requesting logs for a target with no log file")
	}
}

func TestRunLogs_SpecificTargetSucceeds(t *testing.T) {
	tempDir := t.TempDir()
	withTestProjectRoot(t, tempDir)
	writeTargetLog(t, tempDir, "app", []string{"build started", "build finished"})

	if err := runLogs("app", false, 50); err != nil {
		t.Errorf("runLogs: %v", err)
	}
}

func TestRunLogs_AllTargetsWithNoLogFiles(t *testing.T) {
	tempDir := t.TempDir()
	withTestProjectRoot(t, tempDir)
	if err := os.MkdirAll(filepath.Join(tempDir, ".poltergeist", "logs"), 0755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}

	if err := runLogs("", false, 50); err != nil {
		t.Errorf("runLogs on an empty log directory: %v", err)
	}
}

func TestDisplayLogFile_PrintsTheTargetHeader(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "app.log")
	if err := os.WriteFile(logFile, []byte("one\ntwo\nthree\n"), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	if err := displayLogFile(logFile, 10, false); err != nil {
		t.Errorf("displayLogFile: %v", err)
	}
}

func TestReadLastNLines_TruncatesToTheTail(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "app.log")
	lines := []string{"one", "two", "three", "four", "five"}
	if err := os.WriteFile(logFile, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	content, err := readLastNLines(logFile, 2)
	if err != nil {
		t.Fatalf("readLastNLines: %v", err)
	}
	if !strings.Contains(content, "four") || !strings.Contains(content, "five") {
		t.Errorf("expected the last two lines, got %q", content)
	}
	if strings.Contains(content, "one") {
		t.Errorf("did not expect an earlier line in the tail, got %q", content)
	}
}

func TestReadLastNLines_RequestingMoreThanAvailableReturnsEverything(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "app.log")
	if err := os.WriteFile(logFile, []byte("only line\n"), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	content, err := readLastNLines(logFile, 50)
	if err != nil {
		t.Fatalf("readLastNLines: %v", err)
	}
	if strings.TrimSpace(content) != "only line" {
		t.Errorf("content = %q, want %q", content, "only line")
	}
}

func TestReadLastNLines_NonexistentFile(t *testing.T) {
	if _, err := readLastNLines(filepath.Join(t.TempDir(), "missing.log"), 10); err == nil {
		t.Error("expected an error reading a nonexistent log file")
	}
}
