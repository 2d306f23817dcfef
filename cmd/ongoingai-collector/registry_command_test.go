package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ongoingai/collector/internal/callsite"
	"github.com/ongoingai/collector/internal/store"
)

func seedRegistry(t *testing.T, folder string) {
	t.Helper()

	files := store.NewFileStore(nil)
	updates := []struct {
		loc callsite.Location
		tag string
	}{
		{loc: callsite.Location{File: "/app/chat.go", LineNumber: "42"}, tag: "chat"},
		{loc: callsite.Location{File: "/app/chat.go", LineNumber: "42"}, tag: "chat"},
		{loc: callsite.Location{File: "/app/summary.go", LineNumber: "7"}, tag: "untagged"},
	}
	for _, u := range updates {
		if err := files.UpdateRegistry(context.Background(), folder, u.loc, u.tag); err != nil {
			t.Fatalf("UpdateRegistry() error: %v", err)
		}
	}
}

func TestRegistryJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
collector:
  data_folder: data
`)
	seedRegistry(t, filepath.Join(dir, "data"))

	code, out, errOut := runCommand("registry", "--config", path, "--format", "json")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%q, want 0", code, errOut)
	}
	var doc registryDocument
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode registry output: %v", err)
	}
	if doc.DataFolder != filepath.Join(dir, "data") {
		t.Fatalf("data_folder=%q, want %q", doc.DataFolder, filepath.Join(dir, "data"))
	}
	if doc.TotalCalls != 3 || len(doc.CallSites) != 2 {
		t.Fatalf("total=%d sites=%d, want 3 calls across 2 sites", doc.TotalCalls, len(doc.CallSites))
	}
	first := doc.CallSites[0]
	if first.File != "/app/chat.go" || first.LineNumber != "42" || first.Count != 2 || first.Tag != "chat" {
		t.Fatalf("first call site=%+v, want /app/chat.go:42 count 2 tag chat", first)
	}
}

func TestRegistryTextWithTagFilterAndDataFolderOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
collector:
  data_folder: unused
`)
	other := filepath.Join(dir, "elsewhere")
	seedRegistry(t, other)

	code, out, errOut := runCommand("registry", "--config", path, "--data-folder", other, "--tag", "untagged")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%q, want 0", code, errOut)
	}
	if !strings.Contains(out, "Data folder: "+other) {
		t.Fatalf("output missing overridden data folder:\n%s", out)
	}
	if !strings.Contains(out, "Call sites: 1 (1 calls)") {
		t.Fatalf("output missing filtered summary:\n%s", out)
	}
	if !strings.Contains(out, "/app/summary.go:7") || strings.Contains(out, "/app/chat.go") {
		t.Fatalf("tag filter not applied:\n%s", out)
	}
}

func TestRegistryEmptyFolder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
collector:
  data_folder: data
`)

	code, out, errOut := runCommand("registry", "--config", path)
	if code != 0 {
		t.Fatalf("exit=%d stderr=%q, want 0", code, errOut)
	}
	if !strings.Contains(out, "Call sites: 0 (0 calls)") {
		t.Fatalf("output=%q, want empty summary", out)
	}
}
