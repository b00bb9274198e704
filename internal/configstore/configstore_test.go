package configstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, slog.Default()), dir
}

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "opencode.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeEntityFile(t *testing.T, dir string, kind Kind, name, content string) {
	t.Helper()
	path := filepath.Join(dir, string(kind))
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, name+".md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readConfigFile(t *testing.T, dir string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "opencode.json"))
	if err != nil {
		t.Fatal(err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config not valid JSON: %v\n%s", err, data)
	}
	return cfg
}

func TestStripJSONComments(t *testing.T) {
	in := `{
  // line comment
  "model": "sonnet", /* block
  comment */ "url": "https://example.com/path", // trailing
  "escaped": "quote \" // not a comment"
}`
	out := StripJSONComments(in)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("stripped output not valid JSON: %v\n%s", err, out)
	}
	if parsed["url"] != "https://example.com/path" {
		t.Fatalf("url mangled: %v", parsed["url"])
	}
	if parsed["escaped"] != `quote " // not a comment` {
		t.Fatalf("string contents mangled: %v", parsed["escaped"])
	}
}

func TestReadConfigMissingAndEmpty(t *testing.T) {
	s, dir := newTestStore(t)

	cfg, err := s.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig missing file: %v", err)
	}
	if len(cfg) != 0 {
		t.Fatalf("expected empty config, got %v", cfg)
	}

	writeConfigFile(t, dir, "  // only comments\n")
	cfg, err = s.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig comment-only file: %v", err)
	}
	if len(cfg) != 0 {
		t.Fatalf("expected empty config, got %v", cfg)
	}
}

func TestWriteConfigCreatesBackup(t *testing.T) {
	s, dir := newTestStore(t)
	writeConfigFile(t, dir, `{"old": true}`)

	if err := s.WriteConfig(map[string]any{"new": true}); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}

	backup, err := os.ReadFile(filepath.Join(dir, "opencode.json.openchamber.backup"))
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if !strings.Contains(string(backup), "old") {
		t.Fatalf("backup should hold previous contents: %s", backup)
	}
}

func TestSourcesMarkdownAndJSON(t *testing.T) {
	s, dir := newTestStore(t)
	writeEntityFile(t, dir, KindAgent, "planner", "---\nmodel: sonnet\ntemperature: 0.2\n---\n\nYou plan things.")
	writeConfigFile(t, dir, `{"agent":{"planner":{"disable":false}}}`)

	src, err := s.Sources(KindAgent, "planner")
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if !src.MD.Exists || !src.JSON.Exists || src.Builtin {
		t.Fatalf("unexpected provenance: %+v", src)
	}
	wantMD := []string{"model", "temperature", "prompt"}
	if len(src.MD.Fields) != len(wantMD) {
		t.Fatalf("md fields = %v, want %v", src.MD.Fields, wantMD)
	}
	if src.MD.Fields[len(src.MD.Fields)-1] != "prompt" {
		t.Fatalf("non-empty body should report the prompt pseudo-field: %v", src.MD.Fields)
	}
	if len(src.JSON.Fields) != 1 || src.JSON.Fields[0] != "disable" {
		t.Fatalf("json fields = %v", src.JSON.Fields)
	}
}

func TestSourcesBuiltin(t *testing.T) {
	s, _ := newTestStore(t)
	src, err := s.Sources(KindCommand, "review")
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if !src.Builtin || src.MD.Exists || src.JSON.Exists {
		t.Fatalf("expected builtin, got %+v", src)
	}
}

func TestCreateWritesMarkdown(t *testing.T) {
	s, dir := newTestStore(t)

	err := s.Create(KindAgent, "writer", map[string]any{
		"model":  "sonnet",
		"prompt": "Write prose.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "agent", "writer.md"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(content)
	if !strings.HasPrefix(text, "---\n") {
		t.Fatalf("missing frontmatter fence:\n%s", text)
	}
	if !strings.Contains(text, "model: sonnet") {
		t.Fatalf("frontmatter missing model:\n%s", text)
	}
	if !strings.Contains(text, "Write prose.") {
		t.Fatalf("body missing:\n%s", text)
	}
	if strings.Contains(text, "prompt:") {
		t.Fatalf("prompt must be the body, not frontmatter:\n%s", text)
	}
}

func TestCreateRejectsExisting(t *testing.T) {
	s, dir := newTestStore(t)

	writeEntityFile(t, dir, KindAgent, "dup", "---\n---\n\nbody")
	if err := s.Create(KindAgent, "dup", nil); err == nil {
		t.Fatal("expected error for existing markdown entity")
	}

	writeConfigFile(t, dir, `{"command":{"dup":{"template":"x"}}}`)
	if err := s.Create(KindCommand, "dup", nil); err == nil {
		t.Fatal("expected error for existing structured entity")
	}
}

func TestUpdateRoutesFieldsToDefiningStore(t *testing.T) {
	s, dir := newTestStore(t)
	writeEntityFile(t, dir, KindAgent, "dual", "---\nmodel: sonnet\n---\n\nbody")
	writeConfigFile(t, dir, `{"agent":{"dual":{"temperature":0.5}}}`)

	err := s.Update(KindAgent, "dual", map[string]any{
		"model":       "opus",
		"temperature": 0.9,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	md, err := os.ReadFile(filepath.Join(dir, "agent", "dual.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "model: opus") {
		t.Fatalf("md-defined field should update in md:\n%s", md)
	}

	cfg := readConfigFile(t, dir)
	entry := cfg["agent"].(map[string]any)["dual"].(map[string]any)
	if entry["temperature"] != 0.9 {
		t.Fatalf("json-defined field should update in json: %v", entry)
	}
	if _, ok := entry["model"]; ok {
		t.Fatalf("model must not leak into json: %v", entry)
	}
}

func TestUpdateUndefinedFieldPriority(t *testing.T) {
	s, dir := newTestStore(t)

	// Markdown-only entity: new field goes to frontmatter and no json
	// section is created.
	writeEntityFile(t, dir, KindAgent, "solo", "---\nmodel: sonnet\n---\n\nbody")
	if err := s.Update(KindAgent, "solo", map[string]any{"color": "blue"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	md, _ := os.ReadFile(filepath.Join(dir, "agent", "solo.md"))
	if !strings.Contains(string(md), "color: blue") {
		t.Fatalf("new field should land in frontmatter:\n%s", md)
	}
	if _, err := os.Stat(filepath.Join(dir, "opencode.json")); !os.IsNotExist(err) {
		cfg := readConfigFile(t, dir)
		if _, ok := cfg["agent"].(map[string]any)["solo"]; ok {
			t.Fatal("md-only entity must not gain a json section")
		}
	}

	// Both stores populated: new field prefers json.
	writeConfigFile(t, dir, `{"agent":{"solo":{"temperature":0.5}}}`)
	if err := s.Update(KindAgent, "solo", map[string]any{"top_p": 0.9}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	cfg := readConfigFile(t, dir)
	entry := cfg["agent"].(map[string]any)["solo"].(map[string]any)
	if entry["top_p"] != 0.9 {
		t.Fatalf("new field should prefer json when both stores have fields: %v", entry)
	}

	// Built-in entity: update creates the json section.
	if err := s.Update(KindCommand, "builtin", map[string]any{"description": "x"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	cfg = readConfigFile(t, dir)
	if cfg["command"].(map[string]any)["builtin"].(map[string]any)["description"] != "x" {
		t.Fatalf("builtin update should create json section: %v", cfg)
	}
}

func TestUpdateNullRemovesEverywhere(t *testing.T) {
	s, dir := newTestStore(t)
	writeEntityFile(t, dir, KindAgent, "trim", "---\nmodel: sonnet\ncolor: red\n---\n\nbody")
	writeConfigFile(t, dir, `{"agent":{"trim":{"color":"red","temperature":0.5}}}`)

	if err := s.Update(KindAgent, "trim", map[string]any{"color": nil}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	md, _ := os.ReadFile(filepath.Join(dir, "agent", "trim.md"))
	if strings.Contains(string(md), "color") {
		t.Fatalf("null should remove field from frontmatter:\n%s", md)
	}
	cfg := readConfigFile(t, dir)
	entry := cfg["agent"].(map[string]any)["trim"].(map[string]any)
	if _, ok := entry["color"]; ok {
		t.Fatalf("null should remove field from json: %v", entry)
	}
	if entry["temperature"] != 0.5 {
		t.Fatalf("other json fields must survive: %v", entry)
	}
}

func TestUpdateContentField(t *testing.T) {
	s, dir := newTestStore(t)

	// Markdown entity: content replaces the body.
	writeEntityFile(t, dir, KindCommand, "md", "---\nmodel: sonnet\n---\n\nold template")
	if err := s.Update(KindCommand, "md", map[string]any{"template": "new template"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	md, _ := os.ReadFile(filepath.Join(dir, "command", "md.md"))
	if !strings.Contains(string(md), "new template") || strings.Contains(string(md), "old template") {
		t.Fatalf("body not replaced:\n%s", md)
	}

	// Structured entity with a file reference: write-through.
	refPath := filepath.Join(dir, "prompts", "ref.txt")
	writeConfigFile(t, dir, `{"agent":{"ref":{"prompt":"{file:./prompts/ref.txt}"}}}`)
	if err := s.Update(KindAgent, "ref", map[string]any{"prompt": "file content"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	data, err := os.ReadFile(refPath)
	if err != nil {
		t.Fatalf("referenced file not written: %v", err)
	}
	if string(data) != "file content" {
		t.Fatalf("referenced file = %q", data)
	}
	cfg := readConfigFile(t, dir)
	entry := cfg["agent"].(map[string]any)["ref"].(map[string]any)
	if entry["prompt"] != "{file:./prompts/ref.txt}" {
		t.Fatalf("file reference must stay in json: %v", entry)
	}

	// Structured entity with inline content: updated inline.
	writeConfigFile(t, dir, `{"agent":{"inline":{"prompt":"old"}}}`)
	if err := s.Update(KindAgent, "inline", map[string]any{"prompt": "new"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	cfg = readConfigFile(t, dir)
	if cfg["agent"].(map[string]any)["inline"].(map[string]any)["prompt"] != "new" {
		t.Fatalf("inline prompt not updated: %v", cfg)
	}
}

func TestDeleteRemovesBothStores(t *testing.T) {
	s, dir := newTestStore(t)
	writeEntityFile(t, dir, KindAgent, "gone", "---\n---\n\nbody")
	writeConfigFile(t, dir, `{"agent":{"gone":{"model":"sonnet"},"kept":{}}}`)

	if err := s.Delete(KindAgent, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "agent", "gone.md")); !os.IsNotExist(err) {
		t.Fatal("markdown file should be removed")
	}
	cfg := readConfigFile(t, dir)
	agents := cfg["agent"].(map[string]any)
	if _, ok := agents["gone"]; ok {
		t.Fatalf("json section should be removed: %v", agents)
	}
	if _, ok := agents["kept"]; !ok {
		t.Fatalf("unrelated entities must survive: %v", agents)
	}
}

func TestDeleteBuiltinDisables(t *testing.T) {
	s, dir := newTestStore(t)

	for _, kind := range []Kind{KindAgent, KindCommand} {
		if err := s.Delete(kind, "builtin"); err != nil {
			t.Fatalf("Delete %s: %v", kind, err)
		}
		cfg := readConfigFile(t, dir)
		entry := cfg[string(kind)].(map[string]any)["builtin"].(map[string]any)
		if entry["disable"] != true {
			t.Fatalf("builtin %s should be disabled: %v", kind, entry)
		}
	}
}

func TestValidNameRejectsTraversal(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := s.Delete(KindAgent, name); err == nil {
			t.Fatalf("name %q should be rejected", name)
		}
	}
}
