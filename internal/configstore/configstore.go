// Package configstore edits opencode's configuration entities, which
// live in two layers: a structured opencode.json file and per-entity
// markdown files with YAML frontmatter. Field-level updates are routed
// to whichever layer currently defines the field.
package configstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openchamber/chamberd/internal/fault"
)

// Kind selects the entity family. Agents and commands share the same
// storage shape; only the directory, the structured-file section and
// the reserved content field differ.
type Kind string

const (
	KindAgent   Kind = "agent"
	KindCommand Kind = "command"
)

// ContentField is the reserved field routed to the markdown body (or a
// file reference) instead of the frontmatter.
func (k Kind) ContentField() string {
	if k == KindCommand {
		return "template"
	}
	return "prompt"
}

func (k Kind) section() string { return string(k) }

// fileRefPattern matches content values like {file:./prompts/plan.txt}
// that point at an external file instead of holding inline text.
var fileRefPattern = regexp.MustCompile(`(?i)^\{file:(.+)\}$`)

// frontmatterPattern splits a markdown file into YAML frontmatter and
// body.
var frontmatterPattern = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n(.*)$`)

// SourceInfo describes one storage layer's view of an entity.
type SourceInfo struct {
	Exists bool     `json:"exists"`
	Path   string   `json:"path,omitempty"`
	Fields []string `json:"fields"`
}

// Sources is the provenance report for one entity. Builtin means the
// entity is defined in neither layer, i.e. it ships with opencode.
type Sources struct {
	MD      SourceInfo `json:"md"`
	JSON    SourceInfo `json:"json"`
	Builtin bool       `json:"builtin"`
}

// Store operates on one opencode configuration directory.
type Store struct {
	dir string
	log *slog.Logger
}

func New(dir string, log *slog.Logger) *Store {
	return &Store{dir: dir, log: log}
}

func (s *Store) configFile() string { return filepath.Join(s.dir, "opencode.json") }

func (s *Store) entityPath(kind Kind, name string) string {
	return filepath.Join(s.dir, string(kind), name+".md")
}

func (s *Store) ensureDirs() error {
	for _, dir := range []string{s.dir, filepath.Join(s.dir, "agent"), filepath.Join(s.dir, "command")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fault.Wrap(fault.Internal, err, "create config directory")
		}
	}
	return nil
}

// validName rejects names that would escape the entity directory.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fault.New(fault.Validation, "invalid entity name %q", name)
	}
	return nil
}

// ReadConfig loads opencode.json, tolerating comments and a missing or
// empty file.
func (s *Store) ReadConfig() (map[string]any, error) {
	content, err := os.ReadFile(s.configFile())
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "read opencode.json")
	}

	normalized := strings.TrimSpace(StripJSONComments(string(content)))
	if normalized == "" {
		return map[string]any{}, nil
	}

	var cfg map[string]any
	if err := json.Unmarshal([]byte(normalized), &cfg); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "parse opencode.json")
	}
	return cfg, nil
}

// WriteConfig writes opencode.json, refreshing a single backup copy of
// the previous contents first.
func (s *Store) WriteConfig(cfg map[string]any) error {
	path := s.configFile()
	if prev, err := os.ReadFile(path); err == nil {
		backup := path + ".openchamber.backup"
		if err := os.WriteFile(backup, prev, 0o644); err != nil {
			return fault.Wrap(fault.Internal, err, "write config backup")
		}
		s.log.Debug("config backup refreshed", "path", backup)
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fault.Wrap(fault.Internal, err, "encode opencode.json")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fault.Wrap(fault.Internal, err, "write opencode.json")
	}
	return nil
}

// StripJSONComments removes // and /* */ comments outside of string
// literals so hand-edited config files still parse.
func StripJSONComments(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	inString := false
	escaped := false
	runes := []rune(content)

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if escaped {
			b.WriteRune(ch)
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			b.WriteRune(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			b.WriteRune(ch)
			continue
		}

		if !inString && ch == '/' && i+1 < len(runes) {
			switch runes[i+1] {
			case '/':
				for i++; i < len(runes); i++ {
					if runes[i] == '\n' {
						b.WriteRune('\n')
						break
					}
				}
				continue
			case '*':
				prev := ' '
				for i += 2; i < len(runes); i++ {
					if prev == '*' && runes[i] == '/' {
						break
					}
					prev = runes[i]
				}
				continue
			}
		}

		b.WriteRune(ch)
	}
	return b.String()
}

// mdDocument is one parsed entity markdown file.
type mdDocument struct {
	frontmatter map[string]any
	body        string
}

func parseMD(path string) (*mdDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "read %s", path)
	}

	m := frontmatterPattern.FindStringSubmatch(string(content))
	if m == nil {
		// No frontmatter, the whole file is body.
		return &mdDocument{
			frontmatter: map[string]any{},
			body:        strings.TrimSpace(string(content)),
		}, nil
	}

	fm := map[string]any{}
	if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
		fm = map[string]any{}
	}
	return &mdDocument{frontmatter: fm, body: strings.TrimSpace(m[2])}, nil
}

func writeMD(path string, doc *mdDocument) error {
	fm, err := yaml.Marshal(doc.frontmatter)
	if err != nil {
		return fault.Wrap(fault.Internal, err, "encode frontmatter")
	}
	content := fmt.Sprintf("---\n%s---\n\n%s", fm, doc.body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fault.Wrap(fault.Internal, err, "write %s", path)
	}
	return nil
}

// entitySection returns the structured-store fields of one entity, or
// an empty map when absent.
func entitySection(cfg map[string]any, kind Kind, name string) (map[string]any, bool) {
	section, ok := cfg[kind.section()].(map[string]any)
	if !ok {
		return map[string]any{}, false
	}
	entry, ok := section[name].(map[string]any)
	if !ok {
		return map[string]any{}, false
	}
	out := make(map[string]any, len(entry))
	for k, v := range entry {
		out[k] = v
	}
	return out, true
}

func setEntitySection(cfg map[string]any, kind Kind, name string, entry map[string]any) {
	section, ok := cfg[kind.section()].(map[string]any)
	if !ok {
		section = map[string]any{}
		cfg[kind.section()] = section
	}
	section[name] = entry
}

func removeEntitySection(cfg map[string]any, kind Kind, name string) bool {
	section, ok := cfg[kind.section()].(map[string]any)
	if !ok {
		return false
	}
	if _, present := section[name]; !present {
		return false
	}
	delete(section, name)
	return true
}

// resolveFileRef maps a {file:...} content value to an absolute path.
// Relative targets resolve against the config directory.
func (s *Store) resolveFileRef(ref string) (string, bool) {
	m := fileRefPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return "", false
	}
	target := strings.TrimSpace(m[1])
	if target == "" {
		return "", false
	}
	if rel, ok := strings.CutPrefix(target, "./"); ok {
		return filepath.Join(s.dir, rel), true
	}
	if filepath.IsAbs(target) {
		return target, true
	}
	return filepath.Join(s.dir, target), true
}

func isFileRef(value string) bool {
	return fileRefPattern.MatchString(strings.TrimSpace(value))
}
