package configstore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openchamber/chamberd/internal/fault"
)

// Sources reports which storage layer defines which fields for one
// entity. Markdown fields are the frontmatter keys plus the content
// field when the body is non-empty.
func (s *Store) Sources(kind Kind, name string) (*Sources, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}

	mdPath := s.entityPath(kind, name)
	var mdFields []string
	mdExists := false
	if _, err := os.Stat(mdPath); err == nil {
		mdExists = true
		doc, err := parseMD(mdPath)
		if err != nil {
			return nil, err
		}
		for field := range doc.frontmatter {
			mdFields = append(mdFields, field)
		}
		sort.Strings(mdFields)
		if strings.TrimSpace(doc.body) != "" {
			mdFields = append(mdFields, kind.ContentField())
		}
	}

	cfg, err := s.ReadConfig()
	if err != nil {
		return nil, err
	}
	entry, jsonExists := entitySection(cfg, kind, name)
	var jsonFields []string
	for field := range entry {
		jsonFields = append(jsonFields, field)
	}
	sort.Strings(jsonFields)

	out := &Sources{
		MD:      SourceInfo{Exists: mdExists, Fields: mdFields},
		JSON:    SourceInfo{Exists: jsonExists, Path: s.configFile(), Fields: jsonFields},
		Builtin: !mdExists && !jsonExists,
	}
	if mdExists {
		out.MD.Path = mdPath
	}
	if out.MD.Fields == nil {
		out.MD.Fields = []string{}
	}
	if out.JSON.Fields == nil {
		out.JSON.Fields = []string{}
	}
	return out, nil
}

// Create writes a new markdown-backed entity. Fails when the name is
// already taken in either store.
func (s *Store) Create(kind Kind, name string, fields map[string]any) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.ensureDirs(); err != nil {
		return err
	}

	mdPath := s.entityPath(kind, name)
	if _, err := os.Stat(mdPath); err == nil {
		return fault.New(fault.Validation, "%s %q already exists as a markdown file", kind, name)
	}

	cfg, err := s.ReadConfig()
	if err != nil {
		return err
	}
	if _, exists := entitySection(cfg, kind, name); exists {
		return fault.New(fault.Validation, "%s %q already exists in opencode.json", kind, name)
	}

	doc := &mdDocument{frontmatter: map[string]any{}, body: ""}
	for field, value := range fields {
		if field == kind.ContentField() {
			if str, ok := value.(string); ok {
				doc.body = str
			}
			continue
		}
		doc.frontmatter[field] = value
	}

	if err := writeMD(mdPath, doc); err != nil {
		return err
	}
	s.log.Info("created config entity", "kind", kind, "name", name)
	return nil
}

// Update applies field-level changes. A nil value removes the field
// from every store that defines it. The content field goes to the
// markdown body, a referenced external file, or an inline structured
// value, in that order of preference. Any other field updates in place
// where it is currently defined; an undefined field is added to the
// markdown store for markdown-only entities and to the structured
// store otherwise.
func (s *Store) Update(kind Kind, name string, updates map[string]any) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.ensureDirs(); err != nil {
		return err
	}

	mdPath := s.entityPath(kind, name)
	var doc *mdDocument
	mdExists := false
	if _, err := os.Stat(mdPath); err == nil {
		mdExists = true
		doc, err = parseMD(mdPath)
		if err != nil {
			return err
		}
	}

	cfg, err := s.ReadConfig()
	if err != nil {
		return err
	}
	entry, _ := entitySection(cfg, kind, name)
	hadJSONFields := len(entry) > 0

	mdModified := false
	jsonModified := false

	for field, value := range updates {
		if value == nil {
			if mdExists {
				if _, present := doc.frontmatter[field]; present {
					delete(doc.frontmatter, field)
					mdModified = true
				}
			}
			if _, present := entry[field]; present {
				delete(entry, field)
				jsonModified = true
			}
			continue
		}

		if field == kind.ContentField() {
			content, _ := value.(string)

			if mdExists {
				doc.body = content
				mdModified = true
				continue
			}
			if ref, ok := entry[field].(string); ok && isFileRef(ref) {
				path, ok := s.resolveFileRef(ref)
				if !ok {
					return fault.New(fault.Validation, "invalid %s file reference for %s %q", field, kind, name)
				}
				if err := s.writeContentFile(path, content); err != nil {
					return err
				}
				continue
			}
			entry[field] = content
			jsonModified = true
			continue
		}

		inMD := false
		if mdExists {
			_, inMD = doc.frontmatter[field]
		}
		_, inJSON := entry[field]

		switch {
		case inMD:
			doc.frontmatter[field] = value
			mdModified = true
		case inJSON:
			entry[field] = value
			jsonModified = true
		case mdExists && len(entry) > 0:
			// Defined in neither but both stores carry other fields:
			// the structured store wins.
			entry[field] = value
			jsonModified = true
		case mdExists:
			doc.frontmatter[field] = value
			mdModified = true
		default:
			entry[field] = value
			jsonModified = true
		}
	}

	if mdModified {
		if err := writeMD(mdPath, doc); err != nil {
			return err
		}
	}

	// A markdown-only entity never gains a structured section from a
	// plain update; only field removals or content write-through apply.
	if jsonModified && mdExists && !hadJSONFields {
		jsonModified = false
	}

	if jsonModified {
		setEntitySection(cfg, kind, name, entry)
		if err := s.WriteConfig(cfg); err != nil {
			return err
		}
	}

	s.log.Info("updated config entity",
		"kind", kind, "name", name, "md", mdModified, "json", jsonModified)
	return nil
}

// Delete removes the entity from both stores. An entity defined in
// neither is assumed built-in and is disabled through a structured
// override instead.
func (s *Store) Delete(kind Kind, name string) error {
	if err := validName(name); err != nil {
		return err
	}

	deleted := false
	mdPath := s.entityPath(kind, name)
	if _, err := os.Stat(mdPath); err == nil {
		if err := os.Remove(mdPath); err != nil {
			return fault.Wrap(fault.Internal, err, "remove %s", mdPath)
		}
		s.log.Info("deleted entity markdown file", "path", mdPath)
		deleted = true
	}

	cfg, err := s.ReadConfig()
	if err != nil {
		return err
	}
	if removeEntitySection(cfg, kind, name) {
		if err := s.WriteConfig(cfg); err != nil {
			return err
		}
		s.log.Info("removed entity from opencode.json", "kind", kind, "name", name)
		deleted = true
	}

	if !deleted {
		setEntitySection(cfg, kind, name, map[string]any{"disable": true})
		if err := s.WriteConfig(cfg); err != nil {
			return err
		}
		s.log.Info("disabled built-in entity", "kind", kind, "name", name)
	}
	return nil
}

func (s *Store) writeContentFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fault.Wrap(fault.Internal, err, "create content file directory")
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fault.Wrap(fault.Internal, err, "write content file %s", path)
	}
	s.log.Info("updated content file", "path", path)
	return nil
}
