package metadata

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"unchained/internal/core/apperror"
)

// ParseEntity decodes one entity document.
func ParseEntity(id string, data []byte, now time.Time) (*Entity, error) {
	var doc RawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperror.NewConfigurationf("parse %s: %v", id, err).WithCause(err)
	}
	return NewEntity(id, doc.Application, now)
}

// LoadDir reads every *.yaml / *.yml document under root and links them.
// The entity id is the file path relative to root without its extension.
func LoadDir(root string, now time.Time) (*Registry, error) {
	reg := NewRegistry()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))
		if reg.Exists(id) {
			return apperror.NewConfigurationf("duplicate application %q (file: %s)", id, path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		e, err := ParseEntity(id, data, now)
		if err != nil {
			return err
		}
		reg.Register(e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := reg.Link(); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadDocuments builds a linked registry from in-memory documents keyed by entity id.
func LoadDocuments(docs map[string]string, now time.Time) (*Registry, error) {
	reg := NewRegistry()
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e, err := ParseEntity(id, []byte(docs[id]), now)
		if err != nil {
			return nil, err
		}
		reg.Register(e)
	}
	if err := reg.Link(); err != nil {
		return nil, err
	}
	return reg, nil
}
