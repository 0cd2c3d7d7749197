package metadata

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Translator resolves translation keys. domain is the entity table name;
// implementations fall back to the default domain.
type Translator interface {
	Translate(message string, args map[string]any, domain string) string
}

// Translatable is a message a hook may return instead of a plain value.
type Translatable struct {
	Message string
	Args    map[string]any
}

// ChoiceMessage returns the translation key of a choice label.
func ChoiceMessage(fieldID, label string) string {
	return "choice." + strings.ToLower(fieldID) + "." + label
}

// NopTranslator returns messages untranslated, with arguments substituted.
type NopTranslator struct{}

func (NopTranslator) Translate(message string, args map[string]any, _ string) string {
	return substitute(message, args)
}

// MapTranslator serves messages from memory.
type MapTranslator struct {
	mu      sync.RWMutex
	domains map[string]map[string]string
}

func NewMapTranslator() *MapTranslator {
	return &MapTranslator{domains: make(map[string]map[string]string)}
}

// Add registers a message; an empty domain is the default domain.
func (t *MapTranslator) Add(domain, key, message string) *MapTranslator {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.domains[domain] == nil {
		t.domains[domain] = make(map[string]string)
	}
	t.domains[domain][key] = message
	return t
}

func (t *MapTranslator) Translate(message string, args map[string]any, domain string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.domains[domain][message]; ok {
		return substitute(m, args)
	}
	if m, ok := t.domains[""][message]; ok {
		return substitute(m, args)
	}
	return substitute(message, args)
}

// DefaultDomain names the fallback domain in translation files.
const DefaultDomain = "default"

// LoadTranslations reads a YAML file mapping domain to key to message.
// Domains are entity table names or DefaultDomain.
func LoadTranslations(path string) (*MapTranslator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read translations: %w", err)
	}
	var doc map[string]map[string]string
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse translations %s: %w", path, err)
	}
	t := NewMapTranslator()
	for domain, messages := range doc {
		if domain == DefaultDomain {
			domain = ""
		}
		for key, msg := range messages {
			t.Add(domain, key, msg)
		}
	}
	return t, nil
}

// substitute replaces %name% and {name} placeholders.
func substitute(message string, args map[string]any) string {
	if len(args) == 0 {
		return message
	}
	pairs := make([]string, 0, len(args)*4)
	for k, v := range args {
		s := fmt.Sprint(v)
		pairs = append(pairs, "%"+k+"%", s, "{"+k+"}", s)
	}
	return strings.NewReplacer(pairs...).Replace(message)
}
