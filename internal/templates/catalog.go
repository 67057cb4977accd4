// Package templates holds the static catalog of canned responses used to
// seed a seller's first rule set.
//
// The catalog is an ordered YAML document. A copy is embedded in the binary;
// an external file with the same shape can replace it at startup.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultCatalog []byte

// Template is one catalog entry. Key is a camelCase identifier
// (e.g. "priceInquiry") from which rule ids and names are derived.
type Template struct {
	Key      string   `yaml:"key"`
	Triggers []string `yaml:"triggers"`
	Response string   `yaml:"response"`
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// ErrInvalidCatalog is returned when a catalog document is malformed.
var ErrInvalidCatalog = errors.New("invalid template catalog")

// Default returns the embedded catalog.
func Default() ([]Template, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the embedded one when path is blank.
func Load(path string) ([]Template, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a catalog document. Entries keep document order. An empty
// document yields an empty (non-nil) catalog.
func Parse(b []byte) ([]Template, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	out := make([]Template, 0, len(f.Templates))
	seen := make(map[string]struct{}, len(f.Templates))
	for i, t := range f.Templates {
		t.Key = strings.TrimSpace(t.Key)
		if t.Key == "" {
			return nil, fmt.Errorf("%w: entry %d has no key", ErrInvalidCatalog, i+1)
		}
		if _, dup := seen[t.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidCatalog, t.Key)
		}
		seen[t.Key] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// DeriveName turns a camelCase key into a display name by inserting a space
// before each internal capital and upper-casing the first letter:
// "priceInquiry" -> "Price Inquiry".
func DeriveName(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	// Caser is stateful; a fresh one per call keeps this safe for concurrent use.
	return cases.Title(language.English, cases.NoLower).String(b.String())
}
