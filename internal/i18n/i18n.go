// Package i18n resolves message keys to localized text. Catalogs are
// embedded YAML, one file per locale.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yml
var catalogFS embed.FS

type Translator struct {
	catalogs      map[string]map[string]string
	defaultLocale string
}

// New loads all embedded catalogs. defaultLocale must have a catalog.
func New(defaultLocale string) (*Translator, error) {
	files, err := fs.ReadDir(catalogFS, "catalogs")
	if err != nil {
		return nil, err
	}
	catalogs := make(map[string]map[string]string, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		locale := strings.TrimSuffix(f.Name(), ".yml")
		data, err := catalogFS.ReadFile("catalogs/" + f.Name())
		if err != nil {
			return nil, err
		}
		var entries map[string]string
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", f.Name(), err)
		}
		catalogs[locale] = entries
	}
	if _, ok := catalogs[defaultLocale]; !ok {
		return nil, fmt.Errorf("no catalog for default locale %s", defaultLocale)
	}
	return &Translator{catalogs: catalogs, defaultLocale: defaultLocale}, nil
}

// Resolve returns the localized string for key with {param} placeholders
// substituted. Missing locales fall back to the default catalog; a missing
// key resolves to the key itself so a gap is visible, not fatal.
func (t *Translator) Resolve(key, locale string, params map[string]string) string {
	text, ok := t.lookup(key, locale)
	if !ok {
		text, ok = t.lookup(key, t.defaultLocale)
	}
	if !ok {
		text = key
	}
	for k, v := range params {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}

func (t *Translator) lookup(key, locale string) (string, bool) {
	catalog, ok := t.catalogs[locale]
	if !ok {
		return "", false
	}
	text, ok := catalog[key]
	return text, ok
}

// Locales lists loaded catalog locales.
func (t *Translator) Locales() []string {
	res := make([]string, 0, len(t.catalogs))
	for l := range t.catalogs {
		res = append(res, l)
	}
	return res
}
