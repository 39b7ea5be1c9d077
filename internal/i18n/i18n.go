// Package i18n resolves user-visible notices from YAML catalogs.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embedded embed.FS

const localesDir = "locales"

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	Format(key string, vars map[string]string) string
	Lang() string
}

// catalog holds the flattened messages of each language.
type catalog map[string]map[string]string

// Manager stores all available translations.
type Manager struct {
	catalog     catalog
	defaultLang string
}

// Load loads the catalogs compiled into the binary.
func Load(defaultLang string) (*Manager, error) {
	sub, err := fs.Sub(embedded, localesDir)
	if err != nil {
		return nil, fmt.Errorf("i18n: open embedded catalogs: %w", err)
	}
	return LoadFS(sub, defaultLang)
}

// LoadFS loads every *.yaml and *.yml file at the root of fsys. Each file maps language
// codes to nested message trees; later files override earlier ones key by key.
func LoadFS(fsys fs.FS, defaultLang string) (*Manager, error) {
	c, err := readCatalogs(fsys)
	if err != nil {
		return nil, err
	}

	defaultLang = normalizeLang(defaultLang)
	if defaultLang == "" {
		defaultLang = "en"
	}
	if _, ok := c[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return &Manager{catalog: c, defaultLang: defaultLang}, nil
}

// Translator returns a translator for lang, or for the default language when lang is
// not loaded.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	lang = normalizeLang(lang)
	if _, ok := m.catalog[lang]; !ok {
		lang = m.defaultLang
	}

	return translator{
		lang:     lang,
		primary:  m.catalog[lang],
		fallback: m.catalog[m.defaultLang],
	}
}

// Languages returns all loaded languages, sorted.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.catalog))
}

type translator struct {
	lang     string
	primary  map[string]string
	fallback map[string]string
}

func (t translator) Lang() string {
	return t.lang
}

// T returns the text for key, falling back to the default language and then to the key.
func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}

	if text, ok := t.primary[key]; ok && text != "" {
		return text
	}
	if text, ok := t.fallback[key]; ok && text != "" {
		return text
	}
	return key
}

// Format translates key and substitutes {name} placeholders from vars.
func (t translator) Format(key string, vars map[string]string) string {
	text := t.T(key)
	if len(vars) == 0 {
		return text
	}

	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func readCatalogs(fsys fs.FS) (catalog, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("i18n: list catalogs: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("i18n: no yaml files found")
	}
	slices.Sort(files)

	c := make(catalog)
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", name, err)
		}
		if err := c.merge(data); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", name, err)
		}
	}
	return c, nil
}

func (c catalog) merge(data []byte) error {
	var doc map[string]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	for lang, tree := range doc {
		lang = normalizeLang(lang)
		if lang == "" {
			continue
		}

		messages := make(map[string]string)
		flatten("", tree, messages)
		if len(messages) == 0 {
			continue
		}

		if c[lang] == nil {
			c[lang] = make(map[string]string, len(messages))
		}
		maps.Copy(c[lang], messages)
	}
	return nil
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for key, value := range tree {
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		switch v := value.(type) {
		case string:
			out[key] = v
		case map[string]any:
			flatten(key, v, out)
		}
	}
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
