package langs

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/pkg/file"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var defaultCatalog []byte

// Language describes a translation target and where its output goes.
type Language struct {
	Key     string
	Name    string
	Tag     language.Tag
	Aliases []string
	Folder  string
	Suffix  string
	Style   string
}

func (l Language) String() string {
	return l.Name
}

type catalogFile struct {
	FallbackStyle string  `yaml:"fallback_style"`
	Languages     []entry `yaml:"languages"`
}

type entry struct {
	Key     string   `yaml:"key"`
	Name    string   `yaml:"name"`
	Tag     string   `yaml:"tag"`
	Aliases []string `yaml:"aliases"`
	Folder  string   `yaml:"folder"`
	Suffix  string   `yaml:"suffix"`
	Style   string   `yaml:"style"`
}

// Catalog resolves user-supplied language names to Language entries.
type Catalog struct {
	fallbackStyle string
	languages     []Language
	index         map[string]int
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded language catalog: %v", err))
	}
	return c
}

// Load returns the embedded catalog with the entries of path merged on top.
// An empty path yields the embedded catalog.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language catalog: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse language catalog %s: %w", path, err)
	}
	c.Merge(override)
	return c, nil
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	c := &Catalog{fallbackStyle: doc.FallbackStyle, index: make(map[string]int)}
	for i, e := range doc.Languages {
		lang, err := e.toLanguage()
		if err != nil {
			return nil, fmt.Errorf("language #%d: %w", i+1, err)
		}
		c.add(lang)
	}
	return c, nil
}

func (e entry) toLanguage() (Language, error) {
	key := strings.ToLower(strings.TrimSpace(e.Key))
	if key == "" {
		return Language{}, fmt.Errorf("key is required")
	}

	lang := Language{
		Key:     key,
		Name:    strings.TrimSpace(e.Name),
		Aliases: e.Aliases,
		Folder:  strings.TrimSpace(e.Folder),
		Suffix:  strings.TrimSpace(e.Suffix),
		Style:   strings.TrimSpace(e.Style),
		Tag:     language.Und,
	}
	if e.Tag != "" {
		tag, err := language.Parse(e.Tag)
		if err != nil {
			return Language{}, fmt.Errorf("%s: invalid tag %q: %w", key, e.Tag, err)
		}
		lang.Tag = tag
	}
	if lang.Name == "" {
		lang.Name = key
	}
	if lang.Folder == "" {
		lang.Folder = lang.Name
	}
	if lang.Suffix == "" {
		lang.Suffix = strings.ToUpper(key)
	}
	return lang, nil
}

func (c *Catalog) add(lang Language) {
	pos, exists := c.index[lang.Key]
	if exists {
		c.languages[pos] = lang
	} else {
		pos = len(c.languages)
		c.languages = append(c.languages, lang)
	}

	names := append([]string{lang.Key, lang.Name}, lang.Aliases...)
	if lang.Tag != language.Und {
		names = append(names, lang.Tag.String())
	}
	for _, n := range names {
		if n = normalize(n); n != "" {
			c.index[n] = pos
		}
	}
}

// Merge adds or replaces entries from other.
func (c *Catalog) Merge(other *Catalog) {
	for _, lang := range other.languages {
		c.add(lang)
	}
	if other.fallbackStyle != "" {
		c.fallbackStyle = other.fallbackStyle
	}
}

// All returns the catalog entries in declaration order.
func (c *Catalog) All() []Language {
	out := make([]Language, len(c.languages))
	for i, l := range c.languages {
		out[i] = c.withStyle(l)
	}
	return out
}

// Lookup resolves a key, display name, alias or BCP-47 tag. Well-formed tags
// that are not in the catalog get a synthesized entry with the fallback style.
func (c *Catalog) Lookup(name string) (Language, error) {
	n := normalize(name)
	if n == "" {
		return Language{}, fmt.Errorf("empty language name")
	}
	if pos, ok := c.index[n]; ok {
		return c.withStyle(c.languages[pos]), nil
	}

	tag, err := language.Parse(n)
	if err != nil || tag == language.Und {
		return Language{}, fmt.Errorf("unknown language %q", name)
	}

	base, _ := tag.Base()
	for _, l := range c.languages {
		if l.Tag == language.Und {
			continue
		}
		if lb, _ := l.Tag.Base(); lb == base {
			return c.withStyle(l), nil
		}
	}

	displayName := display.English.Tags().Name(tag)
	if displayName == "" {
		displayName = tag.String()
	}
	return c.withStyle(Language{
		Key:    tag.String(),
		Name:   displayName,
		Tag:    tag,
		Folder: displayName,
		Suffix: strings.ToUpper(strings.ReplaceAll(tag.String(), "-", "_")),
	}), nil
}

// Resolve looks up each name, rejecting duplicates after resolution.
func (c *Catalog) Resolve(names []string) ([]Language, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Language, 0, len(names))
	for _, name := range names {
		lang, err := c.Lookup(name)
		if err != nil {
			return nil, err
		}
		if seen[lang.Key] {
			continue
		}
		seen[lang.Key] = true
		out = append(out, lang)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no target languages")
	}
	return out, nil
}

// Keys returns the sorted lookup keys, for help output.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.languages))
	for _, l := range c.languages {
		keys = append(keys, l.Key)
	}
	sort.Strings(keys)
	return keys
}

func (c *Catalog) withStyle(l Language) Language {
	if l.Style == "" {
		l.Style = strings.TrimSpace(strings.ReplaceAll(c.fallbackStyle, "{{name}}", l.Name))
	}
	return l
}

// OutputPath returns outputRoot/<folder>/<base>_<SUFFIX>.srt. A trailing
// _<sourceSuffix> on the source base name is dropped first.
func OutputPath(outputRoot, sourceFile, sourceSuffix string, lang Language) string {
	base := file.Stem(sourceFile)
	if sourceSuffix != "" {
		marker := "_" + strings.ToUpper(sourceSuffix)
		if len(base) > len(marker) && strings.HasSuffix(strings.ToUpper(base), marker) {
			base = base[:len(base)-len(marker)]
		}
	}
	return filepath.Join(outputRoot, lang.Folder, base+"_"+lang.Suffix+".srt")
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
