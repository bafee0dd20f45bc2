// Package fieldname formats and sanitizes column and table names.
package fieldname

import (
	"cmp"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"dpm/internal/domain"
)

// MaxBigQueryName is the longest column or table name produced for BigQuery.
const MaxBigQueryName = 300

// Style is a naming convention for Format.
type Style string

// Supported styles.
const (
	StyleNone     Style = ""
	StyleCamel    Style = "CamelCase"
	StyleSnake    Style = "snake_case"
	StyleSentence Style = "Sentence case"
)

// ParseStyle validates a style name. "none" and "" disable formatting.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case StyleCamel, StyleSnake, StyleSentence:
		return Style(s), nil
	case StyleNone, "none":
		return StyleNone, nil
	}
	return "", domain.ErrValidation("unsupported name style %q", s)
}

// FormatOptions configures Format.
type FormatOptions struct {
	Style Style
	// Replacements are applied as substring substitutions, longest key first.
	Replacements map[string]string
	// Acronyms are kept upper-case whatever the style.
	Acronyms []string
}

// Mapping pairs an original name with its formatted form.
type Mapping struct {
	Original  string `json:"original"`
	Formatted string `json:"formatted"`
}

var wordSep = regexp.MustCompile(`[_\-\s]+`)

// FormatAll formats every field.
func FormatAll(fields []string, opts FormatOptions) []Mapping {
	out := make([]Mapping, len(fields))
	for i, f := range fields {
		out[i] = Mapping{Original: f, Formatted: Format(f, opts)}
	}
	return out
}

// Format applies replacements and then the naming style to one field.
func Format(field string, opts FormatOptions) string {
	field = ApplyReplacements(field, opts.Replacements)
	if opts.Style == StyleNone {
		return field
	}
	acronyms := make(map[string]struct{}, len(opts.Acronyms))
	for _, a := range opts.Acronyms {
		acronyms[strings.ToUpper(a)] = struct{}{}
	}

	var words []string
	for _, w := range wordSep.Split(field, -1) {
		if w != "" {
			words = append(words, w)
		}
	}
	for i, w := range words {
		if _, ok := acronyms[strings.ToUpper(w)]; ok {
			words[i] = strings.ToUpper(w)
			continue
		}
		switch {
		case opts.Style == StyleCamel, opts.Style == StyleSentence && i == 0:
			words[i] = capitalize(w)
		default:
			words[i] = strings.ToLower(w)
		}
	}
	switch opts.Style {
	case StyleCamel:
		return strings.Join(words, "")
	case StyleSnake:
		return strings.Join(words, "_")
	default:
		return strings.Join(words, " ")
	}
}

func capitalize(w string) string {
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// ApplyReplacements substitutes every key of repl found in s, longest keys
// first so that overlapping keys resolve predictably.
func ApplyReplacements(s string, repl map[string]string) string {
	if len(repl) == 0 {
		return s
	}
	keys := make([]string, 0, len(repl))
	for k := range repl {
		if k != "" {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	for _, k := range keys {
		s = strings.ReplaceAll(s, k, repl[k])
	}
	return s
}

// StripAccents decomposes s and removes combining marks.
func StripAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// HeaderStyle is a header normalization style.
type HeaderStyle string

// Header normalization styles.
const (
	HeaderForms HeaderStyle = "forms"
	HeaderSnake HeaderStyle = "snake"
	HeaderSlug  HeaderStyle = "slug"
)

var (
	spaceRun      = regexp.MustCompile(`\s+`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]+`)
	nonForms      = regexp.MustCompile(`[^a-z0-9_ ]+`)
	separatorRun  = regexp.MustCompile(`[_-]+`)
	nonBigQuery   = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// NormalizeHeader lower-cases and ASCII-folds a header. forms keeps letters,
// digits and underscores and turns spaces into underscores; snake maps every
// other run to "_"; slug maps it to "-".
func NormalizeHeader(name string, style HeaderStyle) string {
	s := strings.TrimSpace(StripAccents(name))
	s = strings.ToLower(spaceRun.ReplaceAllString(s, " "))
	switch style {
	case HeaderSnake:
		s = nonAlnum.ReplaceAllString(s, "_")
	case HeaderSlug:
		s = nonAlnum.ReplaceAllString(s, "-")
	default:
		s = strings.ReplaceAll(nonForms.ReplaceAllString(s, ""), " ", "_")
	}
	s = separatorRun.ReplaceAllStringFunc(s, func(m string) string { return m[:1] })
	return strings.Trim(s, "_-")
}

// NormalizeHeaders normalizes every header, suffixing repeats with _2, _3...
func NormalizeHeaders(names []string, style HeaderStyle) []string {
	return dedupe(names, func(n string) string { return NormalizeHeader(n, style) })
}

// BigQueryColumn turns name into a valid BigQuery column name: ASCII only,
// [A-Za-z0-9_], no repeated or edge underscores, at most 300 characters.
func BigQueryColumn(name string) string {
	s := asciiOnly(StripAccents(name))
	s = nonBigQuery.ReplaceAllString(s, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > MaxBigQueryName {
		s = s[:MaxBigQueryName]
	}
	if s == "" {
		s = "col"
	}
	return s
}

// BigQueryColumns sanitizes every name, suffixing repeats with _2, _3...
func BigQueryColumns(names []string) []string {
	return dedupe(names, BigQueryColumn)
}

// TableName derives a BigQuery table name from an object path: slashes
// become underscores, the extension is dropped, replacements and the suffix
// are applied, and the result is sanitized.
func TableName(objectPath string, replacements map[string]string, suffix string) string {
	base := strings.TrimSuffix(objectPath, path.Ext(objectPath))
	base = strings.ReplaceAll(base, "/", "_")
	base = ApplyReplacements(base, replacements) + suffix
	return BigQueryColumn(base)
}

func asciiOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)
}

func dedupe(names []string, normalize func(string) string) []string {
	out := make([]string, len(names))
	seen := make(map[string]struct{}, len(names))
	for i, n := range names {
		base := normalize(n)
		candidate := base
		for k := 2; ; k++ {
			if _, dup := seen[candidate]; !dup {
				break
			}
			candidate = fmt.Sprintf("%s_%d", base, k)
		}
		seen[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}
