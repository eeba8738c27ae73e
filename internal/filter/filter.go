// Package filter decides which discovered files enter the pipeline.
package filter

import (
	"path"
	"path/filepath"
	"strings"
)

// Filter holds parsed include and exclude glob patterns. The zero value
// accepts everything.
type Filter struct {
	include []pattern
	exclude []pattern
}

type pattern struct {
	raw    string // lower-cased, brackets and backslashes escaped for path.Match
	suffix string // set for plain "*.ext" patterns
	full   bool   // pattern contains a separator and is matched against the relative path
}

// New parses include and exclude lists. Each list is split on ';' and ','.
func New(include, exclude string) *Filter {
	return &Filter{include: parseList(include), exclude: parseList(exclude)}
}

// FromLists builds a Filter from already-split pattern lists, such as the
// ones read from YAML. Entries may still contain separators.
func FromLists(include, exclude []string) *Filter {
	return New(strings.Join(include, ";"), strings.Join(exclude, ";"))
}

// Only '*' and '?' are wildcards. Everything path.Match would read as a
// character class or an escape is matched literally.
var globEscaper = strings.NewReplacer(`\`, `\\`, "[", `\[`, "]", `\]`)

func parseList(s string) []pattern {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]pattern, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		lower := strings.ToLower(filepath.ToSlash(f))
		p := pattern{raw: globEscaper.Replace(lower)}
		p.full = strings.Contains(lower, "/")
		if strings.HasPrefix(lower, "*.") && !strings.ContainsAny(lower[1:], "*?") {
			p.suffix = lower[1:]
		}
		out = append(out, p)
	}
	return out
}

// Empty reports whether the filter has no patterns at all.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.include) == 0 && len(f.exclude) == 0)
}

// Match reports whether the file at rel (relative to its walk root) passes.
// Matching is case-insensitive. A file passes when it matches some include
// pattern (or there are none) and no exclude pattern.
func (f *Filter) Match(rel string) bool {
	if f.Empty() {
		return true
	}
	rel = strings.ToLower(filepath.ToSlash(rel))
	name := path.Base(rel)

	if len(f.include) > 0 && !matchAny(f.include, rel, name) {
		return false
	}
	return !matchAny(f.exclude, rel, name)
}

func matchAny(ps []pattern, rel, name string) bool {
	for _, p := range ps {
		if p.match(rel, name) {
			return true
		}
	}
	return false
}

func (p pattern) match(rel, name string) bool {
	if p.suffix != "" {
		return strings.HasSuffix(name, p.suffix)
	}
	if p.full {
		return matchSegments(strings.Split(p.raw, "/"), strings.Split(rel, "/"))
	}
	ok, _ := path.Match(p.raw, name)
	return ok
}

// matchSegments handles "**" spanning any number of directories.
func matchSegments(pats, parts []string) bool {
	for len(pats) > 0 {
		p := pats[0]
		pats = pats[1:]

		if p == "**" {
			if len(pats) == 0 {
				return true
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pats, parts[i:]) {
					return true
				}
			}
			return false
		}

		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(p, parts[0]); !ok {
			return false
		}
		parts = parts[1:]
	}
	return len(parts) == 0
}
