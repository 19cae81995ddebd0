// Package correct rewrites recognized words through a term dictionary.
package correct

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Dictionary maps a lowercased single-word term to its replacement.
type Dictionary map[string]string

// DefaultTerms is the built-in dictionary.
var DefaultTerms = map[string]string{
	"inference": "Inforens",
}

// NewDictionary lowercases and validates terms. When two terms differ only by
// case, the lexicographically first spelling wins.
func NewDictionary(terms map[string]string) (Dictionary, error) {
	keys := make([]string, 0, len(terms))
	for key := range terms {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	dict := make(Dictionary, len(terms))
	for _, key := range keys {
		term, err := normalizeTerm(key)
		if err != nil {
			return nil, err
		}
		if _, exists := dict[term]; exists {
			continue
		}
		dict[term] = strings.TrimSpace(terms[key])
	}
	return dict, nil
}

// Correct replaces every token of text that matches a dictionary term,
// ignoring case. Tokens are split and rejoined on single spaces so leading and
// trailing spaces survive. Unmatched tokens pass through unchanged.
func (d Dictionary) Correct(text string) string {
	if len(d) == 0 || text == "" {
		return text
	}
	tokens := strings.Split(text, " ")
	for i, token := range tokens {
		if token == "" {
			continue
		}
		if replacement, ok := d[strings.ToLower(token)]; ok {
			tokens[i] = replacement
		}
	}
	return strings.Join(tokens, " ")
}

// Correct applies dict to text.
func Correct(text string, dict Dictionary) string {
	return dict.Correct(text)
}

// Merge returns a copy of d overlaid with other. Entries in other win.
func (d Dictionary) Merge(other Dictionary) Dictionary {
	merged := make(Dictionary, len(d)+len(other))
	for term, replacement := range d {
		merged[term] = replacement
	}
	for term, replacement := range other {
		merged[term] = replacement
	}
	return merged
}

// LoadDictionary reads "term => replacement" lines from a rules file. Blank
// lines and lines starting with # are skipped. A missing file yields an empty
// dictionary.
func LoadDictionary(path string) (Dictionary, error) {
	if strings.TrimSpace(path) == "" {
		return Dictionary{}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Dictionary{}, nil
		}
		return nil, fmt.Errorf("failed to read corrections file %q: %w", path, err)
	}

	dict, err := ParseDictionary(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse corrections file %q: %w", path, err)
	}
	return dict, nil
}

// ParseDictionary parses rules file contents. The first entry for a term wins.
func ParseDictionary(contents string) (Dictionary, error) {
	dict := Dictionary{}
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=>", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
		term, err := normalizeTerm(parts[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		if _, exists := dict[term]; exists {
			continue
		}
		dict[term] = strings.TrimSpace(parts[1])
	}
	return dict, nil
}

func normalizeTerm(raw string) (string, error) {
	term := strings.ToLower(strings.TrimSpace(raw))
	if term == "" {
		return "", errors.New("term cannot be empty")
	}
	if strings.ContainsAny(term, " \t\r\n") {
		return "", fmt.Errorf("term %q must be a single word", term)
	}
	return term, nil
}
