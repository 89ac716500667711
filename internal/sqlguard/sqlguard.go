// Package sqlguard rejects statements that could modify the database.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrNotReadOnly = errors.New("statement is not read-only")

var blockedKeywords = map[string]struct{}{
	"insert":   {},
	"update":   {},
	"delete":   {},
	"merge":    {},
	"upsert":   {},
	"truncate": {},
	"drop":     {},
	"alter":    {},
	"create":   {},
	"grant":    {},
	"revoke":   {},
	"attach":   {},
	"detach":   {},
	"pragma":   {},
	"vacuum":   {},
	"reindex":  {},
	"copy":     {},
	"install":  {},
	"load":     {},
	"call":     {},
	"exec":     {},
	"execute":  {},
}

// ValidateReadOnly accepts a single SELECT or WITH statement. Keywords inside
// string literals, quoted identifiers and comments are ignored.
func ValidateReadOnly(sqlText string) error {
	words, statements, err := scan(sqlText)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}
	if statements > 1 {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	if first := words[0]; first != "select" && first != "with" {
		return fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, strings.ToUpper(first))
	}
	for _, word := range words[1:] {
		if _, blocked := blockedKeywords[word]; blocked {
			return fmt.Errorf("%w: keyword %q is not allowed", ErrNotReadOnly, strings.ToUpper(word))
		}
	}
	return nil
}

// scan lowercases the bare words of sqlText and counts statements separated
// by semicolons. Trailing semicolons do not start a new statement.
func scan(sqlText string) ([]string, int, error) {
	var (
		words      []string
		current    strings.Builder
		statements int
		pending    bool
	)
	flush := func() {
		if current.Len() > 0 {
			words = append(words, strings.ToLower(current.String()))
			current.Reset()
			pending = true
		}
	}

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			flush()
			end := closingQuote(runes, i+1, r)
			if end < 0 {
				return nil, 0, fmt.Errorf("%w: unterminated quote", ErrNotReadOnly)
			}
			pending = true
			i = end
		case r == '[':
			flush()
			end := closingQuote(runes, i+1, ']')
			if end < 0 {
				return nil, 0, fmt.Errorf("%w: unterminated identifier", ErrNotReadOnly)
			}
			pending = true
			i = end
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			if i+1 >= len(runes) {
				return nil, 0, fmt.Errorf("%w: unterminated comment", ErrNotReadOnly)
			}
			i++
		case r == ';':
			flush()
			if pending {
				statements++
				pending = false
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			current.WriteRune(r)
		default:
			flush()
			if !unicode.IsSpace(r) {
				pending = true
			}
		}
	}
	flush()
	if pending {
		statements++
	}
	return words, statements, nil
}

// closingQuote returns the index of the quote closing a literal opened before
// start; doubled quotes are escapes.
func closingQuote(runes []rune, start int, quote rune) int {
	for i := start; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if quote != ']' && i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return -1
}
