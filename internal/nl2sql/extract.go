package nl2sql

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrNoSQL reports a model reply that does not contain a SQL statement.
var ErrNoSQL = errors.New("model response contains no SQL statement")

var leadingKeywords = map[string]struct{}{
	"SELECT":  {},
	"WITH":    {},
	"VALUES":  {},
	"INSERT":  {},
	"UPDATE":  {},
	"DELETE":  {},
	"REPLACE": {},
	"CREATE":  {},
	"DROP":    {},
	"ALTER":   {},
	"PRAGMA":  {},
	"EXPLAIN": {},
}

const identPattern = `("[^"]+"|\[[^\]]+\]|` + "`[^`]+`" + `|[A-Za-z_][\w.]*)`

// statementShapes is the opening of each statement kind. Most keywords are
// also English words, so a keyword alone is not enough to call a line SQL.
var statementShapes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)^select(\s|\*|\(|$)`),
	regexp.MustCompile(`(?is)^with\s+(recursive\s+)?` + identPattern + `\s*(\([^)]*\)\s*)?as\s*((not\s+)?materialized\s*)?\(`),
	regexp.MustCompile(`(?is)^values\s*\(`),
	regexp.MustCompile(`(?is)^(insert|replace)\s+(or\s+\w+\s+)?into\s`),
	regexp.MustCompile(`(?is)^update\s+(or\s+\w+\s+)?` + identPattern + `\s+set\s`),
	regexp.MustCompile(`(?is)^delete\s+from\s`),
	regexp.MustCompile(`(?is)^create\s+(or\s+replace\s+)?((temp|temporary|unique|virtual)\s+)?(table|view|index|trigger)\s`),
	regexp.MustCompile(`(?is)^drop\s+(table|view|index|trigger)\s`),
	regexp.MustCompile(`(?is)^alter\s+table\s`),
	regexp.MustCompile(`(?is)^pragma\s+` + identPattern + `\s*(=|\(|;|$)`),
	regexp.MustCompile(`(?is)^explain\s+(query\s+plan\s+|analyze\s+)?(select|with)\s`),
}

// ExtractSQL locates the SQL statement in a model reply. It returns the
// first fenced code block, otherwise the first line-anchored statement, cut
// at its terminating semicolon or the end of its paragraph.
func ExtractSQL(text string) (string, error) {
	if inner, ok := firstFence(text); ok {
		if sql := strings.TrimSpace(inner); sql != "" {
			return sql, nil
		}
	}

	trimmed := stripLabel(strings.TrimSpace(text))
	if trimmed == "" {
		return "", ErrNoSQL
	}
	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		candidate := stripLabel(strings.TrimSpace(line))
		rest := append([]string{candidate}, lines[i+1:]...)
		if !looksLikeStatement(strings.Join(rest, "\n")) {
			continue
		}
		if sql := cutStatement(rest); sql != "" {
			return sql, nil
		}
	}
	return "", ErrNoSQL
}

func firstFence(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	body := text[start+len(fence):]
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	// Drop an info string such as "sql" on the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		first := strings.TrimSpace(body[:nl])
		if first == "" || (isWord(first) && !hasKeywordPrefix(first)) {
			body = body[nl+1:]
		}
	} else if lower := strings.ToLower(strings.TrimSpace(body)); strings.HasPrefix(lower, "sql ") {
		body = strings.TrimSpace(body)[4:]
	}
	return body, true
}

// cutStatement joins lines until a terminating semicolon outside quotes or
// a blank line.
func cutStatement(lines []string) string {
	var b strings.Builder
	inSingle, inDouble := false, false
	for i, line := range lines {
		if i > 0 {
			if strings.TrimSpace(line) == "" && !inSingle && !inDouble {
				break
			}
			b.WriteByte('\n')
		}
		for _, r := range line {
			b.WriteRune(r)
			switch {
			case r == '\'' && !inDouble:
				inSingle = !inSingle
			case r == '"' && !inSingle:
				inDouble = !inDouble
			case r == ';' && !inSingle && !inDouble:
				return strings.TrimSpace(b.String())
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func stripLabel(value string) string {
	if len(value) >= 4 && strings.EqualFold(value[:4], "sql:") {
		return strings.TrimSpace(value[4:])
	}
	return value
}

func looksLikeStatement(value string) bool {
	for _, shape := range statementShapes {
		if shape.MatchString(value) {
			return true
		}
	}
	return false
}

func hasKeywordPrefix(value string) bool {
	end := strings.IndexFunc(value, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	word := value
	if end >= 0 {
		word = value[:end]
	}
	_, ok := leadingKeywords[strings.ToUpper(word)]
	return ok
}

func isWord(value string) bool {
	for _, r := range value {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '+') {
			return false
		}
	}
	return value != ""
}
