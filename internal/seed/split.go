package seed

import "strings"

// SplitStatements cuts a script at semicolons that sit outside quotes and
// comments. Comment-only fragments are dropped, as are transaction control
// statements since Apply runs its own transaction.
func SplitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		hasCode    bool
	)
	emit := func() {
		statement := strings.TrimSpace(current.String())
		current.Reset()
		if hasCode && !isTransactionControl(statement) {
			statements = append(statements, statement)
		}
		hasCode = false
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\'' || c == '"':
			end := i + 1
			for end < len(script) {
				if script[end] == c {
					if end+1 < len(script) && script[end+1] == c {
						end += 2
						continue
					}
					break
				}
				end++
			}
			if end >= len(script) {
				end = len(script) - 1
			}
			current.WriteString(script[i : end+1])
			hasCode = true
			i = end
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script)
				break
			}
			i += end + 3
			current.WriteByte(' ')
		case c == ';':
			emit()
		default:
			current.WriteByte(c)
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
				hasCode = true
			}
		}
	}
	emit()
	return statements
}

func isTransactionControl(statement string) bool {
	switch strings.ToUpper(strings.Join(strings.Fields(statement), " ")) {
	case "BEGIN", "BEGIN TRANSACTION", "COMMIT", "END", "END TRANSACTION", "COMMIT TRANSACTION":
		return true
	default:
		return false
	}
}
