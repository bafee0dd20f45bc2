package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierRe allows alphanumeric + underscores, starting with a letter or underscore.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// maxIdentifierLen is the maximum length allowed for a SQL identifier.
const maxIdentifierLen = 128

// ValidateIdentifier checks that name is a safe SQL identifier:
//   - Non-empty
//   - At most 128 characters
//   - Matches [a-zA-Z_][a-zA-Z0-9_]*
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("name must be at most %d characters", maxIdentifierLen)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("name must match [a-zA-Z_][a-zA-Z0-9_]*")
	}
	return nil
}

// ValidateTableName accepts "table" or "schema.table", each part a valid
// identifier.
func ValidateTableName(name string) error {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("table name %q has more than two parts", name)
	}
	for _, p := range parts {
		if err := ValidateIdentifier(p); err != nil {
			return fmt.Errorf("table name %q: %w", name, err)
		}
	}
	return nil
}

// ValidateColumnName is looser than ValidateIdentifier: columns read from
// spreadsheets keep spaces and accents, so any printable name that fits is
// accepted and always quoted.
func ValidateColumnName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("column name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("column name must be at most %d characters", maxIdentifierLen)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("column name contains a NUL byte")
	}
	return nil
}

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double-quote characters by doubling them (standard SQL).
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteTableName quotes each part of a possibly schema-qualified name.
func QuoteTableName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// QuoteLiteral wraps a string value in single quotes, escaping any
// embedded single-quote characters by doubling them (standard SQL).
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
