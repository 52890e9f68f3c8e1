package core

// convert.go turns loosely typed export cells into typed target values.
//
// Exports are produced by several tools and are not consistent:
//   - dates arrive as ISO, US or EU layouts, sometimes with a time part
//   - booleans arrive as true/false, yes/no, 1/0, t/f, y/n, x
//   - keys arrive padded with whitespace or leading zeros
//   - spreadsheet round trips leave ="value" wrappers and stray quotes
//
// The ToPg* helpers return pgtype values with Valid=false for empty or
// unparseable input; they marshal to JSON as the value or null and are passed
// unchanged to the persistence layer.

import (
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// dateLayouts are tried in order; four-digit years only, exports never carry
// two-digit years.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"01-02-2006",
	"02.01.2006",
	"20060102",
}

// ToPgDate converts a string to pgtype.Date, dropping any time component.
func ToPgDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			y, m, d := t.Date()
			return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
		}
	}

	return pgtype.Date{Valid: false}
}

// ToPgBool converts a string to pgtype.Bool.
// Accepts true/false, yes/no, t/f, y/n, 1/0, and "x" as used by checkbox
// columns in spreadsheet based exports.
func ToPgBool(s string) pgtype.Bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return pgtype.Bool{Valid: false}
	}

	switch s {
	case "true", "t", "yes", "y", "1", "x", "-1":
		return pgtype.Bool{Bool: true, Valid: true}
	case "false", "f", "no", "n", "0":
		return pgtype.Bool{Bool: false, Valid: true}
	default:
		return pgtype.Bool{Valid: false}
	}
}

// ToPgInt4 parses an integer cell. Returns invalid for empty or non-numeric
// input and for values outside the int32 range.
func ToPgInt4(s string) pgtype.Int4 {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Int4{Valid: false}
	}
	i, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return pgtype.Int4{Valid: false}
	}
	return pgtype.Int4{Int32: int32(i), Valid: true}
}

// NormalizeKey parses a source identifier as the natural integer key of the
// export and returns its canonical decimal form ("007" -> "7").
func NormalizeKey(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	// Some tools write integer keys as floats ("12.0").
	if before, after, ok := strings.Cut(s, "."); ok && strings.Trim(after, "0") == "" {
		s = before
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Keys are lowercased for case-insensitive matching; the first occurrence of
// a duplicated column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if _, dup := idx[key]; dup || key == "" {
			continue
		}
		idx[key] = i
	}
	return idx
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = s[1 : len(s)-1]
	}

	return strings.TrimSpace(s)
}
