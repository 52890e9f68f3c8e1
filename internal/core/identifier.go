package core

import "strings"

// Identifier length limits.
const (
	MaxComponentLen = 50
	MaxIDLen        = 255
)

// Separator joins identifier components.
const Separator = "_"

// SanitizeComponent normalizes one identifier component: ASCII letters are
// upper-cased, digits and '.' are kept, every other rune becomes '_', runs of
// '_' collapse, the result is cut to MaxComponentLen and stripped of leading
// and trailing '_'. SanitizeComponent(SanitizeComponent(s)) == SanitizeComponent(s).
func SanitizeComponent(s string) string {
	return sanitize(s, MaxComponentLen)
}

// SanitizeID applies the component rules to a whole identifier with the
// MaxIDLen limit.
func SanitizeID(s string) string {
	return sanitize(s, MaxIDLen)
}

func sanitize(s string, limit int) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSep := true // suppresses a leading separator
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteByte(byte(r - 'a' + 'A'))
			lastSep = false
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.':
			b.WriteByte(byte(r))
			lastSep = false
		default:
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}

	out := b.String()
	if len(out) > limit {
		out = out[:limit]
	}
	return strings.Trim(out, Separator)
}

// BuildID joins the sanitized, non-empty components with the separator.
func BuildID(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := SanitizeComponent(p); c != "" {
			clean = append(clean, c)
		}
	}
	return SanitizeID(strings.Join(clean, Separator))
}

// ExtendID appends components to an identifier that was already built.
func ExtendID(parent string, parts ...string) string {
	suffix := BuildID(parts...)
	if suffix == "" {
		return SanitizeID(parent)
	}
	return SanitizeID(parent + Separator + suffix)
}

// ExtendOpenID is ExtendID for a single component that may legitimately be
// empty (open axes, abstract headers). An empty component keeps a trailing
// separator so "T_1_" stays distinct from the axis "T_1" and from any
// numbered ordinate "T_1_0010".
func ExtendOpenID(parent, part string) string {
	if c := SanitizeComponent(part); c != "" {
		return ExtendID(parent, c)
	}
	p := SanitizeID(parent)
	if len(p) >= MaxIDLen {
		p = strings.TrimRight(p[:MaxIDLen-1], Separator)
	}
	return p + Separator
}

// AxisNumber maps an axis orientation to its numeric token: X=1, Y=2, Z=3.
// Numeric orientations and column/row/sheet aliases are accepted; otherwise
// the raw axis order is used, and "" when neither is available.
func AxisNumber(orientation, order string) string {
	switch strings.ToUpper(strings.TrimSpace(orientation)) {
	case "X", "1", "COLUMN", "COLUMNS", "COL":
		return "1"
	case "Y", "2", "ROW", "ROWS":
		return "2"
	case "Z", "3", "SHEET", "SHEETS", "PAGE":
		return "3"
	}
	if o := SanitizeComponent(order); o != "" {
		return o
	}
	return ""
}
