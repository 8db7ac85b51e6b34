package compose

import (
	"fmt"
	"strings"
)

// LookupFunc resolves a variable name during interpolation. The bool
// reports whether the variable is set at all (an empty set value is
// distinct from unset for the ${VAR-def} form).
type LookupFunc func(name string) (string, bool)

// MapLookup builds a LookupFunc over a plain map.
func MapLookup(m map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// ChainLookup tries each lookup in order and returns the first hit.
func ChainLookup(lookups ...LookupFunc) LookupFunc {
	return func(name string) (string, bool) {
		for _, l := range lookups {
			if v, ok := l(name); ok {
				return v, true
			}
		}
		return "", false
	}
}

// Interpolate substitutes ${VAR}, ${VAR:-def}, ${VAR-def}, ${VAR:?err},
// ${VAR?err} and $VAR references in s. $$ escapes a literal dollar.
// Unset variables without a default resolve to the empty string; their
// names are returned so the caller can warn. A ${VAR:?err} reference to
// an unset (or empty, for the ':' form) variable is an error.
func Interpolate(s string, lookup LookupFunc) (string, []string, error) {
	var out strings.Builder
	var missing []string

	for i := 0; i < len(s); {
		c := s[i]
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(s) {
			out.WriteByte('$')
			i++
			continue
		}
		next := s[i+1]
		switch {
		case next == '$':
			out.WriteByte('$')
			i += 2
		case next == '{':
			end := findClosingBrace(s, i+2)
			if end < 0 {
				return "", nil, fmt.Errorf("unterminated ${ in %q", s)
			}
			expr := s[i+2 : end]
			val, miss, err := evalBraceExpr(expr, lookup)
			if err != nil {
				return "", nil, err
			}
			if miss != "" {
				missing = append(missing, miss)
			}
			out.WriteString(val)
			i = end + 1
		case isNameStart(next):
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			val, ok := lookup(name)
			if !ok {
				missing = append(missing, name)
			}
			out.WriteString(val)
			i = j
		default:
			// Lone dollar followed by something that cannot start a
			// variable name passes through untouched.
			out.WriteByte('$')
			i++
		}
	}
	return out.String(), missing, nil
}

// evalBraceExpr handles the inside of a ${...} reference. It returns the
// substituted value and, when the variable was unset with no default,
// its name.
func evalBraceExpr(expr string, lookup LookupFunc) (string, string, error) {
	name := expr
	op := ""
	arg := ""
	for j := 0; j < len(expr); j++ {
		if expr[j] == ':' || expr[j] == '-' || expr[j] == '?' {
			name = expr[:j]
			rest := expr[j:]
			switch {
			case strings.HasPrefix(rest, ":-"):
				op, arg = ":-", rest[2:]
			case strings.HasPrefix(rest, ":?"):
				op, arg = ":?", rest[2:]
			case strings.HasPrefix(rest, "-"):
				op, arg = "-", rest[1:]
			case strings.HasPrefix(rest, "?"):
				op, arg = "?", rest[1:]
			default:
				return "", "", fmt.Errorf("invalid variable reference ${%s}", expr)
			}
			break
		}
	}
	if name == "" || !validName(name) {
		return "", "", fmt.Errorf("invalid variable name in ${%s}", expr)
	}

	val, set := lookup(name)
	switch op {
	case "":
		if !set {
			return "", name, nil
		}
		return val, "", nil
	case ":-":
		if !set || val == "" {
			return arg, "", nil
		}
		return val, "", nil
	case "-":
		if !set {
			return arg, "", nil
		}
		return val, "", nil
	case ":?":
		if !set || val == "" {
			return "", "", requiredError(name, arg)
		}
		return val, "", nil
	case "?":
		if !set {
			return "", "", requiredError(name, arg)
		}
		return val, "", nil
	}
	return "", "", fmt.Errorf("invalid variable reference ${%s}", expr)
}

func requiredError(name, msg string) error {
	if msg == "" {
		return fmt.Errorf("required variable %s is missing", name)
	}
	return fmt.Errorf("required variable %s is missing: %s", name, msg)
}

// findClosingBrace returns the index of the brace closing a ${ opened
// just before start, or -1. Nested braces are not part of the grammar,
// so the first unescaped '}' wins.
func findClosingBrace(s string, start int) int {
	for j := start; j < len(s); j++ {
		if s[j] == '}' {
			return j
		}
	}
	return -1
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func validName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}
