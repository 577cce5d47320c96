package storage

import (
	"regexp"
	"strings"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/value"
)

var bracketIdent = regexp.MustCompile(`\[([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?)\]`)

// rewriteIdentifiers replaces every [name] with the dialect's quoted name.
func rewriteIdentifiers(stmt string, d Dialect) string {
	return bracketIdent.ReplaceAllStringFunc(stmt, func(m string) string {
		return d.Quote(m[1 : len(m)-1])
	})
}

// bindNamed replaces :name references with the dialect's placeholders and
// returns the arguments in placeholder order.
//
// Text inside quotes is copied untouched, as is the :: cast operator. A slice
// value expands to a comma separated placeholder list (an empty slice becomes
// NULL); a value.Expression is embedded verbatim. Binds the statement does not
// reference are ignored.
func bindNamed(stmt string, bind Bind, d Dialect) (string, []any, error) {
	var (
		b     strings.Builder
		args  []any
		quote byte
	)
	b.Grow(len(stmt))

	for i := 0; i < len(stmt); i++ {
		c := stmt[i]

		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == ':' && i+1 < len(stmt) && stmt[i+1] == ':':
			b.WriteString("::")
			i++
		case c == ':' && i+1 < len(stmt) && isIdentStart(stmt[i+1]):
			j := i + 1
			for j < len(stmt) && isIdentPart(stmt[j]) {
				j++
			}
			name := stmt[i+1 : j]
			v, ok := bind[name]
			if !ok {
				return "", nil, errors.Newf(errors.Gateway, "no value bound for :%s", name).WithField(name)
			}
			args = writeBound(&b, v, args, d)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}

	if quote != 0 {
		return "", nil, errors.New(errors.Gateway, "unterminated quoted string in statement")
	}
	return b.String(), args, nil
}

func writeBound(b *strings.Builder, v any, args []any, d Dialect) []any {
	if e, ok := v.(value.Expression); ok {
		b.WriteString(rewriteIdentifiers(e.SQL(), d))
		return args
	}

	list, ok := expand(v)
	if !ok {
		args = append(args, v)
		b.WriteString(d.Placeholder(len(args)))
		return args
	}
	if len(list) == 0 {
		b.WriteString("NULL")
		return args
	}
	for i, item := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		args = append(args, item)
		b.WriteString(d.Placeholder(len(args)))
	}
	return args
}

// expand returns the elements of a list-valued bind. []byte is a scalar.
func expand(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
