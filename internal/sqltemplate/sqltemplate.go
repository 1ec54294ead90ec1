// Package sqltemplate renders named-placeholder SQL text into literal SQL.
//
// A placeholder is the delimiter (":" by default) followed by one or more
// ASCII word characters, where the delimiter is not itself preceded by a word
// character. The name is the longest word run after the delimiter, so ":val"
// never matches inside ":value". Text inside quoted literals, quoted
// identifiers and comments is never scanned, and "::type" casts are left
// alone. PostgreSQL escape strings (E'...') and dollar-quoted bodies
// ($$...$$, $tag$...$tag$) count as quoted literals.
//
// IDENT(:name) renders the value as a quoted identifier instead of a literal.
package sqltemplate

import (
	"sort"
	"strings"
)

const (
	DefaultDelimiter  = ':'
	DefaultIdentQuote = '"'
)

type options struct {
	delimiter        byte
	identQuote       byte
	backslashEscapes bool
}

// Option configures scanning and rendering.
type Option func(*options)

// WithDelimiter sets the byte that introduces a placeholder.
func WithDelimiter(delimiter byte) Option {
	return func(o *options) {
		o.delimiter = delimiter
	}
}

// WithIdentQuote sets the quote used by IDENT(:name).
func WithIdentQuote(quote byte) Option {
	return func(o *options) {
		o.identQuote = quote
	}
}

// WithBackslashEscapes targets engines that treat a backslash inside a quoted
// string as an escape character, such as MySQL in its default sql_mode.
// Rendered string literals double every backslash, and the scanner treats a
// backslash-escaped quote as part of the literal.
func WithBackslashEscapes() Option {
	return func(o *options) {
		o.backslashEscapes = true
	}
}

func newOptions(opts []Option) options {
	o := options{delimiter: DefaultDelimiter, identQuote: DefaultIdentQuote}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// SafeReplace substitutes every placeholder whose name is a key of params.
// Placeholders without a value are left untouched. All values are checked
// before any output is produced; an unsupported value fails the whole call.
func SafeReplace(sql string, params map[string]any, opts ...Option) (string, error) {
	o := newOptions(opts)
	if err := validateValues(params, o); err != nil {
		return "", err
	}
	if len(params) == 0 {
		return sql, nil
	}

	var b strings.Builder
	b.Grow(len(sql))
	last := 0
	for _, p := range scan(sql, o) {
		value, ok := params[p.name]
		if !ok {
			continue
		}
		var rendered string
		var err error
		if p.ident {
			rendered, err = Identifier(p.name, value, o.identQuote)
		} else {
			rendered, err = literal(p.name, value, o)
		}
		if err != nil {
			return "", err
		}
		b.WriteString(sql[last:p.start])
		b.WriteString(rendered)
		last = p.end
	}
	b.WriteString(sql[last:])
	return b.String(), nil
}

// Validate reports the first value in params that cannot be rendered at the
// place sql uses it, without producing any output. A value bound to
// IDENT(:name) must be a valid identifier as well as a valid literal.
func Validate(sql string, params map[string]any, opts ...Option) error {
	_, err := SafeReplace(sql, params, opts...)
	return err
}

// ParseParameters returns the sorted, distinct placeholder names in sql,
// including names wrapped in IDENT(...).
func ParseParameters(sql string, opts ...Option) []string {
	o := newOptions(opts)
	seen := map[string]struct{}{}
	names := make([]string, 0)
	for _, p := range scan(sql, o) {
		if _, ok := seen[p.name]; ok {
			continue
		}
		seen[p.name] = struct{}{}
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

type placeholder struct {
	start int
	end   int
	name  string
	ident bool
}

func scan(sql string, o options) []placeholder {
	delimiter := o.delimiter
	var out []placeholder
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == delimiter:
			if i+1 < len(sql) && sql[i+1] == delimiter {
				// cast, e.g. ::int
				i += 2
				continue
			}
			end := wordEnd(sql, i+1)
			if end == i+1 || (i > 0 && isWord(sql[i-1])) {
				i++
				continue
			}
			out = append(out, placeholder{start: i, end: end, name: sql[i+1 : end]})
			i = end
		case c == '\'' || c == '"':
			i = skipQuoted(sql, i, c, o.backslashEscapes)
		case c == '`':
			i = skipQuoted(sql, i, c, false)
		case c == '$' && (i == 0 || !isWord(sql[i-1])):
			i = skipDollarQuoted(sql, i)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			i = skipLineComment(sql, i)
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
		case (c == 'e' || c == 'E') && i+1 < len(sql) && sql[i+1] == '\'':
			i = skipQuoted(sql, i+1, '\'', true)
		case c == 'i' || c == 'I':
			if p, ok := matchIdent(sql, i, delimiter); ok {
				out = append(out, p)
				i = p.end
				continue
			}
			i = wordEnd(sql, i)
		case isWord(c):
			i = wordEnd(sql, i)
		default:
			i++
		}
	}
	return out
}

// matchIdent recognises IDENT ( :name ) starting at i. The caller guarantees
// that i starts a word.
func matchIdent(sql string, i int, delimiter byte) (placeholder, bool) {
	const keyword = "ident"
	if len(sql)-i < len(keyword) || !strings.EqualFold(sql[i:i+len(keyword)], keyword) {
		return placeholder{}, false
	}
	j := skipSpace(sql, i+len(keyword))
	if j >= len(sql) || sql[j] != '(' {
		return placeholder{}, false
	}
	j = skipSpace(sql, j+1)
	if j >= len(sql) || sql[j] != delimiter {
		return placeholder{}, false
	}
	end := wordEnd(sql, j+1)
	if end == j+1 {
		return placeholder{}, false
	}
	k := skipSpace(sql, end)
	if k >= len(sql) || sql[k] != ')' {
		return placeholder{}, false
	}
	return placeholder{start: i, end: k + 1, name: sql[j+1 : end], ident: true}, true
}

func skipQuoted(sql string, start int, quote byte, backslashEscapes bool) int {
	for i := start + 1; i < len(sql); i++ {
		if backslashEscapes && sql[i] == '\\' {
			i++
			continue
		}
		if sql[i] != quote {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(sql)
}

// skipDollarQuoted skips a $tag$...$tag$ body. A "$" that does not open a
// tag, such as a positional $1, is stepped over.
func skipDollarQuoted(sql string, start int) int {
	j := start + 1
	if j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
		return j
	}
	j = wordEnd(sql, j)
	if j >= len(sql) || sql[j] != '$' {
		return start + 1
	}
	tag := sql[start : j+1]
	if idx := strings.Index(sql[j+1:], tag); idx >= 0 {
		return j + 1 + idx + len(tag)
	}
	return len(sql)
}

func skipLineComment(sql string, start int) int {
	if idx := strings.IndexByte(sql[start:], '\n'); idx >= 0 {
		return start + idx + 1
	}
	return len(sql)
}

func skipBlockComment(sql string, start int) int {
	if idx := strings.Index(sql[start+2:], "*/"); idx >= 0 {
		return start + 2 + idx + 2
	}
	return len(sql)
}

func skipSpace(sql string, i int) int {
	for i < len(sql) && (sql[i] == ' ' || sql[i] == '\t' || sql[i] == '\n' || sql[i] == '\r') {
		i++
	}
	return i
}

func wordEnd(sql string, i int) int {
	for i < len(sql) && isWord(sql[i]) {
		i++
	}
	return i
}

func isWord(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
