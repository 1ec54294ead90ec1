package sqltemplate

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeReplaceLiterals(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		params map[string]any
		want   string
	}{
		{"string", "select * from t where a = :a", map[string]any{"a": "x"}, "select * from t where a = 'x'"},
		{"escaped quote", "select :a", map[string]any{"a": "O'Brien"}, "select 'O''Brien'"},
		{"injection attempt", "select :a", map[string]any{"a": "'; drop table t; --"}, "select '''; drop table t; --'"},
		{"int", "select :a", map[string]any{"a": 42}, "select 42"},
		{"negative int64", "select :a", map[string]any{"a": int64(-7)}, "select -7"},
		{"uint", "select :a", map[string]any{"a": uint16(9)}, "select 9"},
		{"float", "select :a", map[string]any{"a": 1.5}, "select 1.5"},
		{"json number", "select :a", map[string]any{"a": json.Number("1.0")}, "select 1.0"},
		{"null", "select :a", map[string]any{"a": nil}, "select NULL"},
		{"repeated", "select :a, :a", map[string]any{"a": 1}, "select 1, 1"},
		{"missing key left", "select :a, :b", map[string]any{"a": 1}, "select 1, :b"},
		{"no partial name match", "select :val, :value", map[string]any{"val": 1, "value": 2}, "select 1, 2"},
		{"word boundary before", "select a:b", map[string]any{"b": 1}, "select a:b"},
		{"cast untouched", "select :a::int", map[string]any{"a": "5", "int": 1}, "select '5'::int"},
		{"quoted literal untouched", "select ':a', :a", map[string]any{"a": 1}, "select ':a', 1"},
		{"quoted identifier untouched", `select ":a" from t where x = :a`, map[string]any{"a": 1}, `select ":a" from t where x = 1`},
		{"line comment untouched", "select :a -- don't :a\n, :a", map[string]any{"a": 1}, "select 1 -- don't :a\n, 1"},
		{"block comment untouched", "select /* :a */ :a", map[string]any{"a": 1}, "select /* :a */ 1"},
		{"value not rescanned", "select :a, :b", map[string]any{"a": ":b", "b": 2}, "select ':b', 2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SafeReplace(tc.sql, tc.params)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSafeReplaceIdent(t *testing.T) {
	got, err := SafeReplace("select * from IDENT(:table) where name = :table", map[string]any{"table": "my table"})
	require.NoError(t, err)
	assert.Equal(t, `select * from "my table" where name = 'my table'`, got)

	got, err = SafeReplace("select ident( :col ) from t", map[string]any{"col": `a"b`})
	require.NoError(t, err)
	assert.Equal(t, `select "a""b" from t`, got)

	got, err = SafeReplace("select IDENT(:col) from t", map[string]any{"col": "c"}, WithIdentQuote('`'))
	require.NoError(t, err)
	assert.Equal(t, "select `c` from t", got)

	got, err = SafeReplace("select identity(:col)", map[string]any{"col": "c"})
	require.NoError(t, err)
	assert.Equal(t, "select identity('c')", got)

	_, err = SafeReplace("select IDENT(:col)", map[string]any{"col": nil})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSafeReplaceCustomDelimiter(t *testing.T) {
	got, err := SafeReplace("select @a, :a", map[string]any{"a": 1}, WithDelimiter('@'))
	require.NoError(t, err)
	assert.Equal(t, "select 1, :a", got)
}

func TestSafeReplaceUnsupportedType(t *testing.T) {
	for name, value := range map[string]any{
		"bool":   true,
		"slice":  []int{1},
		"map":    map[string]any{},
		"time":   time.Now(),
		"nan":    math.NaN(),
		"inf":    math.Inf(1),
		"number": json.Number("abc"),
	} {
		t.Run(name, func(t *testing.T) {
			out, err := SafeReplace("select :a, :b", map[string]any{"a": "x", "b": value})
			require.Error(t, err)
			assert.Empty(t, out)
			assert.True(t, errors.Is(err, ErrUnsupportedType))
			var typed *UnsupportedTypeError
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, "b", typed.Name)
		})
	}
}

func TestSafeReplaceIdempotentWithEmptyParams(t *testing.T) {
	first, err := SafeReplace("select :a, ':b' where c = :c", map[string]any{"a": "it's", "c": 3})
	require.NoError(t, err)
	assert.Empty(t, ParseParameters(first))

	second, err := SafeReplace(first, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseParameters(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseParameters("select :a, :b where :a > 1"))
	assert.Equal(t, []string{"col", "x"}, ParseParameters("select IDENT(:col) from t where y = :x::text"))
	assert.Equal(t, []string{}, ParseParameters("select 1"))
	assert.Equal(t, []string{"value"}, ParseParameters("select ':skip' || :value"))
}

// Placeholder-looking text inside literals, quoted identifiers and comments is
// data, not a parameter, on every code path.
func TestQuotedAndCommentTextIsNeverAParameter(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"single quoted", "select ':a'", "select ':a'"},
		{"doubled quote inside literal", "select 'it''s :a'", "select 'it''s :a'"},
		{"double quoted", `select ":a"`, `select ":a"`},
		{"backtick quoted", "select `:a`", "select `:a`"},
		{"line comment", "select 1 -- :a", "select 1 -- :a"},
		{"block comment", "select /* :a */ 1", "select /* :a */ 1"},
		{"escape string", `select E'it\'s :a'`, `select E'it\'s :a'`},
		{"lower case escape string", `select e'\\' || :a`, `select e'\\' || 1`},
		{"dollar quoted", "select $$ :a $$, :a", "select $$ :a $$, 1"},
		{"tagged dollar quoted", "select $fn$ ':a $$ $fn$ || :a", "select $fn$ ':a $$ $fn$ || 1"},
		{"positional parameter", "select $1, :a", "select $1, 1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SafeReplace(tc.sql, map[string]any{"a": 1})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want != tc.sql, len(ParseParameters(tc.sql)) == 1)
		})
	}
}

func TestBackslashEscapes(t *testing.T) {
	got, err := SafeReplace("select :a", map[string]any{"a": `\' or 1=1 -- `}, WithBackslashEscapes())
	require.NoError(t, err)
	assert.Equal(t, `select '\\'' or 1=1 -- '`, got)

	got, err = SafeReplace("select :a", map[string]any{"a": `\' or 1=1 -- `})
	require.NoError(t, err)
	assert.Equal(t, `select '\'' or 1=1 -- '`, got)

	sql := `select 'it\'s :a', :a`
	got, err = SafeReplace(sql, map[string]any{"a": 1}, WithBackslashEscapes())
	require.NoError(t, err)
	assert.Equal(t, `select 'it\'s :a', 1`, got)
	assert.Equal(t, []string{"a"}, ParseParameters(sql, WithBackslashEscapes()))

	got, err = SafeReplace("select IDENT(:c)", map[string]any{"c": `a\b`}, WithIdentQuote('`'), WithBackslashEscapes())
	require.NoError(t, err)
	assert.Equal(t, "select `a\\b`", got)
}

func TestValidateChecksIdentifierPositions(t *testing.T) {
	require.NoError(t, ValidateValues(map[string]any{"t": nil}))

	err := Validate("select * from IDENT(:t)", map[string]any{"t": nil})
	var typed *UnsupportedTypeError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "t", typed.Name)

	require.NoError(t, Validate("select * from t where x = :t", map[string]any{"t": nil}))
	require.ErrorIs(t, Validate("select :t", map[string]any{"t": true}), ErrUnsupportedType)
}

func TestFloatRendersLikeJSON(t *testing.T) {
	for _, v := range []float64{1, 0.1, 1e-7, 1e21, -3.25} {
		encoded, err := json.Marshal(v)
		require.NoError(t, err)

		direct, err := Literal("v", v)
		require.NoError(t, err)
		viaWire, err := Literal("v", json.Number(encoded))
		require.NoError(t, err)
		assert.Equal(t, direct, viaWire)
	}
}
