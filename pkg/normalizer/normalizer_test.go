package normalizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseRepairsFixtures(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		shape Shape
		want  string
	}{
		{
			name:  "trailing commas",
			raw:   `{"a": [1, 2, ], "b": {"c": 3,},}`,
			shape: ShapeObject,
			want:  `{"a":[1,2],"b":{"c":3}}`,
		},
		{
			name:  "doubled braces",
			raw:   `{{"sentiment": "bullish", "nested": {{"x": 1}}}}`,
			shape: ShapeObject,
			want:  `{"sentiment":"bullish","nested":{"x":1}}`,
		},
		{
			name:  "missing object boundary",
			raw:   "[{\"q\": \"a\"}\n  {\"q\": \"b\"}]",
			shape: ShapeArray,
			want:  `[{"q":"a"},{"q":"b"}]`,
		},
		{
			name:  "missing array boundary",
			raw:   `[[1] [2]]`,
			shape: ShapeArray,
			want:  `[[1],[2]]`,
		},
		{
			name:  "adjacent strings",
			raw:   `{"themes": ["a" "b"], "x": "y"}`,
			shape: ShapeObject,
			want:  `{"themes":["a","b"],"x":"y"}`,
		},
		{
			name:  "missing comma between members",
			raw:   "{\"a\": \"x\"\n \"b\": {\"c\": 1}\n \"d\": 2}",
			shape: ShapeObject,
			want:  `{"a":"x","b":{"c":1},"d":2}`,
		},
		{
			name:  "fenced with prose",
			raw:   "Here is my analysis:\n```json\n{\"confidence\": 80,}\n```\nLet me know.",
			shape: ShapeObject,
			want:  `{"confidence":80}`,
		},
		{
			name:  "objects requested as array",
			raw:   `{"q":"a"}{"q":"b"}`,
			shape: ShapeArray,
			want:  `[{"q":"a"},{"q":"b"}]`,
		},
		{
			name:  "valid nested json untouched",
			raw:   `  {"a":{"b":{"c":1}}}  `,
			shape: ShapeObject,
			want:  `{"a":{"b":{"c":1}}}`,
		},
		{
			name:  "string contents untouched",
			raw:   `{"text": "keep }{ and ,] and {{ here",}`,
			shape: ShapeObject,
			want:  `{"text":"keep }{ and ,] and {{ here"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Parse(tc.raw, tc.shape)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, res.Raw)
		})
	}
}

func TestParseReportsFailure(t *testing.T) {
	for _, raw := range []string{"", "not json at all", `{"a": }`, `[1, 2]`} {
		_, err := Parse(raw, ShapeObject)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrMalformedOutput), raw)

		var pf *ParseFailure
		require.True(t, errors.As(err, &pf))
		assert.Equal(t, raw, pf.Raw)
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		Action string   `json:"action"`
		Risks  []string `json:"risks"`
	}
	require.NoError(t, Decode(`{"action": "buy", "risks": ["rates" "fx"],}`, ShapeObject, &out))
	assert.Equal(t, "buy", out.Action)
	assert.Equal(t, []string{"rates", "fx"}, out.Risks)

	var wrong struct {
		Action int `json:"action"`
	}
	err := Decode(`{"action": "buy"}`, ShapeObject, &wrong)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestCoercion(t *testing.T) {
	res := gjson.Parse(`{"a": "85%", "b": "$1,200.50", "c": 42.4, "d": "n/a", "e": ["x", "", "y"], "f": "solo"}`)
	assert.Equal(t, 85.0, Float(res.Get("a")))
	assert.Equal(t, 1200.5, Float(res.Get("b")))
	assert.Equal(t, 42, Int(res.Get("c")))
	assert.Zero(t, Float(res.Get("d")))
	assert.Zero(t, Float(res.Get("missing")))
	assert.Equal(t, []string{"x", "y"}, Strings(res.Get("e")))
	assert.Equal(t, []string{"solo"}, Strings(res.Get("f")))
	assert.Equal(t, []string{}, Strings(res.Get("missing")))
}
