package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Float reads a number that a model may have written as "85%", "$150.25" or "1,200".
func Float(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		s := strings.ReplaceAll(r.String(), ",", "")
		m := numberPattern.FindString(s)
		if m == "" {
			return 0
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	default:
		return 0
	}
}

func Int(r gjson.Result) int {
	return int(math.Round(Float(r)))
}

func String(r gjson.Result) string {
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(r.String())
}

// Strings reads a list of strings. A bare string becomes a one-element list and
// empty entries are dropped.
func Strings(r gjson.Result) []string {
	out := []string{}
	switch {
	case r.IsArray():
		r.ForEach(func(_, v gjson.Result) bool {
			if s := String(v); s != "" {
				out = append(out, s)
			}
			return true
		})
	case r.Type == gjson.String:
		if s := String(r); s != "" {
			out = append(out, s)
		}
	}
	return out
}
