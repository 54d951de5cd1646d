// Package normalizer repairs the near-JSON text language models tend to emit
// and parses it into a structured value.
//
// Repair is a fixed sequence of pure, string-literal aware transforms:
//
//  1. collapse template-escaped doubled braces ("{{" / "}}")
//  2. trim whitespace, unwrap code fences and cut surrounding prose
//  3. drop trailing commas before "}" or "]"
//  4. insert missing commas between adjacent "}{" and "]["
//  5. parse
//  6. on failure insert commas between adjacent quoted strings and parse once more
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Shape is the top-level JSON kind a caller expects.
type Shape int

const (
	ShapeAny Shape = iota
	ShapeObject
	ShapeArray
)

func (s Shape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeArray:
		return "array"
	default:
		return "json"
	}
}

// ErrMalformedOutput is matched by every failure returned from this package.
var ErrMalformedOutput = errors.New("malformed model output")

// ParseFailure reports text that could not be repaired into the expected shape.
type ParseFailure struct {
	Raw      string
	Repaired string
	Shape    Shape
	Err      error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("malformed model output (expected %s): %v", e.Shape, e.Err)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

func (e *ParseFailure) Is(target error) bool {
	return target == ErrMalformedOutput
}

// Repair applies transforms 1 to 4 and returns the candidate text.
func Repair(raw string, shape Shape) string {
	s := collapseDoubledBraces(raw)
	s = strings.TrimSpace(s)
	s = extractSpan(s, shape)
	s = removeTrailingCommas(s)
	s = insertBoundaryCommas(s)
	return s
}

// Parse repairs raw and parses it. The returned result always matches shape.
func Parse(raw string, shape Shape) (gjson.Result, error) {
	if strings.TrimSpace(raw) == "" {
		return gjson.Result{}, &ParseFailure{Raw: raw, Shape: shape, Err: errors.New("empty response")}
	}

	candidate := Repair(raw, shape)
	if res, err := parseShape(candidate, shape); err == nil {
		return res, nil
	}

	candidate = insertStringCommas(candidate)
	res, err := parseShape(candidate, shape)
	if err != nil {
		return gjson.Result{}, &ParseFailure{Raw: raw, Repaired: candidate, Shape: shape, Err: err}
	}
	return res, nil
}

// Decode parses raw and unmarshals the repaired JSON into v.
func Decode(raw string, shape Shape, v any) error {
	res, err := Parse(raw, shape)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Raw), v); err != nil {
		return &ParseFailure{Raw: raw, Repaired: res.Raw, Shape: shape, Err: err}
	}
	return nil
}

func parseShape(s string, shape Shape) (gjson.Result, error) {
	if !gjson.Valid(s) {
		return gjson.Result{}, errors.New("invalid json")
	}
	res := gjson.Parse(s)
	switch shape {
	case ShapeObject:
		if !res.IsObject() {
			return gjson.Result{}, errors.New("root is not an object")
		}
	case ShapeArray:
		if !res.IsArray() {
			return gjson.Result{}, errors.New("root is not an array")
		}
	default:
		if !res.IsObject() && !res.IsArray() {
			return gjson.Result{}, errors.New("root is not an object or array")
		}
	}
	return res, nil
}
