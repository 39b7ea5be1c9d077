// Package validation implements the schema-driven sanitizing validator for user records.
package validation

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"

	"github.com/fineu/fineu-core/internal/level"
)

// ValueType is the broad type a schema field must carry.
type ValueType string

const (
	Number  ValueType = "number"
	Integer ValueType = "integer"
	String  ValueType = "string"
	Object  ValueType = "object"
)

// Rule constrains a single field.
type Rule struct {
	Type     ValueType
	Required bool
	Min      *float64
	Max      *float64
	Allowed  []any
}

// Schema maps field names to their rules.
type Schema map[string]Rule

// Bound is a helper for the optional Min/Max pointers.
func Bound(v float64) *float64 {
	return &v
}

// UserRecordSchema returns the rules persisted user records must satisfy.
func UserRecordSchema(table *level.Table) Schema {
	keys := table.Keys()
	allowed := make([]any, len(keys))
	for i, k := range keys {
		allowed[i] = k
	}

	return Schema{
		"totalAssets": {Type: Number, Required: true, Min: Bound(0)},
		"cash":        {Type: Number, Required: true, Min: Bound(0)},
		"level":       {Type: String, Required: true, Allowed: allowed},
		"exp":         {Type: Integer, Required: true, Min: Bound(0)},
	}
}

// Validate checks fields against schema and returns a new map holding only the declared
// fields that were present. Fields are checked in name order; the first violation wins.
func Validate(fields map[string]any, schema Schema) (map[string]any, error) {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(schema))
	for _, name := range names {
		rule := schema[name]
		value, present := fields[name]
		if !present || isNil(value) {
			if rule.Required {
				return nil, &FieldError{Field: name, Kind: ErrMissingField}
			}
			continue
		}

		if err := checkValue(name, value, rule); err != nil {
			return nil, err
		}
		out[name] = value
	}

	return out, nil
}

func checkValue(name string, value any, rule Rule) error {
	num, numeric := toFloat(value)

	switch rule.Type {
	case Number:
		if !numeric || math.IsNaN(num) || math.IsInf(num, 0) {
			return &FieldError{Field: name, Kind: ErrTypeMismatch, Expected: rule.Type}
		}
	case Integer:
		if !numeric || num != math.Trunc(num) || math.IsInf(num, 0) {
			return &FieldError{Field: name, Kind: ErrTypeMismatch, Expected: rule.Type}
		}
	case String:
		if _, ok := value.(string); !ok {
			return &FieldError{Field: name, Kind: ErrTypeMismatch, Expected: rule.Type}
		}
	case Object:
		if k := reflect.ValueOf(value).Kind(); k != reflect.Map && k != reflect.Struct {
			return &FieldError{Field: name, Kind: ErrTypeMismatch, Expected: rule.Type}
		}
	}

	if numeric {
		if rule.Min != nil && num < *rule.Min {
			return &FieldError{Field: name, Kind: ErrOutOfRange, Bound: *rule.Min}
		}
		if rule.Max != nil && num > *rule.Max {
			return &FieldError{Field: name, Kind: ErrOutOfRange, Bound: *rule.Max}
		}
	}

	if len(rule.Allowed) > 0 && !contains(rule.Allowed, value) {
		return &FieldError{Field: name, Kind: ErrInvalidEnum, Allowed: rule.Allowed}
	}

	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case bool, string:
		return 0, false
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func contains(allowed []any, value any) bool {
	if !reflect.TypeOf(value).Comparable() {
		return false
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
