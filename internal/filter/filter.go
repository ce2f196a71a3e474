package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/table"
)

// Condition is a per-column row predicate. The concrete types are
// RangeFilter, ValueSetFilter and PredicateFilter.
type Condition interface {
	condition()
}

// RangeFilter keeps rows whose numeric value lies within [Min, Max].
// A nil bound is open.
type RangeFilter struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ValueSetFilter keeps rows whose value is one of Values
type ValueSetFilter struct {
	Values []table.Value
}

// PredicateFilter keeps rows for which Fn returns true
type PredicateFilter struct {
	Name string
	Fn   func(table.Value) bool
}

func (RangeFilter) condition()     {}
func (ValueSetFilter) condition()  {}
func (PredicateFilter) condition() {}

// MarshalJSON writes the value set as a JSON array
func (v ValueSetFilter) MarshalJSON() ([]byte, error) {
	if v.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Values)
}

// Spec maps column names to conditions. All entries must hold for a row to be kept.
type Spec map[string]Condition

// HasPredicates reports whether any condition is a PredicateFilter
func (s Spec) HasPredicates() bool {
	for _, c := range s {
		if _, ok := c.(PredicateFilter); ok {
			return true
		}
	}
	return false
}

// Columns returns the filtered column names, sorted
func (s Spec) Columns() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every condition against the table schema
func (s Spec) Validate(t *table.Table) error {
	for _, name := range s.Columns() {
		col, ok := t.Column(name)
		if !ok {
			return apperrors.NewInvalidFilterError(name, fmt.Sprintf("unknown column %q", name))
		}
		switch c := s[name].(type) {
		case RangeFilter:
			if c.Min == nil && c.Max == nil {
				return apperrors.NewInvalidFilterError(name, "range filter needs min or max")
			}
			if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
				return apperrors.NewInvalidFilterError(name, fmt.Sprintf("range min %v is greater than max %v", *c.Min, *c.Max))
			}
			if col.Type != table.Numeric {
				return apperrors.NewInvalidFilterError(name, fmt.Sprintf("range filter on %s column", col.Type))
			}
		case ValueSetFilter:
		case PredicateFilter:
			if c.Fn == nil {
				return apperrors.NewInvalidFilterError(name, "predicate filter has no function")
			}
		case nil:
			return apperrors.NewInvalidFilterError(name, "filter condition is empty")
		default:
			return apperrors.NewInvalidFilterError(name, fmt.Sprintf("unsupported condition %T", c))
		}
	}
	return nil
}

// MarshalJSON writes predicates by name only; their functions are not serialisable
func (s Spec) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.Columns() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')

		var (
			val []byte
			err error
		)
		switch c := s[name].(type) {
		case PredicateFilter:
			val, err = json.Marshal(map[string]string{"predicate": c.Name})
		default:
			val, err = json.Marshal(c)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses {"col": {"min": n, "max": n}} and {"col": [v, ...]}.
// Any other shape is an INVALID_FILTER error.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperrors.NewAppError(apperrors.ErrTypeInvalidFilter, "filter spec must be a JSON object", err)
	}

	out := make(Spec, len(raw))
	for name, msg := range raw {
		cond, err := parseCondition(name, msg)
		if err != nil {
			return err
		}
		out[name] = cond
	}
	*s = out
	return nil
}

func parseCondition(name string, msg json.RawMessage) (Condition, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 {
		return nil, apperrors.NewInvalidFilterError(name, "filter condition is empty")
	}

	switch trimmed[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, apperrors.NewInvalidFilterError(name, "range filter is malformed")
		}
		var rf RangeFilter
		for key, v := range fields {
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				return nil, apperrors.NewInvalidFilterError(name, fmt.Sprintf("range bound %q must be a number", key))
			}
			switch key {
			case "min":
				rf.Min = &f
			case "max":
				rf.Max = &f
			default:
				return nil, apperrors.NewInvalidFilterError(name, fmt.Sprintf("unknown range key %q", key))
			}
		}
		if rf.Min == nil && rf.Max == nil {
			return nil, apperrors.NewInvalidFilterError(name, "range filter needs min or max")
		}
		return rf, nil

	case '[':
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var items []interface{}
		if err := dec.Decode(&items); err != nil {
			return nil, apperrors.NewInvalidFilterError(name, "value set is malformed")
		}
		values := make([]table.Value, 0, len(items))
		for _, item := range items {
			switch item.(type) {
			case nil, json.Number, string, bool:
				values = append(values, table.FromInterface(item))
			default:
				return nil, apperrors.NewInvalidFilterError(name, "value set members must be scalars")
			}
		}
		return ValueSetFilter{Values: values}, nil

	default:
		return nil, apperrors.NewInvalidFilterError(name, "filter must be a range object or a value array")
	}
}
