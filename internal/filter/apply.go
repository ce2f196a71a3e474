package filter

import (
	"etlpulse/internal/table"
)

type rowTest func(table.Value) bool

// Apply returns the rows of t matching every condition in spec, in their
// original order. An empty spec returns t unchanged.
func Apply(t *table.Table, spec Spec) (*table.Table, error) {
	if err := spec.Validate(t); err != nil {
		return nil, err
	}
	if len(spec) == 0 {
		return t, nil
	}

	type check struct {
		values []table.Value
		test   rowTest
	}
	checks := make([]check, 0, len(spec))
	for _, name := range spec.Columns() {
		col, _ := t.Column(name)
		checks = append(checks, check{values: col.Values, test: compile(spec[name])})
	}

	keep := make([]int, 0, t.NumRows())
rows:
	for i := 0; i < t.NumRows(); i++ {
		for _, c := range checks {
			if !c.test(c.values[i]) {
				continue rows
			}
		}
		keep = append(keep, i)
	}
	return t.SelectRows(keep), nil
}

func compile(c Condition) rowTest {
	switch c := c.(type) {
	case RangeFilter:
		return func(v table.Value) bool {
			f, ok := v.Float()
			if !ok {
				return false
			}
			if c.Min != nil && f < *c.Min {
				return false
			}
			if c.Max != nil && f > *c.Max {
				return false
			}
			return true
		}
	case ValueSetFilter:
		return memberOf(c.Values)
	case PredicateFilter:
		return c.Fn
	}
	return func(table.Value) bool { return false }
}

// memberOf matches numbers by value and everything else by canonical string.
// A number cell also matches a string member equal to its canonical form.
func memberOf(members []table.Value) rowTest {
	nums := make(map[float64]struct{})
	strs := make(map[string]struct{})
	matchMissing := false
	for _, m := range members {
		switch {
		case m.IsMissing():
			matchMissing = true
		case m.Kind() == table.KindNumber:
			f, _ := m.Float()
			nums[f] = struct{}{}
		default:
			strs[m.String()] = struct{}{}
		}
	}

	return func(v table.Value) bool {
		if v.IsMissing() {
			return matchMissing
		}
		if f, ok := v.Float(); ok {
			if _, hit := nums[f]; hit {
				return true
			}
		}
		_, hit := strs[v.String()]
		return hit
	}
}
