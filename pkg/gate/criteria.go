// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"fmt"
	"strconv"
	"strings"
)

// Criteria is a parsed boolean expression over named deliverable fields:
// clauses of the form `field op literal` joined by `and` and `or`, with
// `and` binding tighter. Example: "championStrength > 30 and coverage >= 0.8".
type Criteria struct {
	source string
	// disjunction of conjunctions
	groups [][]clause
}

type clause struct {
	field string
	op    string
	value literal
}

type literalKind int

const (
	litNumber literalKind = iota
	litString
	litBool
)

type literal struct {
	kind literalKind
	num  float64
	str  string
	b    bool
}

var comparisonOps = map[string]bool{
	">": true, ">=": true, "<": true, "<=": true, "==": true, "!=": true,
}

// ParseCriteria validates and compiles a criteria expression.
func ParseCriteria(expr string) (*Criteria, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("criteria is empty")
	}

	c := &Criteria{source: expr}
	for _, orPart := range splitKeyword(trimmed, "or") {
		var group []clause
		for _, andPart := range splitKeyword(orPart, "and") {
			cl, err := parseClause(andPart)
			if err != nil {
				return nil, err
			}
			group = append(group, cl)
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("empty clause group in %q", expr)
		}
		c.groups = append(c.groups, group)
	}
	return c, nil
}

// String returns the original expression.
func (c *Criteria) String() string {
	return c.source
}

// Evaluate resolves the expression against deliverable fields. An
// unresolvable field or an incomparable value makes its clause false,
// never an error.
func (c *Criteria) Evaluate(fields map[string]any) bool {
	for _, group := range c.groups {
		all := true
		for _, cl := range group {
			if !cl.eval(fields) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (cl clause) eval(fields map[string]any) bool {
	raw, ok := fields[cl.field]
	if !ok {
		return false
	}
	switch cl.value.kind {
	case litNumber:
		num, ok := asNumber(raw)
		if !ok {
			return false
		}
		return compareNumbers(num, cl.op, cl.value.num)
	case litBool:
		b, ok := raw.(bool)
		if !ok {
			return false
		}
		switch cl.op {
		case "==":
			return b == cl.value.b
		case "!=":
			return b != cl.value.b
		}
		return false
	default:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		switch cl.op {
		case "==":
			return s == cl.value.str
		case "!=":
			return s != cl.value.str
		}
		return false
	}
}

func parseClause(part string) (clause, error) {
	tokens := strings.Fields(part)
	if len(tokens) != 3 {
		return clause{}, fmt.Errorf("clause %q must be `field op value`", strings.TrimSpace(part))
	}
	field, op, raw := tokens[0], tokens[1], tokens[2]
	if !comparisonOps[op] {
		return clause{}, fmt.Errorf("unknown operator %q in %q", op, part)
	}
	return clause{field: field, op: op, value: parseLiteral(raw)}, nil
}

func parseLiteral(raw string) literal {
	if num, err := strconv.ParseFloat(raw, 64); err == nil {
		return literal{kind: litNumber, num: num}
	}
	switch strings.ToLower(raw) {
	case "true":
		return literal{kind: litBool, b: true}
	case "false":
		return literal{kind: litBool, b: false}
	}
	return literal{kind: litString, str: strings.Trim(raw, `"'`)}
}

// splitKeyword splits on a lowercase keyword token surrounded by spaces,
// keeping field names containing the keyword intact.
func splitKeyword(expr, keyword string) []string {
	fields := strings.Fields(expr)
	var parts []string
	var current []string
	for _, f := range fields {
		if strings.EqualFold(f, keyword) {
			parts = append(parts, strings.Join(current, " "))
			current = nil
			continue
		}
		current = append(current, f)
	}
	parts = append(parts, strings.Join(current, " "))
	return parts
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		num, err := strconv.ParseFloat(n, 64)
		return num, err == nil
	default:
		return 0, false
	}
}

func compareNumbers(a float64, op string, b float64) bool {
	switch op {
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}
