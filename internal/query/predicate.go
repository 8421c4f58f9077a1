package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/expkit/internal/record"
)

// Op is a predicate operator.
type Op string

const (
	OpLessEqual    Op = "<="
	OpGreaterEqual Op = ">="
	OpEqual        Op = "="
	OpLess         Op = "<"
	OpGreater      Op = ">"

	// OpNameContains matches a substring of the record name.
	OpNameContains Op = "name~"
)

// operators in matching order: two-character operators first.
var operators = []Op{OpLessEqual, OpGreaterEqual, OpEqual, OpLess, OpGreater}

var andSeparator = regexp.MustCompile(`\s+AND\s+`)

// Predicate is a single key<op>value condition.
type Predicate struct {
	Key   string
	Op    Op
	Value string

	// number is the parsed value of a numeric comparison.
	number float64
}

// Query is a parsed conjunction of predicates. The zero Query matches every
// record.
type Query struct {
	Predicates []Predicate
}

// Parse parses a query string. An empty or blank string yields an empty
// Query. Fails with MalformedQuery when a predicate has no operator, does not
// split into exactly two parts, or compares against a non-numeric value.
func Parse(s string) (Query, error) {
	if strings.TrimSpace(s) == "" {
		return Query{}, nil
	}
	var q Query
	for _, raw := range andSeparator.Split(strings.TrimSpace(s), -1) {
		p, err := ParsePredicate(raw)
		if err != nil {
			return Query{}, err
		}
		q.Predicates = append(q.Predicates, p)
	}
	return q, nil
}

// ParsePredicate parses one predicate.
func ParsePredicate(s string) (Predicate, error) {
	const op = "parse query"
	found, ok := findOperator(s)
	if !ok {
		return Predicate{}, record.Errorf(record.CodeMalformedQuery, op, "", "predicate %q has no operator", s)
	}
	parts := strings.Split(s, string(found))
	if len(parts) != 2 {
		return Predicate{}, record.Errorf(record.CodeMalformedQuery, op, "", "predicate %q must be key%svalue", s, found)
	}
	key := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])

	if strings.Contains(s, "name") {
		return Predicate{Key: "name", Op: OpNameContains, Value: value}, nil
	}
	if key == "" {
		return Predicate{}, record.Errorf(record.CodeMalformedQuery, op, "", "predicate %q has an empty key", s)
	}

	p := Predicate{Key: key, Op: found, Value: value}
	if found != OpEqual {
		n, err := parseNumber(value)
		if err != nil {
			return Predicate{}, record.Errorf(record.CodeMalformedQuery, op, "", "predicate %q compares against non-numeric %q", s, value)
		}
		p.number = n
	}
	return p, nil
}

func findOperator(s string) (Op, bool) {
	for _, op := range operators {
		if strings.Contains(s, string(op)) {
			return op, true
		}
	}
	return "", false
}

// parseNumber parses a float after removing all whitespace.
func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.Join(strings.Fields(s), ""), 64)
}

// Match reports whether a summary satisfies the predicate. A record missing
// the key, or holding a non-numeric value for a numeric comparison, does not
// match.
func (p Predicate) Match(s Summary) bool {
	if p.Op == OpNameContains {
		return strings.Contains(s.Name, p.Value)
	}
	v, ok := s.Tags[p.Key]
	if !ok {
		return false
	}
	if p.Op == OpEqual {
		return strings.TrimSpace(v) == p.Value
	}
	n, err := parseNumber(v)
	if err != nil {
		return false
	}
	switch p.Op {
	case OpLessEqual:
		return n <= p.number
	case OpGreaterEqual:
		return n >= p.number
	case OpLess:
		return n < p.number
	case OpGreater:
		return n > p.number
	}
	return false
}

// String renders the predicate in query syntax.
func (p Predicate) String() string {
	if p.Op == OpNameContains {
		return "name=" + p.Value
	}
	return p.Key + string(p.Op) + p.Value
}

// String renders the query in query syntax.
func (q Query) String() string {
	parts := make([]string, len(q.Predicates))
	for i, p := range q.Predicates {
		parts[i] = p.String()
	}
	return strings.Join(parts, " AND ")
}
