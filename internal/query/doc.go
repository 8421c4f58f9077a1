// Package query selects data records by tag predicates.
//
// A query is a conjunction of predicates joined by the token AND:
//
//	Population=population1 AND Frame<=12
//
// Each predicate is key<op>value with op one of <=, >=, =, <, > (tried in
// that order). "=" compares strings; the other operators compare both sides
// as floating point numbers. A predicate mentioning "name" matches when its
// value is a substring of the record name, whatever the operator.
//
// Records are projected into a Summary before filtering. Processed records
// carry the tags of their origin RawData, so a tag query against a
// processed dataset filters by the raw ancestors.
package query
