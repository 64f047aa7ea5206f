package query

import (
	"strings"

	"golang.org/x/text/cases"
)

// Predicate is a boolean condition over a document. The set of implementations is closed so every
// storage engine can translate it.
type Predicate interface {
	Matches(doc Document) bool
	predicate()
}

// Eq matches documents whose field equals Value.
type Eq struct {
	Field string
	Value any
}

// In matches documents whose field equals any of Values.
type In struct {
	Field  string
	Values []any
}

// Contains matches documents whose string field contains Substring, ignoring case.
type Contains struct {
	Field     string
	Substring string
}

// Range matches documents whose field lies in [Min, Max]. A nil bound is open.
type Range struct {
	Field string
	Min   any
	Max   any
}

// Exists matches documents where the field is present and non-null (or absent, when Present is false).
type Exists struct {
	Field   string
	Present bool
}

// And matches when every term matches. An empty And matches everything.
type And struct {
	Terms []Predicate
}

// Or matches when any term matches. An empty Or matches nothing.
type Or struct {
	Terms []Predicate
}

func (Eq) predicate()       {}
func (In) predicate()       {}
func (Contains) predicate() {}
func (Range) predicate()    {}
func (Exists) predicate()   {}
func (And) predicate()      {}
func (Or) predicate()       {}

func (p Eq) Matches(doc Document) bool {
	value, ok := doc.Get(p.Field)
	if !ok {
		return isNil(p.Value)
	}
	return Equal(value, p.Value)
}

func (p In) Matches(doc Document) bool {
	value, ok := doc.Get(p.Field)
	if !ok {
		return false
	}
	for _, candidate := range p.Values {
		if Equal(value, candidate) {
			return true
		}
	}
	return false
}

func (p Contains) Matches(doc Document) bool {
	value, ok := doc.Get(p.Field)
	if !ok {
		return false
	}
	text, ok := AsString(value)
	if !ok {
		return false
	}
	return ContainsFold(text, p.Substring)
}

func (p Range) Matches(doc Document) bool {
	value, ok := doc.Get(p.Field)
	if !ok || isNil(value) {
		return false
	}
	if p.Min != nil && Compare(value, p.Min) < 0 {
		return false
	}
	if p.Max != nil && Compare(value, p.Max) > 0 {
		return false
	}
	return true
}

func (p Exists) Matches(doc Document) bool {
	value, ok := doc.Get(p.Field)
	present := ok && !isNil(value)
	return present == p.Present
}

func (p And) Matches(doc Document) bool {
	for _, term := range p.Terms {
		if term != nil && !term.Matches(doc) {
			return false
		}
	}
	return true
}

func (p Or) Matches(doc Document) bool {
	for _, term := range p.Terms {
		if term != nil && term.Matches(doc) {
			return true
		}
	}
	return false
}

// ContainsFold reports whether needle occurs in haystack under Unicode case folding.
func ContainsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(haystack), fold.String(needle))
}

// AllOf collapses terms into a single predicate, dropping nil entries.
func AllOf(terms ...Predicate) Predicate {
	filtered := make([]Predicate, 0, len(terms))
	for _, term := range terms {
		if term != nil {
			filtered = append(filtered, term)
		}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return And{Terms: filtered}
}

// AnyOf builds an Or over the given fields matching the same substring.
func AnyOf(fields []string, substring string) Predicate {
	terms := make([]Predicate, 0, len(fields))
	for _, field := range fields {
		terms = append(terms, Contains{Field: field, Substring: substring})
	}
	return Or{Terms: terms}
}
