package query

// Stage is one step of an aggregation pipeline. Stages are built once per request and never mutated
// after the pipeline has been handed to an engine.
type Stage interface {
	stage()
}

// Match keeps documents satisfying Predicate.
type Match struct {
	Predicate Predicate
}

// Join attaches documents from another collection whose ForeignField equals the local field.
// With Single set, the first match replaces the As field; otherwise As holds the list of matches.
// PreserveUnmatched keeps rows without a match (left-join semantics), removing As when Single.
// Fields limits the joined document to the listed top-level fields when non-empty.
type Join struct {
	From              string
	LocalField        string
	ForeignField      string
	As                string
	Single            bool
	PreserveUnmatched bool
	Fields            []string
}

// Project keeps only the listed top-level fields plus the document id.
type Project struct {
	Fields []string
}

// SortKey orders by a single field.
type SortKey struct {
	Field string
	Desc  bool
}

// Sort orders documents by Keys, stable with respect to input order.
type Sort struct {
	Keys []SortKey
}

// Skip drops the first N documents.
type Skip struct {
	N int
}

// Limit keeps at most N documents.
type Limit struct {
	N int
}

// Count replaces the stream with a single document {As: n}, or no documents when n is zero.
type Count struct {
	As string
}

func (Match) stage()   {}
func (Join) stage()    {}
func (Project) stage() {}
func (Sort) stage()    {}
func (Skip) stage()    {}
func (Limit) stage()   {}
func (Count) stage()   {}

// DefaultCountField names the output of count stages built by this package.
const DefaultCountField = "totalCount"
