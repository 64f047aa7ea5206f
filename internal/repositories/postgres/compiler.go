package postgres

import (
	"fmt"
	"strings"

	"github.com/emart/api/internal/query"
)

// Statement is a compiled SQL query with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// CompilePipeline translates stages over collection into a single SELECT returning one jsonb data
// column per row. Every level of the query carries an ord column so that sort stages stay stable
// with respect to the order they received, mirroring the in-process evaluator.
func CompilePipeline(collection string, stages []query.Stage) (Statement, error) {
	c := &compiler{}
	src := fmt.Sprintf("SELECT seq AS ord, data FROM documents WHERE collection = %s", c.arg(collection))

	for i, stage := range stages {
		var err error
		src, err = c.stage(src, stage)
		if err != nil {
			return Statement{}, fmt.Errorf("stage %d: %w", i, err)
		}
	}
	return Statement{
		SQL:  fmt.Sprintf("SELECT t.data FROM (%s) t ORDER BY t.ord", src),
		Args: c.args,
	}, nil
}

type compiler struct {
	args []any
}

func (c *compiler) arg(value any) string {
	c.args = append(c.args, value)
	return fmt.Sprintf("$%d", len(c.args))
}

func (c *compiler) path(field string) string {
	return c.arg(strings.Split(field, ".")) + "::text[]"
}

func (c *compiler) stage(src string, stage query.Stage) (string, error) {
	switch s := stage.(type) {
	case query.Match:
		cond, err := c.predicate("t.data", s.Predicate)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("SELECT t.ord, t.data FROM (%s) t WHERE %s", src, cond), nil
	case query.Join:
		return c.join(src, s), nil
	case query.Project:
		if len(s.Fields) == 0 {
			return src, nil
		}
		return fmt.Sprintf("SELECT t.ord, %s AS data FROM (%s) t", c.pick("t.data", s.Fields), src), nil
	case query.Sort:
		if len(s.Keys) == 0 {
			return src, nil
		}
		order := make([]string, 0, len(s.Keys)+1)
		for _, key := range s.Keys {
			if key.Desc {
				order = append(order, fmt.Sprintf("(t.data #> %s) DESC NULLS LAST", c.path(key.Field)))
			} else {
				order = append(order, fmt.Sprintf("(t.data #> %s) ASC NULLS FIRST", c.path(key.Field)))
			}
		}
		order = append(order, "t.ord")
		return fmt.Sprintf("SELECT row_number() OVER (ORDER BY %s) AS ord, t.data FROM (%s) t", strings.Join(order, ", "), src), nil
	case query.Skip:
		if s.N <= 0 {
			return src, nil
		}
		return fmt.Sprintf("SELECT t.ord, t.data FROM (%s) t ORDER BY t.ord OFFSET %s", src, c.arg(int64(s.N))), nil
	case query.Limit:
		if s.N < 0 {
			return src, nil
		}
		return fmt.Sprintf("SELECT t.ord, t.data FROM (%s) t ORDER BY t.ord LIMIT %s", src, c.arg(int64(s.N))), nil
	case query.Count:
		as := s.As
		if as == "" {
			as = query.DefaultCountField
		}
		return fmt.Sprintf("SELECT 0::bigint AS ord, jsonb_build_object(%s::text, count(*)) AS data FROM (%s) t HAVING count(*) > 0", c.arg(as), src), nil
	default:
		return "", fmt.Errorf("%w: %T", query.ErrUnsupportedStage, stage)
	}
}

func (c *compiler) join(src string, s query.Join) string {
	as := s.As
	if as == "" {
		as = s.LocalField
	}
	foreign := s.ForeignField
	if foreign == "" {
		foreign = query.IDField
	}
	local := c.path(s.LocalField)
	match := fmt.Sprintf(`d.collection = %s AND CASE WHEN jsonb_typeof(t.data #> %s) = 'array'
			THEN (d.data #>> %s) IN (SELECT jsonb_array_elements_text(t.data #> %s))
			ELSE (d.data #>> %s) = (t.data #>> %s) END`,
		c.arg(s.From), local, c.path(foreign), local, c.path(foreign), local)
	picked := c.pick("d.data", s.Fields)
	asPath := c.path(as)

	if s.Single {
		where := ""
		if !s.PreserveUnmatched {
			where = " WHERE j.doc IS NOT NULL"
		}
		return fmt.Sprintf(`SELECT t.ord, CASE WHEN j.doc IS NULL THEN t.data #- %s ELSE jsonb_set(t.data, %s, j.doc) END AS data
		FROM (%s) t LEFT JOIN LATERAL (SELECT %s AS doc FROM documents d WHERE %s ORDER BY d.seq LIMIT 1) j ON TRUE%s`,
			asPath, asPath, src, picked, match, where)
	}

	where := ""
	if !s.PreserveUnmatched {
		where = " WHERE j.docs IS NOT NULL"
	}
	return fmt.Sprintf(`SELECT t.ord, jsonb_set(t.data, %s, COALESCE(j.docs, '[]'::jsonb)) AS data
		FROM (%s) t LEFT JOIN LATERAL (SELECT jsonb_agg(%s ORDER BY d.seq) AS docs FROM documents d WHERE %s) j ON TRUE%s`,
		asPath, src, picked, match, where)
}

// pick mirrors Project: the listed top-level fields plus the id.
func (c *compiler) pick(expr string, fields []string) string {
	if len(fields) == 0 {
		return expr
	}
	return fmt.Sprintf(`(jsonb_build_object('%s', %s -> '%s') || COALESCE((SELECT jsonb_object_agg(e.key, e.value) FROM jsonb_each(%s) e WHERE e.key = ANY(%s::text[])), '{}'::jsonb))`,
		query.IDField, expr, query.IDField, expr, c.arg(fields))
}

func (c *compiler) predicate(data string, pred query.Predicate) (string, error) {
	switch p := pred.(type) {
	case nil:
		return "TRUE", nil
	case query.Eq:
		value := fmt.Sprintf("(%s #> %s)", data, c.path(p.Field))
		if p.Value == nil {
			return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", value, value), nil
		}
		raw, err := encodeJSON(p.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s::jsonb", value, c.arg(string(raw))), nil
	case query.In:
		if len(p.Values) == 0 {
			return "FALSE", nil
		}
		values := make([]string, 0, len(p.Values))
		for _, v := range p.Values {
			raw, err := encodeJSON(v)
			if err != nil {
				return "", err
			}
			values = append(values, string(raw))
		}
		return fmt.Sprintf("(%s #> %s) = ANY(%s::text[]::jsonb[])", data, c.path(p.Field), c.arg(values)), nil
	case query.Contains:
		path := c.path(p.Field)
		return fmt.Sprintf("(jsonb_typeof(%s #> %s) = 'string' AND (%s #>> %s) ILIKE %s)",
			data, path, data, path, c.arg("%"+escapeLike(p.Substring)+"%")), nil
	case query.Range:
		return c.rangePredicate(data, p)
	case query.Exists:
		value := fmt.Sprintf("(%s #> %s)", data, c.path(p.Field))
		if p.Present {
			return fmt.Sprintf("(%s IS NOT NULL AND %s <> 'null'::jsonb)", value, value), nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", value, value), nil
	case query.And:
		return c.combine(data, p.Terms, " AND ", "TRUE")
	case query.Or:
		return c.combine(data, p.Terms, " OR ", "FALSE")
	default:
		return "", fmt.Errorf("%w: predicate %T", query.ErrUnsupportedStage, pred)
	}
}

func (c *compiler) combine(data string, terms []query.Predicate, op, empty string) (string, error) {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		if term == nil {
			continue
		}
		part, err := c.predicate(data, term)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return empty, nil
	}
	return "(" + strings.Join(parts, op) + ")", nil
}

// rangePredicate compares numbers as numeric and everything else as text in byte order, which is
// chronological for timestamps stored in query.TimeLayout. Values of another JSON type never match.
func (c *compiler) rangePredicate(data string, p query.Range) (string, error) {
	path := c.path(p.Field)
	if p.Min == nil && p.Max == nil {
		return fmt.Sprintf("((%s #> %s) IS NOT NULL AND (%s #> %s) <> 'null'::jsonb)", data, path, data, path), nil
	}
	numeric := isNumber(p.Min) || isNumber(p.Max)

	var value string
	if numeric {
		value = fmt.Sprintf("(CASE WHEN jsonb_typeof(%s #> %s) = 'number' THEN (%s #> %s)::numeric END)", data, path, data, path)
	} else {
		value = fmt.Sprintf(`(CASE WHEN jsonb_typeof(%s #> %s) = 'string' THEN %s #>> %s END) COLLATE "C"`, data, path, data, path)
	}

	var parts []string
	for _, bound := range []struct {
		value any
		op    string
	}{{p.Min, ">="}, {p.Max, "<="}} {
		if bound.value == nil {
			continue
		}
		if numeric {
			d, ok := query.AsDecimal(bound.value)
			if !ok {
				return "", fmt.Errorf("range on %s: mixed bound types", p.Field)
			}
			parts = append(parts, fmt.Sprintf("%s %s %s::numeric", value, bound.op, c.arg(d.String())))
			continue
		}
		text, err := textBound(bound.value)
		if err != nil {
			return "", fmt.Errorf("range on %s: %w", p.Field, err)
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", value, bound.op, c.arg(text)))
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
