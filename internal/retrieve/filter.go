package retrieve

import (
	"context"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/catalog"
)

// ItemSource looks up catalog items by code — satisfied by *catalog.Store,
// and by a fixture in tests.
type ItemSource interface {
	Get(ctx context.Context, code string) (catalog.Item, bool, error)
}

// compiledFilter is the metadata predicate compiled from a query's must
// tokens, plus the accumulated banned-code set from
// must_not code: tokens.
type compiledFilter struct {
	groups    map[string]bool
	subgroups map[string]bool
	codes     map[string]bool
	durations []DurationBucket
	banned    map[string]bool
}

func (f compiledFilter) empty() bool {
	return len(f.groups) == 0 && len(f.subgroups) == 0 && len(f.codes) == 0 && len(f.durations) == 0
}

// compileFilter builds a compiledFilter from must tokens whose key is
// structured, plus a banned set from must_not code: tokens.
func compileFilter(q Query) compiledFilter {
	f := compiledFilter{
		groups:    map[string]bool{},
		subgroups: map[string]bool{},
		codes:     map[string]bool{},
		banned:    map[string]bool{},
	}
	for _, tok := range q.Must {
		if !structuredKeys[tok.Key] {
			continue
		}
		switch tok.Key {
		case "code":
			f.codes[tok.Value] = true
		case "group":
			f.groups[strings.ToUpper(tok.Value)] = true
		case "subgroup":
			f.subgroups[strings.ToUpper(tok.Value)] = true
		case "duration":
			if bucket, ok := ParseDurationBucket(tok.Value); ok {
				f.durations = append(f.durations, bucket)
			}
		}
	}
	for _, tok := range q.MustNot {
		if tok.Key == "code" {
			f.banned[tok.Value] = true
		}
	}
	return f
}

// allow builds the predicate passed to vectorindex.SearchFiltered: it
// looks up each candidate's catalog metadata and checks it against the
// compiled filter, returning true for unconstrained filters.
func (f compiledFilter) allow(ctx context.Context, items ItemSource) func(code string) bool {
	return func(code string) bool {
		if f.banned[code] {
			return false
		}
		if len(f.codes) > 0 && !f.codes[code] {
			return false
		}
		if f.empty() {
			return true
		}

		item, ok, err := items.Get(ctx, code)
		if err != nil || !ok {
			return false
		}
		if len(f.groups) > 0 && !f.groups[strings.ToUpper(item.Group)] {
			return false
		}
		if len(f.subgroups) > 0 && !f.subgroups[strings.ToUpper(item.Subgroup)] {
			return false
		}
		for _, bucket := range f.durations {
			if !bucket.Matches(item.DurationMinMinutes, item.DurationMaxMinutes) {
				return false
			}
		}
		return true
	}
}
