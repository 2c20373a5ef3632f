package retrieve

import (
	"regexp"
	"strconv"
	"strings"
)

// Token is a single +/-key:value constraint token pulled out of a raw
// query string.
type Token struct {
	Key   string
	Value string
}

// Query is a raw user query split into its semantic-embedding portion and
// its structured constraint tokens.
type Query struct {
	CleanQuery string
	Must       []Token
	MustNot    []Token
}

var reConstraintToken = regexp.MustCompile(`([+-])([a-zA-Z_]+):(\S+)`)

// ParseQuery splits raw into cleanQuery (for embedding) and must/must_not
// constraint tokens of the form key:value, prefixed by + or -.
func ParseQuery(raw string) Query {
	var q Query
	clean := reConstraintToken.ReplaceAllStringFunc(raw, func(m string) string {
		sub := reConstraintToken.FindStringSubmatch(m)
		sign, key, value := sub[1], strings.ToLower(sub[2]), sub[3]
		tok := Token{Key: key, Value: value}
		if sign == "+" {
			q.Must = append(q.Must, tok)
		} else {
			q.MustNot = append(q.MustNot, tok)
		}
		return ""
	})
	q.CleanQuery = strings.Join(strings.Fields(clean), " ")
	return q
}

// structuredKeys are the constraint keys the metadata filter understands;
// anything else is left for downstream semantic/LLM matching only.
var structuredKeys = map[string]bool{
	"code":     true,
	"group":    true,
	"subgroup": true,
	"duration": true,
}

// DurationBucket is a parsed "duration:" constraint value: <N, >=N, or
// A-B, expressed as an inclusive-ish numeric range predicate.
type DurationBucket struct {
	Min *int
	Max *int
}

// Matches reports whether the midpoint of [itemMin,itemMax] falls in the
// bucket (used both for the metadata prefilter and the stage-2 local
// rerank's duration bonus steps 2 & 5).
func (b DurationBucket) Matches(itemMin, itemMax *int) bool {
	mid := midpoint(itemMin, itemMax)
	if mid == nil {
		return false
	}
	if b.Min != nil && *mid < *b.Min {
		return false
	}
	if b.Max != nil && *mid >= *b.Max {
		return false
	}
	return true
}

func midpoint(min, max *int) *int {
	switch {
	case min != nil && max != nil:
		m := (*min + *max) / 2
		return &m
	case min != nil:
		return min
	case max != nil:
		return max
	default:
		return nil
	}
}

var (
	reDurationLess = regexp.MustCompile(`^<(\d+)$`)
	reDurationGE   = regexp.MustCompile(`^>=(\d+)$`)
	reDurationBand = regexp.MustCompile(`^(\d+)-(\d+)$`)
)

// ParseDurationBucket parses a duration constraint value (<N, >=N, A-B).
func ParseDurationBucket(value string) (DurationBucket, bool) {
	if m := reDurationLess.FindStringSubmatch(value); m != nil {
		n := atoi(m[1])
		return DurationBucket{Max: &n}, true
	}
	if m := reDurationGE.FindStringSubmatch(value); m != nil {
		n := atoi(m[1])
		return DurationBucket{Min: &n}, true
	}
	if m := reDurationBand.FindStringSubmatch(value); m != nil {
		a, b := atoi(m[1]), atoi(m[2])
		return DurationBucket{Min: &a, Max: &b}, true
	}
	return DurationBucket{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
