package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/mbsagent/internal/rules"
)

// contentHash hashes everything that can change a Rule Parser result for
// one item, so a stale cache entry is detected instead of silently reused
// after a catalog update.
func contentHash(item Item) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", item.Description, item.Group, item.Subgroup)
	for _, p := range []*int{item.DurationMinMinutes, item.DurationMaxMinutes} {
		if p != nil {
			fmt.Fprintf(h, "|%d", *p)
		} else {
			fmt.Fprint(h, "|nil")
		}
	}
	for _, p := range []*bool{item.DurationMinInclusive, item.DurationMaxInclusive} {
		if p != nil {
			fmt.Fprintf(h, "|%t", *p)
		} else {
			fmt.Fprint(h, "|nil")
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ParseRule returns the memoized ItemRule for item, parsing and caching it
// on a miss or a content-hash mismatch. Rule Parser output is pure and
// idempotent, so caching by content hash never returns a
// stale result for unchanged input.
func (s *Store) ParseRule(ctx context.Context, item Item) (rules.ItemRule, error) {
	hash := contentHash(item)

	var cachedHash, cachedJSON string
	err := s.db.QueryRowContext(ctx, `SELECT content_hash, rule_json FROM rule_cache WHERE code = ?`, item.Code).
		Scan(&cachedHash, &cachedJSON)
	switch {
	case err == nil && cachedHash == hash:
		var r rules.ItemRule
		if jsonErr := json.Unmarshal([]byte(cachedJSON), &r); jsonErr == nil {
			return r, nil
		}
		// Corrupt cache row: fall through and reparse.
	case err != nil && err != sql.ErrNoRows:
		return rules.ItemRule{}, fmt.Errorf("reading rule cache for %s: %w", item.Code, err)
	}

	r := rules.Parse(item.Code, item.Description, rules.Metadata{
		DurationMinMinutes:  item.DurationMinMinutes,
		DurationMaxMinutes:  item.DurationMaxMinutes,
		DurationMinInclusive: item.DurationMinInclusive,
		DurationMaxInclusive: item.DurationMaxInclusive,
		Group:               item.Group,
		Subgroup:            item.Subgroup,
	})

	encoded, jsonErr := json.Marshal(r)
	if jsonErr != nil {
		s.logger.Printf("rule cache: failed to encode parse for %s: %v", item.Code, jsonErr)
		return r, nil
	}
	if _, execErr := s.db.ExecContext(ctx, `
		INSERT INTO rule_cache (code, content_hash, rule_json) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET content_hash=excluded.content_hash, rule_json=excluded.rule_json`,
		item.Code, hash, string(encoded)); execErr != nil {
		s.logger.Printf("rule cache: failed to persist parse for %s: %v", item.Code, execErr)
	}
	return r, nil
}
