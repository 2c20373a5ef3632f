// Package rules derives structured ItemRules from MBS item descriptions.
//
// Parsing is pure, deterministic, and idempotent: the same (code,
// description, metadata) triple always yields the same ItemRule, which is
// what lets internal/catalog memoize parses by content hash.
package rules

import "github.com/hurttlocker/mbsagent/internal/clinical"

// Condition is a sequence/relation constraint lifted from a description
// such as "before or after initial assessment under item 23, 36". It is
// never a hard fail — the Verifier always treats it as SOFT.
type Condition struct {
	Type        string // currently always "relation_required"
	Description string
}

// Flags is a sparse bag of item-specific behavioural requirements. A nil
// pointer/zero value means the flag does not apply to this item.
type Flags struct {
	CaseConference     bool
	CaseConferenceMin  int // 0 means unset
	UsualGPRequired    bool
	HomeOnly           bool
	ReferralGP         bool
	ReferralSpecialist bool
}

// ItemRule is the structured form of one catalog item's eligibility rules,
// derived once per retrieved candidate from its description and metadata.
type ItemRule struct {
	Code    string
	Group   string
	Subgroup string

	TimeWindow *clinical.Interval
	AgeRange   *clinical.Interval

	SettingAllowed  []clinical.Setting  // nil = unconstrained
	ModalityAllowed []clinical.Modality // always non-empty

	SpecialtyRequired string // "" = none
	ReferralRequired  *bool  // true or nil, never false
	FirstOrReview     *clinical.VisitType

	Conditions []Condition
	Flags      Flags

	EvidenceSpans []string
	Confidence    float64
}

// AllowsSetting reports whether s is permitted (unconstrained rules allow
// everything).
func (r ItemRule) AllowsSetting(s clinical.Setting) bool {
	if len(r.SettingAllowed) == 0 {
		return true
	}
	for _, allowed := range r.SettingAllowed {
		if allowed == s {
			return true
		}
	}
	return false
}

// AllowsModality reports whether m is permitted.
func (r ItemRule) AllowsModality(m clinical.Modality) bool {
	if len(r.ModalityAllowed) == 0 {
		return true
	}
	for _, allowed := range r.ModalityAllowed {
		if allowed == m {
			return true
		}
	}
	return false
}

// Metadata carries the catalog's structured hints, which override textual
// parsing of the time window when present.
type Metadata struct {
	DurationMinMinutes  *int
	DurationMaxMinutes  *int
	DurationMinInclusive *bool
	DurationMaxInclusive *bool
	Group               string
	Subgroup            string
}

// defaultConfidence is the fixed prior used unless the caller overrides it.
const defaultConfidence = 0.7
