package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hurttlocker/mbsagent/internal/clinical"
)

var (
	reTimeAtLeastLess = regexp.MustCompile(`(?i)at least\s+(\d+)\s*(?:min|minute|minutes)?\s+and\s+less than\s+(\d+)\s*(?:min|minute|minutes)\b`)
	reTimeAtLeast     = regexp.MustCompile(`(?i)(?:at least|>=|≥)\s*(\d+)\s*(?:min|minute|minutes)?\b`)
	reTimeLess        = regexp.MustCompile(`(?i)(?:less than|<)\s*(\d+)\s*(?:min|minute|minutes)\b`)

	reAgeAtLeastLess = regexp.MustCompile(`(?i)aged\s+at least\s+(\d+)\s+and\s+less than\s+(\d+)\b`)
	reAgeBetween     = regexp.MustCompile(`(?i)aged\s+between\s+(\d+)\s+and\s+(\d+)\b`)
	reAgeOrMore      = regexp.MustCompile(`(?i)aged\s+(\d+)\s+years?\s+or\s+more\b`)
	reAgeLess        = regexp.MustCompile(`(?i)aged\s+less than\s+(\d+)\b`)

	reCaseConferenceMin = regexp.MustCompile(`(?i)at least\s+(\d+)\s+other\s+care\s+providers?\b`)
	reConditionRelation = regexp.MustCompile(`(?i)((?:before or after|follows)\s+(?:comprehensive|initial|review)\s+assessment\s+under\s+item\s+[\d,\s]+\d)`)

	reSpecialistRequired = regexp.MustCompile(`(?i)([a-z ]+ specialist)\b`)
)

var settingTerms = map[clinical.Setting][]string{
	clinical.SettingHospital:        {"hospital", "inpatient"},
	clinical.SettingConsultingRooms: {"consulting rooms"},
	clinical.SettingResidentialCare: {"residential care", "residential aged care", "aged care"},
}

var modalityTerms = map[clinical.Modality][]string{
	clinical.ModalityVideo: {"video", "telehealth"},
	clinical.ModalityPhone: {"telephone", "phone"},
}

// Parse derives an ItemRule from a catalog item's code, free-text
// description, and optional structured metadata hints.
// It never errors: descriptions that match nothing yield conservatively
// unconstrained fields.
func Parse(code, description string, meta Metadata) ItemRule {
	text := strings.ToLower(description)

	r := ItemRule{
		Code:              code,
		Group:             meta.Group,
		Subgroup:          meta.Subgroup,
		TimeWindow:        parseTimeWindow(text, meta),
		AgeRange:          parseAgeRange(text),
		SettingAllowed:    parseSettingAllowed(text),
		ModalityAllowed:   parseModalityAllowed(text),
		SpecialtyRequired: parseSpecialtyRequired(text),
		ReferralRequired:  parseReferralRequired(text),
		FirstOrReview:     parseFirstOrReview(text),
		Conditions:        parseConditions(description),
		Flags:             parseFlags(text),
		Confidence:        defaultConfidence,
	}
	return r
}

func parseTimeWindow(text string, meta Metadata) *clinical.Interval {
	if meta.DurationMinMinutes != nil || meta.DurationMaxMinutes != nil {
		leftClosed := true
		if meta.DurationMinInclusive != nil {
			leftClosed = *meta.DurationMinInclusive
		}
		rightClosed := false
		if meta.DurationMaxInclusive != nil {
			rightClosed = *meta.DurationMaxInclusive
		}
		return &clinical.Interval{
			Min:         meta.DurationMinMinutes,
			Max:         meta.DurationMaxMinutes,
			LeftClosed:  leftClosed,
			RightClosed: rightClosed,
		}
	}

	if m := reTimeAtLeastLess.FindStringSubmatch(text); m != nil {
		lo, hi := atoi(m[1]), atoi(m[2])
		return &clinical.Interval{Min: &lo, Max: &hi, LeftClosed: true, RightClosed: false}
	}
	if m := reTimeLess.FindStringSubmatch(text); m != nil {
		hi := atoi(m[1])
		return &clinical.Interval{Max: &hi, LeftClosed: true, RightClosed: false}
	}
	if m := reTimeAtLeast.FindStringSubmatch(text); m != nil {
		lo := atoi(m[1])
		return &clinical.Interval{Min: &lo, LeftClosed: true}
	}
	return nil
}

func parseAgeRange(text string) *clinical.Interval {
	if m := reAgeAtLeastLess.FindStringSubmatch(text); m != nil {
		lo, hi := atoi(m[1]), atoi(m[2])
		return &clinical.Interval{Min: &lo, Max: &hi, LeftClosed: true, RightClosed: false}
	}
	if m := reAgeBetween.FindStringSubmatch(text); m != nil {
		lo, hi := atoi(m[1]), atoi(m[2])
		return &clinical.Interval{Min: &lo, Max: &hi, LeftClosed: true, RightClosed: false}
	}
	if m := reAgeOrMore.FindStringSubmatch(text); m != nil {
		lo := atoi(m[1])
		return &clinical.Interval{Min: &lo, LeftClosed: true}
	}
	if m := reAgeLess.FindStringSubmatch(text); m != nil {
		hi := atoi(m[1])
		return &clinical.Interval{Max: &hi, LeftClosed: true, RightClosed: false}
	}
	return nil
}

func parseSettingAllowed(text string) []clinical.Setting {
	var out []clinical.Setting
	for setting, terms := range settingTerms {
		if containsAny(text, terms) {
			out = append(out, setting)
		}
	}
	return out
}

func parseModalityAllowed(text string) []clinical.Modality {
	var out []clinical.Modality
	for modality, terms := range modalityTerms {
		if containsAny(text, terms) {
			out = append(out, modality)
		}
	}
	if len(out) == 0 {
		return []clinical.Modality{clinical.ModalityInPerson}
	}
	return out
}

func parseSpecialtyRequired(text string) string {
	if strings.Contains(text, "general practitioner") {
		return "gp"
	}
	if m := reSpecialistRequired.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func parseReferralRequired(text string) *bool {
	if regexp.MustCompile(`\breferral\b`).MatchString(text) {
		t := true
		return &t
	}
	return nil
}

func parseFirstOrReview(text string) *clinical.VisitType {
	switch {
	case strings.Contains(text, "first attendance"),
		strings.Contains(text, "initial consultation"),
		strings.Contains(text, "initial assessment"):
		v := clinical.VisitFirst
		return &v
	case strings.Contains(text, "review"):
		v := clinical.VisitReview
		return &v
	}
	return nil
}

func parseConditions(description string) []Condition {
	matches := reConditionRelation.FindAllString(description, -1)
	if len(matches) == 0 {
		return nil
	}
	conditions := make([]Condition, 0, len(matches))
	for _, m := range matches {
		conditions = append(conditions, Condition{
			Type:        "relation_required",
			Description: strings.TrimSpace(m),
		})
	}
	return conditions
}

func parseFlags(text string) Flags {
	var f Flags
	if strings.Contains(text, "case conference") || strings.Contains(text, "multidisciplinary") {
		f.CaseConference = true
	}
	if m := reCaseConferenceMin.FindStringSubmatch(text); m != nil {
		f.CaseConferenceMin = atoi(m[1]) + 1
	}
	if strings.Contains(text, "usual gp") || strings.Contains(text, "usual medical practitioner") {
		f.UsualGPRequired = true
	}
	if strings.Contains(text, "home visit") || strings.Contains(text, "attendance at home") {
		f.HomeOnly = true
	}
	if strings.Contains(text, "gp referral") || strings.Contains(text, "referring practitioner") {
		f.ReferralGP = true
	}
	if strings.Contains(text, "specialist referral") {
		f.ReferralSpecialist = true
	}
	return f
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
