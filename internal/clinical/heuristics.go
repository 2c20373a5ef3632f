package clinical

import (
	"regexp"
	"strconv"
	"strings"
)

// Heuristic fact extraction, in priority order. Every pattern below is
// tried in sequence and the first match wins; this keeps the heuristic
// pass pure, deterministic, and idempotent.

var (
	reExact       = regexp.MustCompile(`(?i)\b(?:exactly|precisely)\s+(\d+)\s*(?:min|minute|minutes)\b`)
	reBareMinutes = regexp.MustCompile(`(?i)(\d+)\s*(?:min|minute|minutes)\b`)
	reRange       = regexp.MustCompile(`(?i)(\d+)\s*(?:-|–|to)\s*(\d+)\s*(?:min|minute|minutes)\b`)
	reAtLeastLess = regexp.MustCompile(`(?i)at least\s+(\d+)\s*(?:min|minute|minutes)?\s+and\s+less than\s+(\d+)\s*(?:min|minute|minutes)\b`)
	reAtLeast     = regexp.MustCompile(`(?i)(?:at least|>=|≥)\s*(\d+)\s*(?:min|minute|minutes)?\b`)
	reMoreThan    = regexp.MustCompile(`(?i)(?:more than|>)\s*(\d+)\s*(?:min|minute|minutes)?\b`)
	reLessThan    = regexp.MustCompile(`(?i)(?:less than|<)\s*(\d+)\s*(?:min|minute|minutes)?\b`)
	reTrailingAdd = regexp.MustCompile(`(?i)(\d+)\+\s*(?:min|minute|minutes)\b`)

	reModifierNearby = regexp.MustCompile(`(?i)(at least|more than|less than|≥|>=|>|<)\s*\d+\s*(?:min|minute|minutes)?\s*$`)

	reAge1 = regexp.MustCompile(`(?i)\bage[ds]?\s+(\d{1,3})\b`)
	reAge2 = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:years? old|y\.?o\.?|yo)\b`)
	reAge3 = regexp.MustCompile(`(?i)\((\d{1,3})\s*(?:y|yo|years?)\)`)
)

var videoTerms = []string{"telehealth", "video", "zoom", "virtual", "webex", "teams"}
var phoneTerms = []string{"phone", "telephone", "call"}

var hospitalTerms = []string{"hospital", "inpatient", "ward", "emergency department", " ed "}
var consultingRoomsTerms = []string{"consulting rooms", "clinic", "surgery", "practice rooms"}
var residentialCareTerms = []string{"residential aged care", "residential care", "aged care facility", "nursing home"}
var homeTerms = []string{"home visit", "at home", "attendance at home", "domiciliary"}

var specialistLexicon = []string{
	"consultant", "surgeon", "specialist", "cardiologist", "dermatologist",
	"psychiatrist", "oncologist", "neurologist", "endocrinologist",
	"gastroenterologist", "rheumatologist", "urologist", "radiologist",
	"anaesthetist", "anesthesiologist", "obstetrician", "gynaecologist",
	"paediatrician", "pediatrician", "nephrologist", "haematologist",
}
var gpLexicon = []string{"general practitioner", "gp ", " gp,", " gp.", "family doctor", "family physician"}

var emergencyLexicon = []string{"emergency", "urgent", "acute presentation", "life-threatening", "critical"}
var routineLexicon = []string{"routine", "elective", "scheduled review", "non-urgent"}

var firstAttendanceTerms = []string{"first attendance", "initial consultation", "initial assessment", "new patient"}
var reviewTerms = []string{"review", "follow-up", "follow up", "reassessment"}

var referralTerms = []string{"referral", "referred by", "referring"}

// ExtractHeuristic runs the deterministic fact extractor.
// It never errors: malformed or sparse input simply yields more nil fields.
func ExtractHeuristic(note string) NoteFacts {
	text := strings.ToLower(note)
	var f NoteFacts

	f.Duration = extractDuration(text)
	f.Age = extractAge(text)
	f.Modality = extractModality(text)
	f.Setting = extractSetting(text)
	f.FirstOrReview = extractVisitType(text)
	f.ReferralPresent = extractReferral(text)
	f.IsGP, f.IsSpecialist = extractGPvsSpecialist(text)
	f.IsEmergency = extractEmergency(text)
	f.Keywords = extractKeywords(text, f)

	return f
}

func extractDuration(text string) *Interval {
	if m := reExact.FindStringSubmatch(text); m != nil {
		n := atoi(m[1])
		iv := closedInterval(n, n)
		return &iv
	}
	if m := reRange.FindStringSubmatch(text); m != nil {
		a, b := atoi(m[1]), atoi(m[2])
		iv := closedInterval(a, b)
		return &iv
	}
	if m := reAtLeastLess.FindStringSubmatch(text); m != nil {
		a, b := atoi(m[1]), atoi(m[2])
		iv := boundedHalfOpen(a, b)
		return &iv
	}
	if m := reAtLeast.FindStringSubmatch(text); m != nil {
		n := atoi(m[1])
		iv := unboundedAbove(n, true)
		return &iv
	}
	if m := reMoreThan.FindStringSubmatch(text); m != nil {
		n := atoi(m[1])
		iv := unboundedAbove(n, false)
		return &iv
	}
	if m := reLessThan.FindStringSubmatch(text); m != nil {
		n := atoi(m[1])
		// Deliberate widening: "less than N minutes" includes N-1 but not N.
		lo := n - 1
		if lo < 0 {
			lo = 0
		}
		iv := boundedHalfOpen(lo, n)
		return &iv
	}
	if m := reTrailingAdd.FindStringSubmatch(text); m != nil {
		n := atoi(m[1])
		iv := unboundedAbove(n, true)
		return &iv
	}
	// Bare "N min" with no modifier word immediately preceding it.
	if loc := reBareMinutes.FindStringIndex(text); loc != nil {
		prefix := text[:loc[0]]
		if !reModifierNearby.MatchString(prefix) {
			m := reBareMinutes.FindStringSubmatch(text)
			n := atoi(m[1])
			iv := closedInterval(n, n)
			return &iv
		}
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func extractAge(text string) *int {
	for _, re := range []*regexp.Regexp{reAge1, reAge2, reAge3} {
		if m := re.FindStringSubmatch(text); m != nil {
			n := atoi(m[1])
			return &n
		}
	}
	return nil
}

func extractModality(text string) *Modality {
	for _, t := range videoTerms {
		if strings.Contains(text, t) {
			m := ModalityVideo
			return &m
		}
	}
	for _, t := range phoneTerms {
		if strings.Contains(text, t) {
			m := ModalityPhone
			return &m
		}
	}
	return nil
}

func extractSetting(text string) *Setting {
	switch {
	case containsAny(text, hospitalTerms):
		s := SettingHospital
		return &s
	case containsAny(text, residentialCareTerms):
		s := SettingResidentialCare
		return &s
	case containsAny(text, homeTerms):
		s := SettingHome
		return &s
	case containsAny(text, consultingRoomsTerms):
		s := SettingConsultingRooms
		return &s
	}
	return nil
}

func extractVisitType(text string) *VisitType {
	if containsAny(text, firstAttendanceTerms) {
		v := VisitFirst
		return &v
	}
	if containsAny(text, reviewTerms) {
		v := VisitReview
		return &v
	}
	return nil
}

func extractReferral(text string) *bool {
	if containsAny(text, referralTerms) {
		return boolPtr(true)
	}
	return nil
}

func extractGPvsSpecialist(text string) (*bool, *bool) {
	specialist := containsAny(text, specialistLexicon)
	gp := containsAny(text, gpLexicon)
	if specialist {
		// Specialist wins when both lexicons match.
		return boolPtr(false), boolPtr(true)
	}
	if gp {
		return boolPtr(true), boolPtr(false)
	}
	return nil, nil
}

func extractEmergency(text string) *bool {
	if containsAny(text, emergencyLexicon) {
		return boolPtr(true)
	}
	if containsAny(text, routineLexicon) {
		return boolPtr(false)
	}
	return nil
}

var keywordVocabulary = map[string][]string{
	"conference/team":     {"case conference", "multidisciplinary", "team meeting", "case meeting"},
	"usual gp":             {"usual gp", "usual medical practitioner", "regular gp"},
	"home visit":           {"home visit", "attendance at home", "domiciliary"},
	"gp referral":          {"gp referral", "referral from gp", "referring gp"},
	"referring practitioner": {"referring practitioner", "referred by"},
	"specialist referral":  {"specialist referral", "referral from specialist", "referring specialist"},
	"nurse":                {"nurse", "registered nurse"},
	"allied health":        {"allied health", "physiotherapist", "occupational therapist", "psychologist", "dietitian"},
	"social worker":        {"social worker"},
	"pharmacist":           {"pharmacist"},
}

func extractKeywords(text string, f NoteFacts) []string {
	var bag []string
	for canonical, variants := range keywordVocabulary {
		if containsAny(text, variants) {
			bag = addKeyword(bag, canonical)
		}
	}
	if f.ReferralPresent != nil && *f.ReferralPresent {
		bag = addKeyword(bag, "referral present")
	}
	return bag
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
