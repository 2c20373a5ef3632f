package verify

import "strings"

// deriveCategories classifies a rule by its group/subgroup and, for the
// anaesthesia carve-out, the text of its specialty requirement and
// evidence spans. A rule can match
// more than one category; an unmatched rule is "Other".
func deriveCategories(group, subgroup, specialtyRequired string, evidenceSpans []string) []string {
	g := strings.ToUpper(strings.TrimSpace(group))
	sg := strings.TrimSpace(subgroup)

	var cats []string
	switch g {
	case "A1", "A7":
		cats = append(cats, string(CategoryGP))
	case "A3", "A4", "A28", "A29":
		cats = append(cats, string(CategorySpecialist))
	case "A40":
		cats = append(cats, string(CategoryTelehealth))
	case "A11", "A22", "A23":
		cats = append(cats, string(CategoryAfterHours))
	case "A21":
		cats = append(cats, string(CategoryEmergency))
	case "I":
		cats = append(cats, string(CategoryImaging))
	case "T8":
		cats = append(cats, string(CategorySurgery))
	case "P":
		cats = append(cats, string(CategoryPathology))
	}
	if g == "T1" && sg == "14" {
		cats = appendUnique(cats, string(CategoryEmergency))
	}
	if mentionsAnaesthesia(specialtyRequired, evidenceSpans) {
		cats = appendUnique(cats, string(CategorySurgery))
	}
	if len(cats) == 0 {
		cats = append(cats, string(CategoryOther))
	}
	return cats
}

func mentionsAnaesthesia(specialtyRequired string, evidenceSpans []string) bool {
	if strings.Contains(strings.ToLower(specialtyRequired), "anaes") {
		return true
	}
	for _, span := range evidenceSpans {
		if strings.Contains(strings.ToLower(span), "anaes") {
			return true
		}
	}
	return false
}

func appendUnique(cats []string, c string) []string {
	for _, existing := range cats {
		if existing == c {
			return cats
		}
	}
	return append(cats, c)
}

func hasCategory(cats []string, c Category) bool {
	for _, existing := range cats {
		if existing == string(c) {
			return true
		}
	}
	return false
}
