package verify

import (
	"strings"

	"github.com/hurttlocker/mbsagent/internal/clinical"
	"github.com/hurttlocker/mbsagent/internal/rules"
)

// Verify runs the fixed tri-state check set for one (facts, rule) pair
// against the catalog item's display data.
func Verify(facts clinical.NoteFacts, rule rules.ItemRule, catalogItem item) VerifyReport {
	categories := deriveCategories(rule.Group, rule.Subgroup, rule.SpecialtyRequired, rule.EvidenceSpans)

	raw := []checkResult{
		checkTimeWindow(facts, rule),
		checkAge(facts, rule),
		checkModality(facts, rule),
		checkSetting(facts, rule),
		checkFirstOrReview(facts, rule),
		checkReferral(facts, rule),
		checkSpecialty(facts, rule),
		checkConditions(rule),
		checkIsGP(facts, categories),
		checkIsSpecialist(facts, categories),
		checkIsEmergency(facts, categories),
		checkCaseConference(facts, rule),
		checkUsualGP(facts, rule),
		checkHomeOnly(facts, rule),
		checkReferralGP(facts, rule),
		checkReferralSpecialist(facts, rule),
		checkKeywordRefine(facts, categories, catalogItem.Title),
	}

	checks := make([]Check, len(raw))
	passes := true
	for i, r := range raw {
		checks[i] = r.flatten()
		if r.Verdict == Fail {
			passes = false
		}
	}

	report := VerifyReport{
		ItemCode:   rule.Code,
		Passes:     passes,
		Checks:     checks,
		Categories: categories,
	}
	report.RationaleMarkdown = buildRationale(rule.Code, raw)
	return report
}

// 1. time_window
func checkTimeWindow(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if rule.TimeWindow == nil {
		return checkResult{Name: "time_window", Verdict: Pass}
	}
	if facts.Duration == nil {
		return checkResult{Name: "time_window", Verdict: Soft, Detail: "soft_info_missing: duration unknown"}
	}
	if facts.Duration.Contained(*rule.TimeWindow) {
		return checkResult{Name: "time_window", Verdict: Pass}
	}
	if facts.Duration.Overlaps(*rule.TimeWindow) {
		return checkResult{Name: "time_window", Verdict: Soft, Detail: "soft_pass_overlap"}
	}
	return checkResult{Name: "time_window", Verdict: Fail, Detail: "duration outside rule's time window"}
}

// 2. age
func checkAge(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if rule.AgeRange == nil {
		return checkResult{Name: "age", Verdict: Pass}
	}
	if facts.Age == nil {
		return checkResult{Name: "age", Verdict: Soft, Detail: "soft_info_missing: age unknown"}
	}
	if rule.AgeRange.Contains(*facts.Age) {
		return checkResult{Name: "age", Verdict: Pass}
	}
	return checkResult{Name: "age", Verdict: Fail, Detail: "age outside rule's age range"}
}

// 3. modality
func checkModality(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if len(rule.ModalityAllowed) == 0 {
		return checkResult{Name: "modality", Verdict: Pass}
	}
	note := facts.EffectiveModality()
	if rule.AllowsModality(note) {
		return checkResult{Name: "modality", Verdict: Pass}
	}

	ruleInPersonOnly := len(rule.ModalityAllowed) == 1 && rule.ModalityAllowed[0] == clinical.ModalityInPerson
	if ruleInPersonOnly && (note == clinical.ModalityVideo || note == clinical.ModalityPhone) {
		return checkResult{Name: "modality", Verdict: Fail, Detail: "rule requires in-person attendance"}
	}

	ruleVideoOnly := len(rule.ModalityAllowed) == 1 && rule.ModalityAllowed[0] == clinical.ModalityVideo
	if ruleVideoOnly && note == clinical.ModalityInPerson {
		return checkResult{Name: "modality", Verdict: Soft, Detail: "telehealth not mentioned"}
	}
	rulePhoneOnly := len(rule.ModalityAllowed) == 1 && rule.ModalityAllowed[0] == clinical.ModalityPhone
	if rulePhoneOnly && note == clinical.ModalityInPerson {
		return checkResult{Name: "modality", Verdict: Soft, Detail: "phone attendance not mentioned"}
	}
	return checkResult{Name: "modality", Verdict: Soft, Detail: "modality not specified"}
}

// 4. setting
func checkSetting(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if len(rule.SettingAllowed) == 0 {
		return checkResult{Name: "setting", Verdict: Pass}
	}
	requiresHospitalOrRooms := rule.AllowsSetting(clinical.SettingHospital) || rule.AllowsSetting(clinical.SettingConsultingRooms)

	if facts.Setting == nil || *facts.Setting == clinical.SettingOther {
		if requiresHospitalOrRooms && facts.HasAnyKeyword("telehealth", "video", "remote", "home visit", "at home", "domiciliary") {
			return checkResult{Name: "setting", Verdict: Fail, Detail: "note indicates remote/home attendance incompatible with rule's required setting"}
		}
		return checkResult{Name: "setting", Verdict: Soft, Detail: "soft_info_missing: setting unknown, required " + joinSettings(rule.SettingAllowed)}
	}

	if rule.AllowsSetting(*facts.Setting) {
		return checkResult{Name: "setting", Verdict: Pass}
	}
	if (*facts.Setting == clinical.SettingHospital || *facts.Setting == clinical.SettingConsultingRooms) &&
		!rule.AllowsSetting(clinical.SettingHospital) && !rule.AllowsSetting(clinical.SettingConsultingRooms) {
		return checkResult{Name: "setting", Verdict: Fail, Detail: "note setting forbidden by rule"}
	}
	return checkResult{Name: "setting", Verdict: Soft, Detail: "soft_info_missing: setting mismatch, required " + joinSettings(rule.SettingAllowed)}
}

func joinSettings(settings []clinical.Setting) string {
	out := make([]string, len(settings))
	for i, s := range settings {
		out[i] = string(s)
	}
	return strings.Join(out, "|")
}

// 5. first_or_review
func checkFirstOrReview(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if rule.FirstOrReview == nil {
		return checkResult{Name: "first_or_review", Verdict: Pass}
	}
	if facts.FirstOrReview == nil {
		return checkResult{Name: "first_or_review", Verdict: Soft, Detail: "soft_info_missing: first/review unknown"}
	}
	if *facts.FirstOrReview == *rule.FirstOrReview {
		return checkResult{Name: "first_or_review", Verdict: Pass}
	}
	return checkResult{Name: "first_or_review", Verdict: Fail, Detail: "note visit type does not match rule"}
}

// 6. referral
func checkReferral(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if rule.ReferralRequired == nil || !*rule.ReferralRequired {
		return checkResult{Name: "referral", Verdict: Pass}
	}
	if facts.ReferralPresent == nil {
		return checkResult{Name: "referral", Verdict: Soft, Detail: "soft_info_missing: referral unknown"}
	}
	if *facts.ReferralPresent {
		return checkResult{Name: "referral", Verdict: Pass}
	}
	return checkResult{Name: "referral", Verdict: Fail, Detail: "rule requires a referral, note has none"}
}

// 7. specialty
func checkSpecialty(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if rule.SpecialtyRequired == "" {
		return checkResult{Name: "specialty", Verdict: Pass}
	}
	if facts.Specialty == "" {
		return checkResult{Name: "specialty", Verdict: Soft, Detail: "soft_info_missing: specialty unknown"}
	}
	if strings.EqualFold(facts.Specialty, rule.SpecialtyRequired) {
		return checkResult{Name: "specialty", Verdict: Pass}
	}
	return checkResult{Name: "specialty", Verdict: Fail, Detail: "note specialty does not match rule requirement"}
}

// 8. conditions — never FAIL.
func checkConditions(rule rules.ItemRule) checkResult {
	if len(rule.Conditions) == 0 {
		return checkResult{Name: "conditions", Verdict: Pass}
	}
	descs := make([]string, len(rule.Conditions))
	for i, c := range rule.Conditions {
		descs[i] = c.Description
	}
	return checkResult{Name: "conditions", Verdict: Soft, Detail: strings.Join(descs, "; ")}
}

// 9a. is_gp
func checkIsGP(facts clinical.NoteFacts, categories []string) checkResult {
	if !hasCategory(categories, CategoryGP) {
		return checkResult{Name: "is_gp", Verdict: Pass}
	}
	if facts.IsGP == nil {
		return checkResult{Name: "is_gp", Verdict: Soft, Detail: "soft_info_missing: gp context unknown"}
	}
	if *facts.IsGP {
		return checkResult{Name: "is_gp", Verdict: Pass}
	}
	return checkResult{Name: "is_gp", Verdict: Fail, Detail: "rule is GP-only, note indicates non-GP context"}
}

// 9b. is_specialist
func checkIsSpecialist(facts clinical.NoteFacts, categories []string) checkResult {
	if !hasCategory(categories, CategorySpecialist) {
		return checkResult{Name: "is_specialist", Verdict: Pass}
	}
	if facts.IsSpecialist == nil {
		return checkResult{Name: "is_specialist", Verdict: Soft, Detail: "soft_info_missing: specialist context unknown"}
	}
	if *facts.IsSpecialist {
		return checkResult{Name: "is_specialist", Verdict: Pass}
	}
	return checkResult{Name: "is_specialist", Verdict: Fail, Detail: "rule is specialist-only, note indicates non-specialist context"}
}

// 9c. is_emergency
func checkIsEmergency(facts clinical.NoteFacts, categories []string) checkResult {
	if !hasCategory(categories, CategoryEmergency) {
		return checkResult{Name: "is_emergency", Verdict: Pass}
	}
	if facts.IsEmergency == nil {
		return checkResult{Name: "is_emergency", Verdict: Soft, Detail: "soft_info_missing: emergency context unknown"}
	}
	if *facts.IsEmergency {
		return checkResult{Name: "is_emergency", Verdict: Pass}
	}
	return checkResult{Name: "is_emergency", Verdict: Fail, Detail: "rule is emergency-only, note indicates a routine presentation"}
}

// 10. flag checks

func checkCaseConference(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if !rule.Flags.CaseConference {
		return checkResult{Name: "case_conference", Verdict: Pass}
	}
	if !facts.HasAnyKeyword("case conference", "multidisciplinary", "team meeting") {
		return checkResult{Name: "case_conference", Verdict: Soft, Detail: "soft_info_missing: case conference not mentioned"}
	}
	if rule.Flags.CaseConferenceMin > 0 {
		count := countParticipants(facts.Keywords)
		if count > 0 && count < rule.Flags.CaseConferenceMin {
			return checkResult{Name: "case_conference", Verdict: Fail, Detail: "fewer participants mentioned than required"}
		}
	}
	return checkResult{Name: "case_conference", Verdict: Pass}
}

var participantRoleNouns = []string{
	"nurse", "physiotherapist", "pharmacist", "psychologist", "social worker",
	"dietitian", "occupational therapist", "specialist", "gp", "carer",
}

func countParticipants(keywords []string) int {
	count := 0
	for _, kw := range keywords {
		for _, role := range participantRoleNouns {
			if kw == role {
				count++
				break
			}
		}
	}
	return count
}

func checkUsualGP(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if !rule.Flags.UsualGPRequired {
		return checkResult{Name: "usual_gp", Verdict: Pass}
	}
	if facts.HasAnyKeyword("usual gp", "usual medical practitioner", "regular gp") {
		return checkResult{Name: "usual_gp", Verdict: Pass}
	}
	if facts.HasAnyKeyword("different gp", "locum") {
		return checkResult{Name: "usual_gp", Verdict: Fail, Detail: "note indicates the attending GP is not the patient's usual GP"}
	}
	return checkResult{Name: "usual_gp", Verdict: Soft, Detail: "soft_info_missing: usual gp relationship not mentioned"}
}

func checkHomeOnly(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if !rule.Flags.HomeOnly {
		return checkResult{Name: "home_only", Verdict: Pass}
	}
	if facts.Setting != nil && *facts.Setting == clinical.SettingHome {
		return checkResult{Name: "home_only", Verdict: Pass}
	}
	if facts.Setting != nil && *facts.Setting != clinical.SettingHome && *facts.Setting != clinical.SettingOther {
		return checkResult{Name: "home_only", Verdict: Fail, Detail: "rule requires a home visit, note indicates a different setting"}
	}
	return checkResult{Name: "home_only", Verdict: Soft, Detail: "soft_info_missing: home visit not confirmed"}
}

func checkReferralGP(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if !rule.Flags.ReferralGP {
		return checkResult{Name: "referral_gp", Verdict: Pass}
	}
	return checkReferralByKind(facts, "referral_gp", "gp referral", "referring practitioner", "referred by gp")
}

func checkReferralSpecialist(facts clinical.NoteFacts, rule rules.ItemRule) checkResult {
	if !rule.Flags.ReferralSpecialist {
		return checkResult{Name: "referral_specialist", Verdict: Pass}
	}
	return checkReferralByKind(facts, "referral_specialist", "specialist referral")
}

func checkReferralByKind(facts clinical.NoteFacts, name string, terms ...string) checkResult {
	if facts.HasAnyKeyword(terms...) {
		return checkResult{Name: name, Verdict: Pass}
	}
	if facts.ReferralPresent != nil && !*facts.ReferralPresent {
		return checkResult{Name: name, Verdict: Fail, Detail: "rule requires a referral of this kind, note has none"}
	}
	return checkResult{Name: name, Verdict: Soft, Detail: "soft_info_missing: referral kind not confirmed"}
}

// 11. keyword_refine
func checkKeywordRefine(facts clinical.NoteFacts, categories []string, title string) checkResult {
	lowerTitle := strings.ToLower(title)

	if hasCategory(categories, CategorySurgery) && !facts.HasAnyKeyword("surgery", "surgical", "anaesthesia", "anaesthetic", "operation") {
		return checkResult{Name: "keyword_refine", Verdict: Soft, Detail: "surgery/anaesthesia not mentioned"}
	}
	if strings.Contains(lowerTitle, "ct with contrast") && !facts.HasAnyKeyword("contrast") {
		return checkResult{Name: "keyword_refine", Verdict: Soft, Detail: "contrast not mentioned"}
	}
	if strings.Contains(lowerTitle, "ct") && !strings.Contains(lowerTitle, "contrast") && facts.HasAnyKeyword(bodyRegions...) {
		return checkResult{Name: "keyword_refine", Verdict: Pass}
	}
	if strings.Contains(lowerTitle, "ultrasound") && !facts.HasAnyKeyword("ultrasound", "sonography", "doppler") {
		return checkResult{Name: "keyword_refine", Verdict: Soft, Detail: "ultrasound not mentioned"}
	}
	return checkResult{Name: "keyword_refine", Verdict: Pass}
}

var bodyRegions = []string{
	"head", "chest", "abdomen", "pelvis", "spine", "neck", "brain",
	"thorax", "limb", "knee", "shoulder", "hip",
}
