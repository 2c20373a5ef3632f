// Package clinical extracts structured facts from free-text clinical notes.
//
// Extraction runs a deterministic heuristic pass first, then falls back to
// an LLM completion only for the fields the heuristics left unknown
// (internal/llmclient.Provider). The heuristic pass alone is pure and
// idempotent; the tests cover it directly and cover the LLM completion
// step through llmclient.FakeProvider.
package clinical

import "strings"

// Modality is the channel a consultation was conducted through.
type Modality string

const (
	ModalityInPerson Modality = "in_person"
	ModalityVideo    Modality = "video"
	ModalityPhone    Modality = "phone"
)

// Setting is the physical location of the consultation.
type Setting string

const (
	SettingConsultingRooms Setting = "consulting_rooms"
	SettingHospital        Setting = "hospital"
	SettingResidentialCare Setting = "residential_care"
	SettingHome            Setting = "home"
	SettingOther           Setting = "other"
)

// VisitType distinguishes a first attendance from a review.
type VisitType string

const (
	VisitFirst  VisitType = "first"
	VisitReview VisitType = "review"
)

// Interval is a duration or age range with explicit endpoint inclusivity.
// A nil endpoint means unbounded in that direction.
type Interval struct {
	Min         *int
	Max         *int
	LeftClosed  bool
	RightClosed bool
}

// Contains reports whether v falls inside the interval.
func (iv Interval) Contains(v int) bool {
	if iv.Min != nil {
		if iv.LeftClosed {
			if v < *iv.Min {
				return false
			}
		} else if v <= *iv.Min {
			return false
		}
	}
	if iv.Max != nil {
		if iv.RightClosed {
			if v > *iv.Max {
				return false
			}
		} else if v >= *iv.Max {
			return false
		}
	}
	return true
}

// Overlaps reports whether two intervals share at least one point.
func (iv Interval) Overlaps(other Interval) bool {
	lo, loClosed := effectiveLow(iv, other)
	hi, hiClosed := effectiveHigh(iv, other)
	if lo == nil || hi == nil {
		return true
	}
	if *lo < *hi {
		return true
	}
	if *lo == *hi {
		return loClosed && hiClosed
	}
	return false
}

func effectiveLow(a, b Interval) (*int, bool) {
	switch {
	case a.Min == nil:
		return b.Min, b.LeftClosed
	case b.Min == nil:
		return a.Min, a.LeftClosed
	case *a.Min > *b.Min:
		return a.Min, a.LeftClosed
	case *b.Min > *a.Min:
		return b.Min, b.LeftClosed
	default:
		return a.Min, a.LeftClosed && b.LeftClosed
	}
}

func effectiveHigh(a, b Interval) (*int, bool) {
	switch {
	case a.Max == nil:
		return b.Max, b.RightClosed
	case b.Max == nil:
		return a.Max, a.RightClosed
	case *a.Max < *b.Max:
		return a.Max, a.RightClosed
	case *b.Max < *a.Max:
		return b.Max, b.RightClosed
	default:
		return a.Max, a.RightClosed && b.RightClosed
	}
}

// Contained reports whether iv is fully contained within other.
func (iv Interval) Contained(other Interval) bool {
	if other.Min != nil {
		if iv.Min == nil {
			return false
		}
		if *iv.Min < *other.Min {
			return false
		}
		if *iv.Min == *other.Min && iv.LeftClosed && !other.LeftClosed {
			return false
		}
	}
	if other.Max != nil {
		if iv.Max == nil {
			return false
		}
		if *iv.Max > *other.Max {
			return false
		}
		if *iv.Max == *other.Max && iv.RightClosed && !other.RightClosed {
			return false
		}
	}
	return true
}

func closedInterval(min, max int) Interval {
	lo, hi := min, max
	return Interval{Min: &lo, Max: &hi, LeftClosed: true, RightClosed: true}
}

func unboundedAbove(min int, leftClosed bool) Interval {
	lo := min
	return Interval{Min: &lo, LeftClosed: leftClosed}
}

func boundedHalfOpen(min, max int) Interval {
	lo, hi := min, max
	return Interval{Min: &lo, Max: &hi, LeftClosed: true, RightClosed: false}
}

// NoteFacts is the structured extraction of a clinical note. Every field is
// nullable: a nil/zero-value field means "unknown", not "false" or "zero".
type NoteFacts struct {
	Duration             *Interval
	Age                  *int
	Modality             *Modality
	Setting              *Setting
	FirstOrReview        *VisitType
	ReferralPresent      *bool
	Specialty            string
	IsGP                 *bool
	IsSpecialist         *bool
	IsEmergency          *bool
	Keywords             []string
	fromLLM              map[string]bool // tracks which fields the LLM (not heuristics) populated
}

// EffectiveModality returns the note's modality, defaulting to in-person
// when the text gave no telehealth signal.
func (f NoteFacts) EffectiveModality() Modality {
	if f.Modality != nil {
		return *f.Modality
	}
	return ModalityInPerson
}

// HasKeyword reports whether the keyword bag contains kw (case-insensitive).
func (f NoteFacts) HasKeyword(kw string) bool {
	kw = strings.ToLower(kw)
	for _, k := range f.Keywords {
		if k == kw {
			return true
		}
	}
	return false
}

// HasAnyKeyword reports whether any of kws is present.
func (f NoteFacts) HasAnyKeyword(kws ...string) bool {
	for _, kw := range kws {
		if f.HasKeyword(kw) {
			return true
		}
	}
	return false
}

// FromLLM reports whether field was populated by LLM completion rather
// than the heuristic pass.
func (f NoteFacts) FromLLM(field string) bool {
	return f.fromLLM[field]
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func addKeyword(bag []string, kw string) []string {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" {
		return bag
	}
	for _, existing := range bag {
		if existing == kw {
			return bag
		}
	}
	return append(bag, kw)
}
