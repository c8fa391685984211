package models

import "fmt"

// DataCategory is the closed vocabulary of patient data categories a
// requester may ask for. Values outside this set are rejected at the
// boundary, never stored.
type DataCategory string

const (
	CategoryDemographics DataCategory = "demographics"
	CategoryHistory      DataCategory = "history"
	CategoryLabResults   DataCategory = "lab_results"
	CategoryMedications  DataCategory = "medications"
	CategoryVitals       DataCategory = "vitals"
	CategoryImaging      DataCategory = "imaging"
	CategoryDiagnosis    DataCategory = "diagnosis"
	CategoryProcedures   DataCategory = "procedures"
	CategoryBilling      DataCategory = "billing"
)

// AllDataCategories lists every valid data category.
var AllDataCategories = []DataCategory{
	CategoryDemographics,
	CategoryHistory,
	CategoryLabResults,
	CategoryMedications,
	CategoryVitals,
	CategoryImaging,
	CategoryDiagnosis,
	CategoryProcedures,
	CategoryBilling,
}

// IsValid reports whether the category is part of the closed vocabulary.
func (c DataCategory) IsValid() bool {
	switch c {
	case CategoryDemographics, CategoryHistory, CategoryLabResults,
		CategoryMedications, CategoryVitals, CategoryImaging,
		CategoryDiagnosis, CategoryProcedures, CategoryBilling:
		return true
	default:
		return false
	}
}

// ParseDataCategories validates a set of raw category strings against the
// closed vocabulary. Returns an error naming the first invalid value.
func ParseDataCategories(raw []string) ([]DataCategory, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one data category is required")
	}
	seen := make(map[DataCategory]bool, len(raw))
	categories := make([]DataCategory, 0, len(raw))
	for _, r := range raw {
		c := DataCategory(r)
		if !c.IsValid() {
			return nil, fmt.Errorf("unknown data category: %q", r)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		categories = append(categories, c)
	}
	return categories, nil
}

// IsSubsetOf reports whether every category in the receiver set is present
// in allowed.
func IsSubsetOf(requested, allowed []DataCategory) bool {
	allowedSet := make(map[DataCategory]bool, len(allowed))
	for _, c := range allowed {
		allowedSet[c] = true
	}
	for _, c := range requested {
		if !allowedSet[c] {
			return false
		}
	}
	return true
}

// IntersectCategories returns the categories present in both sets, in the
// order of the first set.
func IntersectCategories(a, b []DataCategory) []DataCategory {
	bSet := make(map[DataCategory]bool, len(b))
	for _, c := range b {
		bSet[c] = true
	}
	out := make([]DataCategory, 0, len(a))
	for _, c := range a {
		if bSet[c] {
			out = append(out, c)
		}
	}
	return out
}

// Urgency is the urgency level of a consent request. Emergency urgency
// activates the expedited grant path with mandatory retrospective review.
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// IsValid reports whether the urgency is a known level.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyNormal, UrgencyUrgent, UrgencyEmergency:
		return true
	default:
		return false
	}
}

// RequesterType classifies the organization asking for access.
type RequesterType string

const (
	RequesterHospital      RequesterType = "hospital"
	RequesterInsurer       RequesterType = "insurer"
	RequesterResearcher    RequesterType = "researcher"
	RequesterLegal         RequesterType = "legal"
	RequesterInternalStaff RequesterType = "internal_staff"
)

// IsValid reports whether the requester type is a known classification.
func (r RequesterType) IsValid() bool {
	switch r {
	case RequesterHospital, RequesterInsurer, RequesterResearcher,
		RequesterLegal, RequesterInternalStaff:
		return true
	default:
		return false
	}
}
