package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataCategories(t *testing.T) {
	tests := []struct {
		name        string
		raw         []string
		expectError bool
		expected    []DataCategory
	}{
		{
			name:     "Valid categories",
			raw:      []string{"demographics", "lab_results"},
			expected: []DataCategory{CategoryDemographics, CategoryLabResults},
		},
		{
			name:     "Duplicates collapse",
			raw:      []string{"vitals", "vitals", "imaging"},
			expected: []DataCategory{CategoryVitals, CategoryImaging},
		},
		{
			name:        "Unknown category rejected",
			raw:         []string{"demographics", "genome"},
			expectError: true,
		},
		{
			name:        "Empty set rejected",
			raw:         []string{},
			expectError: true,
		},
		{
			name:        "Case sensitive",
			raw:         []string{"Demographics"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDataCategories(tt.raw)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIsSubsetOf(t *testing.T) {
	allowed := []DataCategory{CategoryDemographics, CategoryMedications, CategoryVitals}

	assert.True(t, IsSubsetOf([]DataCategory{CategoryMedications}, allowed))
	assert.True(t, IsSubsetOf(nil, allowed))
	assert.False(t, IsSubsetOf([]DataCategory{CategoryMedications, CategoryBilling}, allowed))
	assert.False(t, IsSubsetOf([]DataCategory{CategoryImaging}, allowed))
}

func TestIntersectCategories(t *testing.T) {
	a := []DataCategory{CategoryDemographics, CategoryImaging, CategoryMedications}
	b := []DataCategory{CategoryMedications, CategoryDemographics}

	got := IntersectCategories(a, b)
	assert.Equal(t, []DataCategory{CategoryDemographics, CategoryMedications}, got)

	assert.Empty(t, IntersectCategories(a, nil))
}

func TestVocabularies(t *testing.T) {
	assert.True(t, UrgencyEmergency.IsValid())
	assert.False(t, Urgency("critical").IsValid())

	assert.True(t, RequesterInsurer.IsValid())
	assert.False(t, RequesterType("pharmacy").IsValid())

	for _, c := range AllDataCategories {
		assert.True(t, c.IsValid(), "category %s should be valid", c)
	}
}
