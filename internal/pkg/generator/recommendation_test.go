package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecommendThresholds(t *testing.T) {
	tests := []struct {
		name     string
		pages    int
		size     int64
		expected Recommendation
	}{
		{"tiny site", 10, 100 * 1024, RecommendationMinimal},
		{"exactly at minimal page bound", 50, 1024, RecommendationMinimal},
		{"just under minimal size bound", 50, 2*1024*1024 - 1, RecommendationMinimal},
		{"small pages but large output", 40, 3 * 1024 * 1024, RecommendationStandard},
		{"mid-size site", 300, 5 * 1024 * 1024, RecommendationStandard},
		{"exactly at standard page bound", 500, 1024, RecommendationStandard},
		{"page count over standard", 501, 1024, RecommendationComplete},
		{"size over standard", 100, 10 * 1024 * 1024, RecommendationComplete},
		{"huge site", 5000, 50 * 1024 * 1024, RecommendationComplete},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Recommend(tc.pages, tc.size))
		})
	}
}

func TestRecommendationFiles(t *testing.T) {
	assert.Equal(t, []string{"llms.txt"}, RecommendationMinimal.Files())
	assert.Equal(t, []string{"llms.txt", "llms-full.txt"}, RecommendationStandard.Files())
	assert.Contains(t, RecommendationComplete.Files(), "md/")
}
