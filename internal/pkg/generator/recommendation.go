package generator

// Recommendation is the suggested artifact setup for a completed generation.
// It is a pure function of the stored metrics and is computed on read, never
// persisted.
type Recommendation string

const (
	RecommendationMinimal  Recommendation = "minimal"
	RecommendationStandard Recommendation = "standard"
	RecommendationComplete Recommendation = "complete"
)

const (
	minimalMaxPages  = 50
	minimalMaxBytes  = 2 * 1024 * 1024
	standardMaxPages = 500
	standardMaxBytes = 10 * 1024 * 1024
)

// Recommend picks a tier from the crawled page count and archive size.
// Small sites get by with llms.txt alone; mid-size sites should ship
// llms.txt plus llms-full.txt; everything larger needs the complete set.
func Recommend(totalPages int, fileSize int64) Recommendation {
	switch {
	case totalPages <= minimalMaxPages && fileSize < minimalMaxBytes:
		return RecommendationMinimal
	case totalPages <= standardMaxPages && fileSize < standardMaxBytes:
		return RecommendationStandard
	default:
		return RecommendationComplete
	}
}

// Files lists the artifact files a recommendation tier suggests uploading.
func (r Recommendation) Files() []string {
	switch r {
	case RecommendationMinimal:
		return []string{"llms.txt"}
	case RecommendationStandard:
		return []string{"llms.txt", "llms-full.txt"}
	default:
		return []string{"llms.txt", "llms-full.txt", "md/"}
	}
}
