package tokens

// TruncateToTokenLimit returns the longest rune prefix of text whose estimate
// under the active model is at most maxTokens.
func (e *Estimator) TruncateToTokenLimit(text string, maxTokens int) string {
	return e.TruncateForModel(text, maxTokens, e.Model())
}

// TruncateForModel is TruncateToTokenLimit under modelID's rules. The result
// is always a prefix of text; the search takes O(log n) estimates and assumes
// estimates grow with prefix length, which classification changes can break.
func (e *Estimator) TruncateForModel(text string, maxTokens int, modelID string) string {
	if text == "" || maxTokens < 0 {
		return ""
	}
	if e.EstimateForModel(text, modelID) <= maxTokens {
		return text
	}

	// bounds[i] is the byte offset where the i-th rune ends.
	bounds := make([]int, 0, len(text))
	for i := range text {
		if i > 0 {
			bounds = append(bounds, i)
		}
	}
	bounds = append(bounds, len(text))

	// lo always fits, hi never does. Probes skip the cache to keep it free of
	// throwaway prefixes.
	lo, hi := 0, len(bounds)
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if e.breakdown(text[:bounds[mid-1]], modelID).Total <= maxTokens {
			lo = mid
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return ""
	}
	return text[:bounds[lo-1]]
}
