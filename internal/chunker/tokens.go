package chunker

// EstimateTokens approximates the token count of a text as chars/4, the usual
// budget heuristic when no tokenizer for the downstream model is available.
// It only needs to be stable and monotonic, not exact.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
