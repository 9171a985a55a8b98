package markov

// TableStats holds aggregated statistics for a single Table.
type TableStats struct {
	Order          int // The n-gram length.
	Prefixes       int // The number of distinct n-grams.
	Chains         int // The number of unique n-gram->suffix links.
	TotalFrequency int // The sum of all link counts; the number of windows seen.
	VocabSize      int // The number of distinct tokens.
	BranchPoints   int // The number of n-grams with more than one suffix.
}

// Stats returns a snapshot of statistics for the table. A nil table reports
// zero values.
func (t *Table) Stats() TableStats {
	if t == nil {
		return TableStats{}
	}
	stats := TableStats{
		Order:          t.order,
		Prefixes:       len(t.prefixes),
		TotalFrequency: t.totalFreq,
		VocabSize:      len(t.vocab),
	}
	for i := range t.prefixes {
		n := len(t.prefixes[i].chains)
		stats.Chains += n
		if n > 1 {
			stats.BranchPoints++
		}
	}
	return stats
}
