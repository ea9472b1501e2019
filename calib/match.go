package calib

// Match pairs every observed mark with the reprojected mark carrying the same
// index. Matched pairs keep the order of observed. Marks without a partner on
// either side end up in the Unmatched lists. A reprojected mark pairs at most
// once: with repeated indices the first occurrence on each side wins and the
// repeats count as unmatched.
func Match(observed []ObservedPoint, reprojected []ReprojectedPoint) MatchResult {
	byIndex := make(map[int]int, len(reprojected))
	for i, rp := range reprojected {
		if _, dup := byIndex[rp.Index]; !dup {
			byIndex[rp.Index] = i
		}
	}

	var result MatchResult
	used := make([]bool, len(reprojected))
	for _, op := range observed {
		j, ok := byIndex[op.Index]
		if !ok || used[j] {
			result.UnmatchedObserved = append(result.UnmatchedObserved, op)
			continue
		}
		used[j] = true
		result.Matched = append(result.Matched, Correspondence{
			Index:       op.Index,
			Observed:    op,
			Reprojected: reprojected[j],
		})
	}

	for i, rp := range reprojected {
		if !used[i] {
			result.UnmatchedReprojected = append(result.UnmatchedReprojected, rp)
		}
	}

	return result
}
