package trigger

import "strings"

// dedupeByPK removes rows with a duplicate primary key from a candidate
// batch, keeping the one with the greater SYS_CHANGE_VERSION. The
// per-row lease upsert loop assumes each pk appears at most once in a
// batch.
//
// The input order is otherwise preserved: ties and lower-versioned
// duplicates are dropped in place rather than re-sorted.
func dedupeByPK(rows []changeRow) []changeRow {
	if len(rows) < 2 {
		return rows
	}

	bestIdx := make(map[string]int, len(rows))
	for i, r := range rows {
		key := pkKey(r.pk)
		if cur, ok := bestIdx[key]; !ok || rows[cur].changeVersion < r.changeVersion {
			bestIdx[key] = i
		}
	}
	if len(bestIdx) == len(rows) {
		return rows
	}

	keep := make(map[int]bool, len(bestIdx))
	for _, i := range bestIdx {
		keep[i] = true
	}

	out := make([]changeRow, 0, len(bestIdx))
	for i, r := range rows {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}

func pkKey(pk []string) string {
	return strings.Join(pk, "\x00")
}
