package tiling

import "sort"

// ManifestEntry is one raster's coverage rectangle, as declared by a
// dataset's manifest file.
type ManifestEntry struct {
	Path                           string
	MinLat, MaxLat, MinLng, MaxLng float64
}

// FilenameIndex is a Scheme for manifest-indexed datasets: an in-memory
// two-dimensional interval lookup built once at load time. Entries are kept
// sorted by MinLat so Locate can binary-search away the half of the
// manifest that starts north of the query point before falling back to a
// linear scan of the (small, by construction non-overlapping) remainder for
// the matching longitude band.
type FilenameIndex struct {
	entries []ManifestEntry // sorted by MinLat ascending.
}

// NewFilenameIndex builds an index over entries. Entries must not overlap;
// behavior for overlapping entries is to prefer the one whose southwest
// corner is lexicographically smallest, per the dataset's boundary
// tie-break convention.
func NewFilenameIndex(entries []ManifestEntry) *FilenameIndex {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].MinLat != sorted[j].MinLat {
			return sorted[i].MinLat < sorted[j].MinLat
		}
		return sorted[i].MinLng < sorted[j].MinLng
	})
	return &FilenameIndex{entries: sorted}
}

func (idx *FilenameIndex) Locate(lat, lng float64) (path string, ok bool) {
	// Entries are sorted ascending by MinLat; everything from this index
	// onward starts strictly north of lat and can be skipped.
	ceiling := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].MinLat > lat
	})

	best := -1
	for i := 0; i < ceiling; i++ {
		e := idx.entries[i]
		if lat < e.MinLat || lat >= e.MaxLat || lng < e.MinLng || lng >= e.MaxLng {
			continue
		}
		if best == -1 || betterTieBreak(e, idx.entries[best]) {
			best = i
		}
	}
	if best == -1 {
		return "", false
	}
	return idx.entries[best].Path, true
}

// betterTieBreak reports whether candidate should be preferred over
// current when both cover the same point: the one whose southwest corner
// is lexicographically smaller (lat, then lng) wins, per the dataset's
// boundary convention.
func betterTieBreak(candidate, current ManifestEntry) bool {
	if candidate.MinLat != current.MinLat {
		return candidate.MinLat < current.MinLat
	}
	return candidate.MinLng < current.MinLng
}
