package diff

import (
	"sort"

	"f0oster/permspy/snapshot"

	"github.com/zeebo/xxh3"
)

// Fingerprint reduces a snapshot to a 128-bit digest of its canonical form.
// Two snapshots with the same content yield the same digest regardless of
// map insertion order or capture time. xxh3 is a change detector here, not a
// tamper-evident hash.
func Fingerprint(s *snapshot.Snapshot) (Digest, error) {
	tree, err := sections(s)
	if err != nil {
		return Digest{}, err
	}
	b, err := encode(tree)
	if err != nil {
		return Digest{}, err
	}
	return Digest(xxh3.Hash128(b).Bytes()), nil
}

// SectionDigests fingerprints every section of a snapshot independently.
func SectionDigests(s *snapshot.Snapshot) (map[string]Digest, error) {
	tree, err := sections(s)
	if err != nil {
		return nil, err
	}
	digests := make(map[string]Digest, len(tree))
	for name, v := range tree {
		b, err := encode(v)
		if err != nil {
			return nil, err
		}
		digests[name] = Digest(xxh3.Hash128(b).Bytes())
	}
	return digests, nil
}

// FindChanges compares two sets of section digests and returns the sorted
// names of the sections that were added, removed or changed.
func FindChanges(prev, curr map[string]Digest) []string {
	var changes []string

	// Detect changed or added sections
	for name, d := range curr {
		if old, exists := prev[name]; !exists || old != d {
			changes = append(changes, name)
		}
	}

	// Detect removed sections
	for name := range prev {
		if _, exists := curr[name]; !exists {
			changes = append(changes, name)
		}
	}

	sort.Strings(changes)
	return changes
}
