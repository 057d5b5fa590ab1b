package queue

import (
	"path/filepath"
	"strings"

	"github.com/forgepilot/forgepilot/internal/model"
)

// ConflictingFeatures returns the featureIDs of other sessions whose
// declared FileScope overlaps with target's. This is advisory only: the
// single-active-session-per-project invariant already prevents two sessions
// from running concurrently within a project, so this never blocks
// admission. It reports when two *queued* features are likely to step on
// each other's changes once they each get their turn; no other package
// calls it, so neither admission nor the Gateway surfaces its result.
// Grounded on the teacher's ticket file-conflict check,
// generalized from ticket status buckets to "any other session known to
// the project".
func ConflictingFeatures(target *model.Session, others []*model.Session) []string {
	var conflicts []string
	for _, other := range others {
		if other.FeatureID == target.FeatureID {
			continue
		}
		if filesOverlap(target.FileScope, other.FileScope) {
			conflicts = append(conflicts, other.FeatureID)
		}
	}
	return conflicts
}

func filesOverlap(a, b []string) bool {
	for _, patternA := range a {
		for _, patternB := range b {
			if patternsOverlap(patternA, patternB) {
				return true
			}
		}
	}
	return false
}

// patternsOverlap is a conservative check: it may report an overlap even
// when the patterns would not actually match the same file, but it never
// misses a real overlap.
func patternsOverlap(a, b string) bool {
	a = filepath.Clean(a)
	b = filepath.Clean(b)

	if a == b {
		return true
	}
	if isParentPath(a, b) || isParentPath(b, a) {
		return true
	}

	aParts := strings.Split(a, string(filepath.Separator))
	bParts := strings.Split(b, string(filepath.Separator))

	minLen := len(aParts)
	if len(bParts) < minLen {
		minLen = len(bParts)
	}

	common := 0
	for i := 0; i < minLen; i++ {
		if aParts[i] == bParts[i] || aParts[i] == "*" || bParts[i] == "*" || aParts[i] == "**" || bParts[i] == "**" {
			common++
		} else {
			break
		}
	}
	return common == minLen
}

func isParentPath(parent, child string) bool {
	parent = strings.TrimSuffix(parent, "/*")
	parent = strings.TrimSuffix(parent, "/**")
	child = strings.TrimSuffix(child, "/*")
	child = strings.TrimSuffix(child, "/**")
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
