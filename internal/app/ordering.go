package app

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// The ordering engine decides accept/reject for candidate segment sets before
// any row is written. It simulates the post-write state because the
// completeness rule (no gaps after a bulk fill) cannot be expressed as a
// per-row constraint. Unique constraints at the storage layer remain the
// backstop for concurrent writers.

// validateBulkUnits applies the full rule set for bulk creation: capacity,
// collision with existing numbers, collision within the batch, range, and
// completeness of the resulting set over [1, duration]. All rules are
// evaluated so the caller sees every offending unit number at once.
func validateBulkUnits(existing []int, duration int, candidates []int) *DomainError {
	details := map[string]any{}
	var problems []string

	if len(existing)+len(candidates) > duration {
		details["capacity"] = map[string]int{
			"existing":  len(existing),
			"candidate": len(candidates),
			"duration":  duration,
		}
		problems = append(problems, fmt.Sprintf("timeline holds %d of %d segments, cannot add %d more", len(existing), duration, len(candidates)))
	}

	existingSet := make(map[int]struct{}, len(existing))
	for _, n := range existing {
		existingSet[n] = struct{}{}
	}

	var clashes []int
	seen := make(map[int]int, len(candidates))
	var batchDupes []int
	var outOfRange []int
	for _, n := range candidates {
		if _, ok := existingSet[n]; ok {
			clashes = append(clashes, n)
		}
		seen[n]++
		if seen[n] == 2 {
			batchDupes = append(batchDupes, n)
		}
		if n < 1 || n > duration {
			outOfRange = append(outOfRange, n)
		}
	}
	if len(clashes) > 0 {
		sort.Ints(clashes)
		details["duplicateExisting"] = clashes
		problems = append(problems, fmt.Sprintf("unit numbers already taken: %s", joinInts(clashes)))
	}
	if len(batchDupes) > 0 {
		sort.Ints(batchDupes)
		details["duplicateInBatch"] = batchDupes
		problems = append(problems, fmt.Sprintf("unit numbers repeated in request: %s", joinInts(batchDupes)))
	}
	if len(outOfRange) > 0 {
		sort.Ints(outOfRange)
		details["outOfRange"] = outOfRange
		problems = append(problems, fmt.Sprintf("unit numbers outside 1..%d: %s", duration, joinInts(outOfRange)))
	}

	// Completeness: after this batch the union must cover 1..duration. Only
	// meaningful when the earlier rules passed, but computed regardless so
	// the caller gets the full picture.
	var missing []int
	for n := 1; n <= duration; n++ {
		if _, ok := existingSet[n]; ok {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		missing = append(missing, n)
	}
	if len(missing) > 0 {
		details["missing"] = missing
		problems = append(problems, fmt.Sprintf("unit numbers left uncovered: %s", joinInts(missing)))
	}

	if len(problems) == 0 {
		return nil
	}
	return domainError(http.StatusBadRequest, "INVALID_SEGMENT_SET", strings.Join(problems, "; "), details)
}

// validateSingleUnit applies the looser single-create rules: capacity,
// collision with existing numbers, and range. A single insert is allowed to
// leave gaps.
func validateSingleUnit(existing []int, duration int, candidate int) *DomainError {
	if len(existing)+1 > duration {
		return domainError(http.StatusBadRequest, "INVALID_SEGMENT_SET",
			fmt.Sprintf("timeline already holds %d of %d segments", len(existing), duration),
			map[string]any{"capacity": map[string]int{"existing": len(existing), "candidate": 1, "duration": duration}})
	}
	for _, n := range existing {
		if n == candidate {
			return domainError(http.StatusBadRequest, "INVALID_SEGMENT_SET",
				fmt.Sprintf("unit number already taken: %d", candidate),
				map[string]any{"duplicateExisting": []int{candidate}})
		}
	}
	if candidate < 1 || candidate > duration {
		return domainError(http.StatusBadRequest, "INVALID_SEGMENT_SET",
			fmt.Sprintf("unit number outside 1..%d: %d", duration, candidate),
			map[string]any{"outOfRange": []int{candidate}})
	}
	return nil
}

// validateSegmentContent checks the per-segment field rules shared by manual
// and generated input: a non-empty title, 1 to 10 goals, and at most 10
// references.
func validateSegmentContent(title string, goals, references []string) *DomainError {
	if strings.TrimSpace(title) == "" {
		return domainError(http.StatusBadRequest, "BAD_REQUEST", "segment title is required", nil)
	}
	if len(goals) < 1 || len(goals) > 10 {
		return domainError(http.StatusBadRequest, "BAD_REQUEST", "segment must have between 1 and 10 goals", nil)
	}
	for _, g := range goals {
		if strings.TrimSpace(g) == "" {
			return domainError(http.StatusBadRequest, "BAD_REQUEST", "segment goals must not be empty", nil)
		}
	}
	if len(references) > 10 {
		return domainError(http.StatusBadRequest, "BAD_REQUEST", "segment must have at most 10 references", nil)
	}
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
