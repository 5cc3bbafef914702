package app

import (
	"net/http"
	"testing"
)

func TestBulkAcceptsExactCoverage(t *testing.T) {
	if err := validateBulkUnits(nil, 3, []int{1, 2, 3}); err != nil {
		t.Fatalf("expected full coverage to pass, got %v", err)
	}
}

func TestBulkAcceptsCompletionOfPartialSet(t *testing.T) {
	if err := validateBulkUnits([]int{1, 3}, 4, []int{2, 4}); err != nil {
		t.Fatalf("expected completing batch to pass, got %v", err)
	}
}

func TestBulkRejectsOverCapacity(t *testing.T) {
	err := validateBulkUnits([]int{1, 2}, 3, []int{3, 4})
	if err == nil {
		t.Fatal("expected capacity rejection")
	}
	if err.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", err.Status)
	}
	details, ok := err.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", err.Details)
	}
	if _, ok := details["capacity"]; !ok {
		t.Fatalf("expected capacity detail, got %v", details)
	}
}

func TestBulkRejectsCollisionWithExisting(t *testing.T) {
	err := validateBulkUnits([]int{1, 2}, 4, []int{2, 1})
	if err == nil {
		t.Fatal("expected duplicate rejection")
	}
	details := err.Details.(map[string]any)
	clashes, ok := details["duplicateExisting"].([]int)
	if !ok || len(clashes) != 2 || clashes[0] != 1 || clashes[1] != 2 {
		t.Fatalf("expected both clashing numbers reported, got %v", details["duplicateExisting"])
	}
}

func TestBulkRejectsDuplicatesWithinBatch(t *testing.T) {
	err := validateBulkUnits(nil, 3, []int{1, 2, 2})
	if err == nil {
		t.Fatal("expected batch duplicate rejection")
	}
	details := err.Details.(map[string]any)
	dupes, ok := details["duplicateInBatch"].([]int)
	if !ok || len(dupes) != 1 || dupes[0] != 2 {
		t.Fatalf("expected duplicate 2 reported, got %v", details["duplicateInBatch"])
	}
}

func TestBulkRejectsOutOfRange(t *testing.T) {
	err := validateBulkUnits(nil, 3, []int{0, 1, 2, 3, 4})
	if err == nil {
		t.Fatal("expected range rejection")
	}
	details := err.Details.(map[string]any)
	out, ok := details["outOfRange"].([]int)
	if !ok || len(out) != 2 {
		t.Fatalf("expected 0 and 4 reported, got %v", details["outOfRange"])
	}
}

func TestBulkRejectsGaps(t *testing.T) {
	err := validateBulkUnits(nil, 4, []int{1, 2, 4})
	if err == nil {
		t.Fatal("expected gap rejection")
	}
	details := err.Details.(map[string]any)
	missing, ok := details["missing"].([]int)
	if !ok || len(missing) != 1 || missing[0] != 3 {
		t.Fatalf("expected missing 3 reported, got %v", details["missing"])
	}
}

func TestBulkReportsEveryOffendingNumberAtOnce(t *testing.T) {
	err := validateBulkUnits([]int{1}, 3, []int{1, 5, 5})
	if err == nil {
		t.Fatal("expected rejection")
	}
	details := err.Details.(map[string]any)
	for _, key := range []string{"duplicateExisting", "duplicateInBatch", "outOfRange", "missing"} {
		if _, ok := details[key]; !ok {
			t.Errorf("expected %s in details, got %v", key, details)
		}
	}
}

func TestSingleAllowsGaps(t *testing.T) {
	// Unit 2 into an empty timeline of duration 3 leaves unit 1 uncovered,
	// which single create deliberately permits.
	if err := validateSingleUnit(nil, 3, 2); err != nil {
		t.Fatalf("expected gap-leaving single create to pass, got %v", err)
	}
}

func TestSingleRejectsDuplicate(t *testing.T) {
	if err := validateSingleUnit([]int{2}, 3, 2); err == nil {
		t.Fatal("expected duplicate rejection")
	}
}

func TestSingleRejectsOutOfRange(t *testing.T) {
	if err := validateSingleUnit(nil, 3, 4); err == nil {
		t.Fatal("expected range rejection")
	}
	if err := validateSingleUnit(nil, 3, 0); err == nil {
		t.Fatal("expected range rejection for zero")
	}
}

func TestSingleRejectsWhenFull(t *testing.T) {
	if err := validateSingleUnit([]int{1, 2, 3}, 3, 4); err == nil {
		t.Fatal("expected capacity rejection")
	}
}

func TestSegmentContentRules(t *testing.T) {
	if err := validateSegmentContent("Title", []string{"g"}, nil); err != nil {
		t.Fatalf("expected valid content to pass, got %v", err)
	}
	if err := validateSegmentContent("", []string{"g"}, nil); err == nil {
		t.Fatal("expected empty title rejection")
	}
	if err := validateSegmentContent("Title", nil, nil); err == nil {
		t.Fatal("expected missing goals rejection")
	}
	goals := make([]string, 11)
	for i := range goals {
		goals[i] = "g"
	}
	if err := validateSegmentContent("Title", goals, nil); err == nil {
		t.Fatal("expected too many goals rejection")
	}
	refs := make([]string, 11)
	for i := range refs {
		refs[i] = "r"
	}
	if err := validateSegmentContent("Title", []string{"g"}, refs); err == nil {
		t.Fatal("expected too many references rejection")
	}
}
