//go:build ignore

// verify-export.go re-verifies exported evidence chain files without touching
// the database. Point it at one or more JSON exports produced by
// GET /api/v1/incidents/:id/evidence/export (or "redoubt evidence export");
// it walks every hash link and recomputes every entry hash, so tampering with
// an archived export is caught the same way tampering with the live table is.
//
// Run with: go run scripts/verify-export.go exports/*.json
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/redoubt-sec/redoubt/internal/evidence"
)

func main() {
	files := os.Args[1:]
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: go run scripts/verify-export.go <export.json> [...]")
		os.Exit(2)
	}

	fmt.Printf("══════════════════════════════════════════════════════\n")
	fmt.Printf("  Evidence Export Verification\n")
	fmt.Printf("  Files: %d\n", len(files))
	fmt.Printf("══════════════════════════════════════════════════════\n\n")

	failed := 0
	for _, path := range files {
		if err := verifyFile(path); err != nil {
			fmt.Printf("  ✗ %s\n      %v\n", path, err)
			failed++
		}
	}

	fmt.Println()
	if failed > 0 {
		fmt.Printf("  %d of %d export(s) FAILED verification\n", failed, len(files))
		os.Exit(1)
	}
	fmt.Printf("  all %d export(s) verified\n", len(files))
}

func verifyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var exp evidence.ChainExport
	if err := json.Unmarshal(raw, &exp); err != nil {
		return fmt.Errorf("not a chain export: %v", err)
	}

	// Envelope consistency first: the envelope fields are not hashed, so a
	// tampered copy can disagree with its own chain.
	if exp.EntryCount != len(exp.Chain) {
		return fmt.Errorf("entry_count says %d, chain holds %d", exp.EntryCount, len(exp.Chain))
	}
	if n := len(exp.Chain); n > 0 && exp.TipHash != exp.Chain[n-1].Hash {
		return fmt.Errorf("tip_hash does not match the last entry's hash")
	}
	for _, e := range exp.Chain {
		if e.IncidentID != exp.IncidentID {
			return fmt.Errorf("entry %d belongs to incident %s, envelope says %s",
				e.Sequence, e.IncidentID, exp.IncidentID)
		}
	}

	result := evidence.VerifyEntries(exp.Chain)
	if !result.Valid {
		return fmt.Errorf("chain broken at sequence %d (%s); %d entries verified before the break",
			*result.FirstBrokenSequence, result.Reason, result.VerifiedEntries)
	}

	fmt.Printf("  ✓ %s\n      incident %s — %d entries, tip %s\n",
		path, exp.IncidentID, result.VerifiedEntries, shortHash(exp.TipHash))
	return nil
}

func shortHash(h string) string {
	if h == "" {
		return "(empty chain)"
	}
	if len(h) > 12 {
		return h[:12] + "…"
	}
	return h
}
