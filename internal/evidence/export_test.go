package evidence_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/evidence"
)

func TestExport_json(t *testing.T) {
	l := newTestLedger()
	entries := appendN(t, l, "inc-1", 2)

	out, err := l.Export(ctx, "inc-1", evidence.FormatJSON)
	if err != nil {
		t.Fatal(err)
	}

	var exp evidence.ChainExport
	if err := json.Unmarshal(out, &exp); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	if exp.IncidentID != "inc-1" {
		t.Errorf("incident_id: got %q", exp.IncidentID)
	}
	if exp.EntryCount != 2 || len(exp.Chain) != 2 {
		t.Errorf("entry count: got %d (%d in chain), want 2", exp.EntryCount, len(exp.Chain))
	}
	if exp.TipHash != entries[1].Hash {
		t.Errorf("tip_hash: got %q, want %q", exp.TipHash, entries[1].Hash)
	}
	if exp.GeneratedAt.IsZero() {
		t.Error("generated_at missing")
	}

	// An exported chain must carry everything needed for independent
	// re-verification.
	res := evidence.VerifyEntries(exp.Chain)
	if !res.Valid {
		t.Errorf("exported chain does not re-verify: %+v", res)
	}
}

func TestExport_jsonEmptyChain(t *testing.T) {
	l := newTestLedger()

	out, err := l.Export(ctx, "inc-none", evidence.FormatJSON)
	if err != nil {
		t.Fatal(err)
	}

	var exp evidence.ChainExport
	if err := json.Unmarshal(out, &exp); err != nil {
		t.Fatal(err)
	}
	if exp.EntryCount != 0 {
		t.Errorf("entry_count: got %d, want 0", exp.EntryCount)
	}
	if exp.Chain == nil || len(exp.Chain) != 0 {
		t.Errorf("chain should be an empty array, got %v", exp.Chain)
	}
	if exp.TipHash != "" {
		t.Errorf("tip_hash on empty chain: got %q", exp.TipHash)
	}
}

func TestExport_text(t *testing.T) {
	l := newTestLedger()
	entries := appendN(t, l, "inc-1", 2)

	out, err := l.Export(ctx, "inc-1", evidence.FormatText)
	if err != nil {
		t.Fatal(err)
	}
	report := string(out)

	for _, want := range []string{
		"EVIDENCE CHAIN REPORT",
		"inc-1",
		"#0 [observation]",
		"#1 [observation]",
		"(chain start)",
		entries[0].Hash,
		entries[1].Hash,
	} {
		if !strings.Contains(report, want) {
			t.Errorf("text export missing %q:\n%s", want, report)
		}
	}
}

func TestExport_textMetadataStable(t *testing.T) {
	l := newTestLedger()
	if _, err := l.Append(ctx, evidence.AppendRequest{
		IncidentID:  "inc-1",
		TenantID:    "tenant-1",
		Type:        evidence.TypeArtifact,
		Phase:       "analysis",
		Description: "memory dump collected",
		ActorID:     "analyst-7",
		Metadata:    map[string]string{"host": "ws-042", "size": "4096", "algo": "zstd"},
	}); err != nil {
		t.Fatal(err)
	}

	first, err := l.Export(ctx, "inc-1", evidence.FormatText)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Export(ctx, "inc-1", evidence.FormatText)
	if err != nil {
		t.Fatal(err)
	}

	// generated_at differs between runs; compare everything after it.
	trim := func(b []byte) string {
		s := string(b)
		return s[strings.Index(s, "entries:"):]
	}
	if trim(first) != trim(second) {
		t.Error("text export of an unchanged chain is not stable")
	}
	if !strings.Contains(string(first), "meta algo: zstd") {
		t.Errorf("metadata not rendered:\n%s", first)
	}
}

func TestExport_unsupportedFormat(t *testing.T) {
	l := newTestLedger()

	_, err := l.Export(ctx, "inc-1", "xml")
	var valErr *evidence.ErrValidation
	if !errors.As(err, &valErr) {
		t.Errorf("expected validation error for unsupported format, got %v", err)
	}
}

func TestExport_doesNotMutate(t *testing.T) {
	l := evidence.NewLedger(evidence.NewMemoryStore(), zap.NewNop())
	entries := appendN(t, l, "inc-1", 3)
	tipBefore := entries[2].Hash

	if _, err := l.Export(ctx, "inc-1", evidence.FormatJSON); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Export(ctx, "inc-1", evidence.FormatText); err != nil {
		t.Fatal(err)
	}

	res, err := l.Verify(ctx, "inc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.VerifiedEntries != 3 {
		t.Errorf("chain changed under export: %+v", res)
	}
	chain, _ := l.Chain(ctx, "inc-1")
	if chain[2].Hash != tipBefore {
		t.Error("tip hash changed under export")
	}
}
