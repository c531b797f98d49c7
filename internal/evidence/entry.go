package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"
)

// NoPrevHash is the previous_hash sentinel carried by the first entry
// (sequence 0) of every chain.
const NoPrevHash = ""

// hashVersion tags the canonical serialization fed into the entry hash.
// It is part of the hashed payload, so a future encoding change can never
// collide silently with chains written under the current one.
const hashVersion = "1"

// Well-known entry types. The set is advisory: the ledger accepts any
// non-empty type tag, and tenants may record their own categories.
const (
	TypeObservation = "observation"
	TypeArtifact    = "artifact"
	TypeAction      = "action"
	TypeDecision    = "decision"
)

// Entry is one immutable forensic record in an incident's evidence chain.
//
// Metadata is an annotation channel and is not part of the hashed payload;
// the integrity guarantee covers the remaining fields.
type Entry struct {
	ID          string            `json:"id"                       db:"id"`
	IncidentID  string            `json:"incident_id"              db:"incident_id"`
	TenantID    string            `json:"tenant_id"                db:"tenant_id"`
	Sequence    int64             `json:"sequence_number"          db:"sequence_number"`
	Type        string            `json:"entry_type"               db:"entry_type"`
	Phase       string            `json:"phase"                    db:"phase"`
	Description string            `json:"description"              db:"description"`
	ActorID     string            `json:"actor_id"                 db:"actor_id"`
	Metadata    map[string]string `json:"metadata,omitempty"       db:"metadata"`
	RecordedAt  time.Time         `json:"recorded_at"              db:"recorded_at"`
	PrevHash    string            `json:"previous_hash"            db:"previous_hash"`
	Hash        string            `json:"entry_hash"               db:"entry_hash"`
}

// ComputeHash returns the SHA-256 digest of the entry's canonical
// serialization as 64 lowercase hex characters.
//
// The serialization is frozen: the version token, then incident_id,
// sequence_number, entry_type, phase, description, actor_id, recorded_at,
// and previous_hash, in that order, each encoded as
// "<decimal byte length>:<bytes>;". Length prefixes keep free-form fields
// from colliding with field boundaries. recorded_at is rendered as RFC 3339
// with nanoseconds in UTC; Append truncates it to microseconds first so a
// round trip through timestamptz reproduces the hashed input exactly.
//
// ComputeHash is exported so external tooling can re-derive hashes from an
// exported chain without trusting this process.
func ComputeHash(e *Entry) string {
	h := sha256.New()
	writeField(h, hashVersion)
	writeField(h, e.IncidentID)
	writeField(h, strconv.FormatInt(e.Sequence, 10))
	writeField(h, e.Type)
	writeField(h, e.Phase)
	writeField(h, e.Description)
	writeField(h, e.ActorID)
	writeField(h, e.RecordedAt.UTC().Format(time.RFC3339Nano))
	writeField(h, e.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	fmt.Fprintf(w, "%d:%s;", len(s), s)
}
