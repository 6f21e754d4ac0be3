// Package chain implements the append-only, hash-chained session log.
//
// Each committed entry embeds the digest of its predecessor (or the genesis
// hash for the first entry), making silent insertion, deletion, or reordering
// detectable. Entry digests are computed over a canonical serialization so
// they are stable across processes and platforms.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gowebpki/jcs"
)

// Sentinel targets for system- and session-level entries, as opposed to
// user-content entries.
const (
	SystemTarget  = "__SYSTEM__"
	SessionTarget = "__SESSION__"
	SystemKind    = "SYSTEM"
)

// SceneStats is a snapshot of host scene size captured at commit time.
type SceneStats struct {
	VertexCount int `json:"v"`
	FaceCount   int `json:"f"`
	ObjectCount int `json:"o"`
}

// Entry is a single committed log entry. Immutable once appended.
//
// The compact field names are the wire format: entries serialize the same way
// for hashing, persistence, and export.
type Entry struct {
	Timestamp  float64        `json:"t"`
	Action     string         `json:"a"`
	TargetName string         `json:"o"`
	TargetKind string         `json:"ot"`
	Details    map[string]any `json:"d"`
	Duration   float64        `json:"dt"`
	Stats      SceneStats     `json:"s"`
	PrevHash   string         `json:"ph"`
}

// entryBody mirrors Entry without the back-link. Hashing covers exactly
// these fields.
type entryBody struct {
	Timestamp  float64        `json:"t"`
	Action     string         `json:"a"`
	TargetName string         `json:"o"`
	TargetKind string         `json:"ot"`
	Details    map[string]any `json:"d"`
	Duration   float64        `json:"dt"`
	Stats      SceneStats     `json:"s"`
}

// Hash returns the entry digest: SHA-256 over the RFC 8785 canonicalization
// of the entry serialized without its own PrevHash, as lowercase hex.
func (e Entry) Hash() (string, error) {
	body := entryBody{
		Timestamp:  e.Timestamp,
		Action:     e.Action,
		TargetName: e.TargetName,
		TargetKind: e.TargetKind,
		Details:    e.Details,
		Duration:   e.Duration,
		Stats:      e.Stats,
	}
	if body.Details == nil {
		body.Details = map[string]any{}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Round3 rounds a seconds value to millisecond precision. Timestamps and
// durations are rounded before entering an entry so digests do not depend on
// platform floating-point drift.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Now returns the current wall clock as fractional epoch seconds at
// millisecond precision.
func Now() float64 {
	return Round3(float64(time.Now().UnixNano()) / 1e9)
}
