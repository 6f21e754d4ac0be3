// Package verify checks exported session logs without a running engine:
// decode the blob, walk the hash chain against the student's genesis anchor,
// and cross-check the export shape against the published schema.
package verify

import (
	"encoding/json"
	"fmt"
	"time"

	"worklog/internal/chain"
	"worklog/internal/codec"
	"worklog/internal/genesis"
	"worklog/internal/schema"
	"worklog/internal/session"
	"worklog/internal/store"
)

// Report is the outcome of one verification run.
type Report struct {
	Valid         bool       `json:"valid"`
	Tampered      bool       `json:"tampered"`
	Mode          codec.Mode `json:"mode"`
	Degraded      bool       `json:"degraded"`
	Entries       int        `json:"entries"`
	TotalWorkTime int        `json:"total_working_time"`
	PeriodStart   string     `json:"period_start,omitempty"`
	PeriodEnd     string     `json:"period_end,omitempty"`
	SchemaOK      bool       `json:"schema_ok"`
	Errors        []string   `json:"errors,omitempty"`
	VerifiedAt    time.Time  `json:"verified_at"`
}

// Verifier validates blobs for one security context.
type Verifier struct {
	codec       *codec.Codec
	genesisHash string
}

// NewVerifier creates a verifier bound to the given security context.
func NewVerifier(sec codec.SecurityContext) (*Verifier, error) {
	cdc, err := codec.New(sec)
	if err != nil {
		return nil, err
	}
	genesisHash, err := genesis.Derive(sec.SharedSecret, sec.StudentID)
	if err != nil {
		return nil, err
	}
	return &Verifier{codec: cdc, genesisHash: genesisHash}, nil
}

// VerifyBlob decodes and verifies one ciphertext blob using the given mode.
// Decode failures are returned as a report with Valid=false, not an error;
// errors are reserved for conditions outside the evidence itself.
func (v *Verifier) VerifyBlob(blob string, mode codec.Mode) *Report {
	report := &Report{
		Mode:       mode,
		Degraded:   mode.Degraded(),
		VerifiedAt: time.Now().UTC(),
	}

	entries, err := v.codec.DecodeWithMode(blob, mode)
	if err != nil {
		report.fail(fmt.Sprintf("decode: %v", err))
		return report
	}
	report.Entries = len(entries)

	ch := chain.FromEntries(v.genesisHash, entries)
	if !ch.Validate(v.genesisHash) {
		report.Tampered = true
		report.fail("hash chain validation failed")
	}
	report.TotalWorkTime = ch.TotalWorkTime()
	report.PeriodStart, report.PeriodEnd = ch.WorkingPeriod()

	v.checkSchema(report, ch)

	report.Valid = len(report.Errors) == 0
	return report
}

// VerifyRecoveryFile reads a recovery envelope from disk and verifies its
// blob with the mode the envelope names.
func (v *Verifier) VerifyRecoveryFile(path string) (*Report, error) {
	rec := store.NewRecovery(path)
	mode, blob, ok, err := rec.Read()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("recovery file %s does not exist", path)
	}
	return v.VerifyBlob(blob, mode), nil
}

// checkSchema renders the chain as an export payload and validates it
// against the v1 schema.
func (v *Verifier) checkSchema(report *Report, ch *chain.Chain) {
	status := session.StatusValid
	if report.Tampered {
		status = session.StatusTampered
	}
	start, end := ch.WorkingPeriod()
	export := session.Export{
		Entries:       ch.Entries(),
		Status:        status,
		TotalWorkTime: ch.TotalWorkTime(),
		Period:        session.Period{Start: start, End: end},
	}

	data, err := json.Marshal(export)
	if err != nil {
		report.fail(fmt.Sprintf("render export: %v", err))
		return
	}
	if err := schema.ValidateExport(data); err != nil {
		report.fail(fmt.Sprintf("schema: %v", err))
		return
	}
	report.SchemaOK = true
}

func (r *Report) fail(msg string) {
	r.Errors = append(r.Errors, msg)
}
