package schema

import (
	"encoding/json"
	"testing"
	"time"

	"worklog/internal/chain"
	"worklog/internal/codec"
	"worklog/internal/session"
	"worklog/internal/store"
)

func exportJSON(t *testing.T) []byte {
	t.Helper()

	c, err := session.New(session.Options{
		Security: codec.SecurityContext{
			SharedSecret: "classroom-secret",
			StudentID:    "student-42",
			Mode:         codec.ModeXOR,
		},
		Primary: store.NewMemory(),
		Clock:   func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	if err := c.Start("manual"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.NotifyActivity("Edited", "Cube", "MESH", map[string]any{"op": "extrude"})
	if err := c.Stop("manual"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	exp, err := c.ExportPlaintext()
	if err != nil {
		t.Fatalf("ExportPlaintext: %v", err)
	}
	data, err := json.Marshal(exp)
	if err != nil {
		t.Fatalf("marshal export: %v", err)
	}
	return data
}

func TestValidExportPasses(t *testing.T) {
	if err := ValidateExport(exportJSON(t)); err != nil {
		t.Fatalf("a real export should validate: %v", err)
	}
}

func TestMalformedExportsFail(t *testing.T) {
	cases := map[string]func(m map[string]any){
		"missing status": func(m map[string]any) {
			delete(m, "status")
		},
		"bad status value": func(m map[string]any) {
			m["status"] = "unknown"
		},
		"negative total": func(m map[string]any) {
			m["total_working_time"] = -5
		},
		"entry with short hash": func(m map[string]any) {
			entries := m["data"].([]any)
			entry := entries[0].(map[string]any)
			entry["ph"] = "abc123"
		},
		"entry missing action": func(m map[string]any) {
			entries := m["data"].([]any)
			entry := entries[0].(map[string]any)
			delete(entry, "a")
		},
	}

	base := exportJSON(t)
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			var m map[string]any
			if err := json.Unmarshal(base, &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			mutate(m)
			data, err := json.Marshal(m)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if err := ValidateExport(data); err == nil {
				t.Error("mutated export should fail validation")
			}
		})
	}
}

func TestNotJSONFails(t *testing.T) {
	if err := ValidateExport([]byte("{broken")); err == nil {
		t.Error("non-JSON input should fail")
	}
}

func TestEntryShapeMatchesWireFormat(t *testing.T) {
	e := chain.Entry{
		Timestamp:  1700000000.5,
		Action:     "Edited",
		TargetName: "Cube",
		TargetKind: "MESH",
		Details:    map[string]any{},
		Duration:   2.5,
		PrevHash:   "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	}
	data, err := json.Marshal(map[string]any{
		"data":               []chain.Entry{e},
		"status":             "valid",
		"total_working_time": 0,
		"period":             map[string]string{"start": "", "end": ""},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ValidateExport(data); err != nil {
		t.Fatalf("wire-format entry should validate: %v", err)
	}
}
