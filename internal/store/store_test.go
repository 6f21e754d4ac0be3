package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"worklog/internal/codec"
)

func TestMemorySlots(t *testing.T) {
	m := NewMemory()

	if _, ok, err := m.Get(SlotSessionLog); ok || err != nil {
		t.Fatalf("empty store Get: ok=%v err=%v", ok, err)
	}

	if err := m.Put(SlotSessionLog, "blob"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := m.Get(SlotSessionLog)
	if err != nil || !ok || v != "blob" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	if err := m.Delete(SlotSessionLog); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := m.Get(SlotSessionLog); ok {
		t.Error("slot survived Delete")
	}
}

func TestDocumentSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc", "session.db")
	d, err := OpenDocument(path)
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	defer d.Close()

	if _, ok, err := d.Get(SlotSessionLog); ok || err != nil {
		t.Fatalf("empty document Get: ok=%v err=%v", ok, err)
	}

	if err := d.Put(SlotSessionLog, "first"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := d.Put(SlotSessionLog, "second"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := d.Put(SlotSignatureMode, "AEAD"); err != nil {
		t.Fatalf("Put mode: %v", err)
	}

	v, ok, err := d.Get(SlotSessionLog)
	if err != nil || !ok || v != "second" {
		t.Fatalf("Get = %q, %v, %v; want second", v, ok, err)
	}

	if err := d.Delete(SlotSessionLog); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := d.Get(SlotSessionLog); ok {
		t.Error("slot survived Delete")
	}
	// Other slots untouched.
	if v, ok, _ := d.Get(SlotSignatureMode); !ok || v != "AEAD" {
		t.Errorf("mode slot = %q, %v", v, ok)
	}
}

func TestDocumentReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	d, err := OpenDocument(path)
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	if err := d.Put(SlotSessionLog, "persisted"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	d2, err := OpenDocument(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d2.Close()

	v, ok, err := d2.Get(SlotSessionLog)
	if err != nil || !ok || v != "persisted" {
		t.Fatalf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestRecoveryPathDerivation(t *testing.T) {
	stateDir := t.TempDir()

	a := RecoveryPath("/work/project/model.blend", stateDir)
	b := RecoveryPath("/work/project/model.blend", stateDir)
	c := RecoveryPath("/work/other/model.blend", stateDir)

	if a != b {
		t.Errorf("same document produced different paths: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different documents share a recovery path")
	}
	if !strings.HasPrefix(a, stateDir) {
		t.Errorf("recovery path %s not under state dir", a)
	}
	if !strings.HasSuffix(a, recoveryFileExt) {
		t.Errorf("recovery path %s missing extension", a)
	}

	fallback := RecoveryPath("", stateDir)
	if strings.HasPrefix(fallback, stateDir) {
		t.Error("unsaved document should fall back outside the state dir")
	}
	if !strings.HasSuffix(fallback, fallbackRecoveryName) {
		t.Errorf("fallback path = %s", fallback)
	}
}

func TestRecoveryRoundTrip(t *testing.T) {
	r := NewRecovery(filepath.Join(t.TempDir(), "deep", "dir", "session.rlog"))

	if r.Exists() {
		t.Fatal("recovery file should not exist yet")
	}
	if _, _, ok, err := r.Read(); ok || err != nil {
		t.Fatalf("Read on absent file: ok=%v err=%v", ok, err)
	}

	if err := r.Write(codec.ModeAuthenticated, "ciphertext-blob"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !r.Exists() {
		t.Fatal("recovery file missing after Write")
	}

	mode, blob, ok, err := r.Read()
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if mode != codec.ModeAuthenticated || blob != "ciphertext-blob" {
		t.Errorf("Read = %q, %q", mode, blob)
	}

	if err := r.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r.Exists() {
		t.Error("recovery file survived Delete")
	}
	// Deleting again is fine.
	if err := r.Delete(); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestRecoveryMalformedEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rlog")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := NewRecovery(path)
	if _, _, _, err := r.Read(); err == nil {
		t.Error("malformed envelope should be an error, not silent absence")
	}
}
