package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"worklog/internal/codec"
)

// recoveryFileExt marks recovery files on disk.
const recoveryFileExt = ".rlog"

// fallbackRecoveryName is used when the document has no location yet.
const fallbackRecoveryName = "worklog_recovery" + recoveryFileExt

// envelope is the recovery file layout. The mode rides alongside the blob in
// the clear so load can pick the matching decryption routine.
type envelope struct {
	Mode codec.Mode `json:"mode"`
	Blob string     `json:"blob"`
}

// Recovery is the external crash-recovery sink. It is written best-effort
// after every committed entry and consulted once on the next document load;
// an adopted recovery file is deleted so stale files cannot resurrect old
// sessions.
type Recovery struct {
	path string
}

// NewRecovery creates a recovery store at the given path.
func NewRecovery(path string) *Recovery {
	return &Recovery{path: path}
}

// RecoveryPath derives the recovery file location from the document's
// location: a hash-keyed file under stateDir, or a fixed file in the user's
// home directory when the document has not been saved anywhere yet.
func RecoveryPath(documentPath, stateDir string) string {
	if documentPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		return filepath.Join(home, fallbackRecoveryName)
	}

	abs, err := filepath.Abs(documentPath)
	if err != nil {
		abs = documentPath
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(stateDir, hex.EncodeToString(sum[:8])+recoveryFileExt)
}

// Path returns the recovery file location.
func (r *Recovery) Path() string {
	return r.path
}

// Exists reports whether a recovery file is present.
func (r *Recovery) Exists() bool {
	_, err := os.Stat(r.path)
	return err == nil
}

// Write persists the blob and its mode tag, replacing any previous snapshot.
func (r *Recovery) Write(mode codec.Mode, blob string) error {
	data, err := json.Marshal(envelope{Mode: mode, Blob: blob})
	if err != nil {
		return fmt.Errorf("marshal recovery envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("create recovery directory: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("write recovery file: %w", err)
	}
	return nil
}

// Read returns the stored mode and blob. A missing file is expected absence
// (ok=false, nil error); an unreadable or malformed file is an error.
func (r *Recovery) Read() (codec.Mode, string, bool, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("read recovery file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", "", false, fmt.Errorf("parse recovery envelope: %w", err)
	}
	return env.Mode, env.Blob, true, nil
}

// Delete removes the recovery file. Absence is not an error.
func (r *Recovery) Delete() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete recovery file: %w", err)
	}
	return nil
}
