// Package store implements the two durable sinks the session log is written
// to: key/value slots inside the host document (primary) and an external
// recovery file that survives abnormal termination before the next autosave.
//
// Both stores carry the same opaque base64 ciphertext; the cipher mode tag is
// persisted as a plain adjacent field, never inside the blob.
package store

// Slot keys used inside the host document.
const (
	// SlotSessionLog holds the encrypted session log blob.
	SlotSessionLog = "__SESSION_LOG__"

	// SlotSignatureMode holds the cipher mode tag next to the blob.
	SlotSignatureMode = "_signature_mode"

	// SlotActiveTimer holds the plain JSON elapsed-time state.
	SlotActiveTimer = "_active_timer"
)

// SlotStore is the host document's durable key/value storage. Values are
// opaque text blobs; absent keys are reported through the ok return, not an
// error. Implementations need not be safe for concurrent use — the session
// controller is the single writer.
type SlotStore interface {
	Get(key string) (value string, ok bool, err error)
	Put(key, value string) error
	Delete(key string) error
}

// Memory is an in-process SlotStore for hosts without durable document
// storage and for tests.
type Memory struct {
	slots map[string]string
}

// NewMemory creates an empty in-memory slot store.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	v, ok := m.slots[key]
	return v, ok, nil
}

func (m *Memory) Put(key, value string) error {
	m.slots[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	delete(m.slots, key)
	return nil
}
