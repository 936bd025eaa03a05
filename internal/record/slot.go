package record

import (
	"fmt"

	"github.com/renderinc/ocrhive/internal/blobstore"
)

// SlotState is the lifecycle state of one artifact slot.
type SlotState string

const (
	// SlotNeverCreated means no artifact was ever stored in this slot.
	SlotNeverCreated SlotState = "never_created"
	// SlotDisabled means storage for this artifact kind is globally
	// disabled by configuration. Set at slot initialization; nothing in
	// this package transitions away from it.
	SlotDisabled SlotState = "disabled"
	// SlotPresent means bytes are stored and retrievable.
	SlotPresent SlotState = "present"
	// SlotRemoved means the bytes were deliberately deleted; the marker is
	// kept so a removed artifact is distinguishable from one never created.
	SlotRemoved SlotState = "removed"
)

// ValidState reports whether s is one of the defined slot states.
func ValidState(s SlotState) bool {
	switch s {
	case SlotNeverCreated, SlotDisabled, SlotPresent, SlotRemoved:
		return true
	}
	return false
}

// ArtifactSlot tracks one artifact (original file or derived PDF) on a
// record: its lifecycle state and, when present, the blobstore key holding
// the bytes.
type ArtifactSlot struct {
	State SlotState
	Key   string
}

// NewSlot returns the initial slot for an artifact kind: NeverCreated when
// storage is enabled for that kind, Disabled otherwise.
func NewSlot(storageEnabled bool) ArtifactSlot {
	if !storageEnabled {
		return ArtifactSlot{State: SlotDisabled}
	}
	return ArtifactSlot{State: SlotNeverCreated}
}

// MarkPresent transitions the slot to Present holding key. Legal from
// NeverCreated (initial creation) and Removed (regeneration); the caller
// enforces which slots may regenerate.
func (s *ArtifactSlot) MarkPresent(key string) error {
	switch s.State {
	case SlotNeverCreated, SlotRemoved:
		s.State = SlotPresent
		s.Key = key
		return nil
	default:
		return fmt.Errorf("cannot store artifact in %s slot", s.State)
	}
}

// MarkRemoved transitions Present to Removed and clears the key. Calling it
// in any other state reports removed=false without error: removing an
// already-removed or policy-disabled artifact is a no-op.
func (s *ArtifactSlot) MarkRemoved() (removed bool) {
	if s.State != SlotPresent {
		return false
	}
	s.State = SlotRemoved
	s.Key = ""
	return true
}

// Removable reports whether the slot holds bytes that actually exist in
// store. A slot that claims Present while the store lacks the bytes is
// inconsistent; it reports false rather than erroring so callers treat the
// removal as a no-op.
func (s ArtifactSlot) Removable(store blobstore.Store) bool {
	return s.State == SlotPresent && s.Key != "" && store.Exists(s.Key)
}
