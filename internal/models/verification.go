package models

type ViolationKind string

const (
	PrevHashMismatch  ViolationKind = "prev_hash_mismatch"
	BlockHashMismatch ViolationKind = "block_hash_mismatch"
	PositionGap       ViolationKind = "position_gap"
)

// Violation is a single integrity problem found at one chain position.
type Violation struct {
	Position uint64        `json:"position"`
	Kind     ViolationKind `json:"kind"`
	Expected string        `json:"expected,omitempty"`
	Got      string        `json:"got,omitempty"`
}

// VerificationReport is the result of replaying the chain from genesis.
// Errors holds at most a bounded number of violations; ViolationCount is the
// total found.
type VerificationReport struct {
	OK             bool        `json:"ok"`
	EntryCount     int         `json:"entry_count"`
	ViolationCount int         `json:"violation_count"`
	Errors         []Violation `json:"errors"`
	Truncated      bool        `json:"truncated"`
}
