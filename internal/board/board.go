package board

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/bits"
)

const (
	// Dim is the side length of the grid.
	Dim = 10
	// Cells is the total cell count.
	Cells = Dim * Dim
	// ShipCells is the number of occupied cells across the fleet (5+4+3+3+2).
	ShipCells = 17
)

// Errors
var (
	ErrOutOfRange = errf("coordinate out of range")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// State tracks incoming fire on one player's grid. The 100 cells are packed
// into two uint64 words per mask: bits 0-63 in the low word, 64-99 in the
// high word. Cell index is y*10+x.
type State struct {
	ShotLo uint64 `json:"shot_lo"`
	ShotHi uint64 `json:"shot_hi"`
	HitLo  uint64 `json:"hit_lo"`
	HitHi  uint64 `json:"hit_hi"`

	HitCount int `json:"hit_count"`

	// Commitment binds the private ship layout without revealing it.
	Commitment string `json:"commitment,omitempty"`
}

// New returns an empty board state.
func New() *State { return &State{} }

// CoordToIndex maps (x, y) to the packed cell index y*10+x.
func CoordToIndex(x, y int) (int, error) {
	if x < 0 || x >= Dim || y < 0 || y >= Dim {
		return 0, ErrOutOfRange
	}
	return y*Dim + x, nil
}

// IndexToCoord is the exact inverse of CoordToIndex.
func IndexToCoord(idx int) (x, y int, err error) {
	if idx < 0 || idx >= Cells {
		return 0, 0, ErrOutOfRange
	}
	return idx % Dim, idx / Dim, nil
}

func maskBit(lo, hi uint64, idx int) bool {
	if idx < 64 {
		return lo&(1<<uint(idx)) != 0
	}
	return hi&(1<<uint(idx-64)) != 0
}

func setBit(lo, hi *uint64, idx int) {
	if idx < 64 {
		*lo |= 1 << uint(idx)
	} else {
		*hi |= 1 << uint(idx-64)
	}
}

// Shot reports whether the cell has been fired at.
func (s *State) Shot(idx int) bool { return maskBit(s.ShotLo, s.ShotHi, idx) }

// Hit reports whether the cell holds a confirmed hit.
func (s *State) Hit(idx int) bool { return maskBit(s.HitLo, s.HitHi, idx) }

// ShotCount returns the number of cells fired at.
func (s *State) ShotCount() int {
	return bits.OnesCount64(s.ShotLo) + bits.OnesCount64(s.ShotHi)
}

// RecordShot marks the cell as fired at. Returns false without mutating when
// the cell was already targeted.
func (s *State) RecordShot(idx int) bool {
	if s.Shot(idx) {
		return false
	}
	setBit(&s.ShotLo, &s.ShotHi, idx)
	return true
}

// RecordHit marks the cell as a confirmed hit and reports whether the whole
// fleet is now sunk. This is the sole win-detection primitive.
func (s *State) RecordHit(idx int) (sunkAll bool) {
	if s.Hit(idx) {
		return s.HitCount == ShipCells
	}
	setBit(&s.HitLo, &s.HitHi, idx)
	s.HitCount++
	return s.HitCount == ShipCells
}

// Fingerprint returns a deterministic hash over (shotMask, hitMask, hitCount)
// for audit and state comparison.
func (s *State) Fingerprint() string {
	var buf [40]byte
	binary.BigEndian.PutUint64(buf[0:], s.ShotLo)
	binary.BigEndian.PutUint64(buf[8:], s.ShotHi)
	binary.BigEndian.PutUint64(buf[16:], s.HitLo)
	binary.BigEndian.PutUint64(buf[24:], s.HitHi)
	binary.BigEndian.PutUint64(buf[32:], uint64(s.HitCount))
	sum := sha256.Sum256(buf[:])
	return hex.EncodeToString(sum[:])
}
