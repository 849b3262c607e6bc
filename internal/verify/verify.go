// Package verify defines the proof-verification capability consumed by the
// session state machine. Proof generation and the cryptographic scheme behind
// it live in an external prover service; this package only asks yes/no.
package verify

import "context"

// Verifier is a pure boolean oracle over opaque commitments and proof blobs.
// A false answer and a transport error are treated identically by callers
// (the proof is rejected).
type Verifier interface {
	// VerifyBoardPlacement checks that a board commitment corresponds to a
	// legal fleet placement.
	VerifyBoardPlacement(ctx context.Context, commitment, proof string) (bool, error)

	// VerifyShotResult checks that the claimed hit/miss answer for the shot
	// at (x, y) is consistent with the committed board.
	VerifyShotResult(ctx context.Context, commitment string, x, y int, claimedHit bool, proof string) (bool, error)

	// VerifyGameEnd checks a full-board-sunk claim against the commitment
	// and the hash of the shot history.
	VerifyGameEnd(ctx context.Context, commitment, historyHash, proof string) (bool, error)
}

// Static answers every query with a fixed verdict. Used in tests and in
// backend-attested deployments where no proofs are exchanged.
type Static struct {
	OK bool
}

func (s Static) VerifyBoardPlacement(context.Context, string, string) (bool, error) {
	return s.OK, nil
}

func (s Static) VerifyShotResult(context.Context, string, int, int, bool, string) (bool, error) {
	return s.OK, nil
}

func (s Static) VerifyGameEnd(context.Context, string, string, string) (bool, error) {
	return s.OK, nil
}
