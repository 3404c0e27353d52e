package fairness

const (
	ReasonSeedMismatch    = "seed/hash mismatch"
	ReasonOutcomeMismatch = "outcome mismatch"
)

// Evidence is everything a third party needs from a published game to
// re-derive it.
type Evidence struct {
	ServerSeed     string
	ServerSeedHash string
	ClientEntropy  string
	Roll           int
	Target         int
}

type Verification struct {
	Verified bool
	Reason   string
	// Win is only meaningful when Verified is true.
	Win bool
}

// Verify recomputes the commitment and the roll from the revealed seed and
// stops at the first mismatch.
func Verify(e Evidence) Verification {
	secret, err := ParseSecret(e.ServerSeed)
	if err != nil || Commit(secret) != e.ServerSeedHash {
		return Verification{Reason: ReasonSeedMismatch}
	}
	if int(Derive(secret, e.ClientEntropy)) != e.Roll {
		return Verification{Reason: ReasonOutcomeMismatch}
	}
	return Verification{Verified: true, Win: e.Roll < e.Target}
}
