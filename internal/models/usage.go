package models

// TierFree is the quota-constrained subscription tier.
const TierFree = "free"

// Usage is a read-only projection of the user's remote quota. It is consulted,
// never mutated, by the push engine.
type Usage struct {
	CommitCount int
	CommitLimit int
	Tier        string
}

// RemainingSlots returns how many more commits may be pushed, or a negative
// value meaning unlimited for unconstrained tiers.
func (u *Usage) RemainingSlots() int {
	if u.Tier != TierFree {
		return -1
	}
	n := u.CommitLimit - u.CommitCount
	if n < 0 {
		return 0
	}
	return n
}
