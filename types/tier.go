package types

// Tier identifies one of the three storage classes, trading access
// latency against capacity and compression.
type Tier string

const (
	// TierHot holds fully materialized entries in memory for sub-5ms access.
	TierHot Tier = "hot"
	// TierWarm holds entries on disk, uncompressed.
	TierWarm Tier = "warm"
	// TierCold holds compressed entries on disk.
	TierCold Tier = "cold"
)

// Tiers lists all tiers from fastest to slowest.
func Tiers() []Tier {
	return []Tier{TierHot, TierWarm, TierCold}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold:
		return true
	}
	return false
}
