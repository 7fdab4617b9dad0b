package cache

import "fmt"

// Policy selects the eviction strategy. Fixed per cache instance.
type Policy uint8

const (
	// PolicyLRU evicts entries oldest by last access first.
	PolicyLRU Policy = iota
	// PolicyLFU evicts entries with the lowest access count first.
	PolicyLFU
	// PolicyTTL evicts already-expired entries first, then oldest by creation.
	PolicyTTL
	// PolicyAdaptive scores entries on recency, frequency, size and
	// remaining TTL, evicting the highest-scored first. Falls back to LRU
	// when scoring fails.
	PolicyAdaptive
)

func (p Policy) String() string {
	switch p {
	case PolicyLRU:
		return "lru"
	case PolicyLFU:
		return "lfu"
	case PolicyTTL:
		return "ttl"
	case PolicyAdaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// ParsePolicy returns the policy for its stable name.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "lru":
		return PolicyLRU, nil
	case "lfu":
		return PolicyLFU, nil
	case "ttl":
		return PolicyTTL, nil
	case "adaptive":
		return PolicyAdaptive, nil
	default:
		return 0, fmt.Errorf("unknown eviction policy %q", name)
	}
}
