package booking

import (
	"fmt"
	"strings"
)

// Policy decides how many times a ledger adjustment is attempted when the version moved
// between the read and the conditional write. Each attempt re-reads the capacity.
type Policy struct {
	MaxAttempts int
}

func FailFast() Policy {
	return Policy{MaxAttempts: 1}
}

func BoundedRetry(n int) Policy {
	if n < 1 {
		n = 1
	}
	return Policy{MaxAttempts: n}
}

// ParsePolicy maps a configuration value ("failfast" or "bounded") to a Policy.
func ParsePolicy(name string, attempts int) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "failfast", "fail-fast":
		return FailFast(), nil
	case "bounded", "boundedretry", "bounded-retry":
		if attempts < 1 {
			return Policy{}, fmt.Errorf("bounded retry needs at least 1 attempt, got %d", attempts)
		}
		return BoundedRetry(attempts), nil
	default:
		return Policy{}, fmt.Errorf("unknown retry policy %q", name)
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) String() string {
	if p.attempts() == 1 {
		return "failfast"
	}
	return fmt.Sprintf("bounded(%d)", p.attempts())
}
