package offering

import "time"

// SelectRule is the pure selection policy shared by every Resolver
// implementation. rules must be ordered by creation time ascending and
// boundSeats maps rule ID to the number of seats held by binding orders.
//
// The first open rule with enough free seats wins. Rules without a capacity
// never run out, so a capacity-free rule carrying a discount still applies
// ahead of the unrestricted fallback. nil means no rule applies and the
// order sells at the regular, undiscounted price.
func SelectRule(rules []Rule, boundSeats map[string]int, seats int, now time.Time) *Rule {
	for i := range rules {
		rule := &rules[i]
		if !rule.open(now) {
			continue
		}
		if rule.Capacity == nil {
			return rule
		}
		if *rule.Capacity-boundSeats[rule.ID] >= seats {
			return rule
		}
	}
	return nil
}
