package offering

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func capOf(n int) *int { return &n }

func ratePct(s string) *Discount {
	r := dec(s)
	return &Discount{Rate: &r}
}

func TestDiscount_Apply(t *testing.T) {
	amount := dec("15.00")
	rate := dec("50")

	tests := []struct {
		name     string
		discount Discount
		price    string
		want     string
	}{
		{"rate half", Discount{Rate: &rate}, "10.00", "5.00"},
		{"fixed amount", Discount{Amount: &amount}, "100.00", "85.00"},
		{"fixed amount floored", Discount{Amount: &amount}, "10.00", "0"},
		{"empty discount", Discount{}, "42.00", "42.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.discount.Apply(dec(tt.price))
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestSelectRule_FirstCreatedFirstConsumed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ruleA := Rule{ID: "a", Capacity: capOf(1), IsActive: true, Discount: ratePct("50"), CreatedAt: now.Add(-2 * time.Hour)}
	ruleB := Rule{ID: "b", Capacity: capOf(3), IsActive: true, Discount: ratePct("30"), CreatedAt: now.Add(-time.Hour)}
	rules := []Rule{ruleA, ruleB}

	// Nothing consumed yet: the older rule wins.
	got := SelectRule(rules, nil, 1, now)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)

	// One order consumed rule A: the next resolution falls through to B.
	got = SelectRule(rules, map[string]int{"a": 1}, 1, now)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
}

func TestSelectRule_NeverOverAllocates(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rules := []Rule{{ID: "a", Capacity: capOf(2), IsActive: true, CreatedAt: now}}

	assert.NotNil(t, SelectRule(rules, map[string]int{"a": 1}, 1, now))
	assert.Nil(t, SelectRule(rules, map[string]int{"a": 2}, 1, now))
	assert.Nil(t, SelectRule(rules, map[string]int{"a": 1}, 2, now))
}

func TestSelectRule_SkipsClosedRules(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"inactive", Rule{ID: "r", IsActive: false}, false},
		{"expired", Rule{ID: "r", IsActive: true, End: &past}, false},
		{"not started", Rule{ID: "r", IsActive: true, Start: &future}, false},
		{"inside window", Rule{ID: "r", IsActive: true, Start: &past, End: &future}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectRule([]Rule{tt.rule}, nil, 1, now)
			if tt.want {
				assert.NotNil(t, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestSelectRule_UnlimitedRuleWithDiscountBeatsFallback(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exhausted := Rule{ID: "a", Capacity: capOf(1), IsActive: true, CreatedAt: now.Add(-time.Hour)}
	unlimited := Rule{ID: "b", IsActive: true, Discount: ratePct("10"), CreatedAt: now}

	got := SelectRule([]Rule{exhausted, unlimited}, map[string]int{"a": 1}, 1, now)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
}

func TestSelectRule_NoRules(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Nil(t, SelectRule(nil, nil, 1, now))
}
