package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/offering"
	"github.com/xenking/course-checkout/internal/domain/order"
)

const getOfferingSQL = `SELECT id, course_id, enrollment_id, product_id, organization_id,
	price, course_start, contract_template_id
	FROM offerings WHERE id = $1`

const getRuleSQL = `SELECT id, offering_id, capacity, is_active, starts_at, ends_at,
	discount_rate, discount_amount, description, created_at
	FROM offering_rules WHERE id = $1`

const listRulesSQL = `SELECT id, offering_id, capacity, is_active, starts_at, ends_at,
	discount_rate, discount_amount, description, created_at
	FROM offering_rules WHERE offering_id = $1 ORDER BY created_at`

// lockRulesSQL pins the offering's rule rows for the duration of the order
// transaction, serializing concurrent seat resolutions per offering.
const lockRulesSQL = listRulesSQL + ` FOR UPDATE`

const countBoundSeatsSQL = `SELECT offering_rule_id, COUNT(*) FROM orders
	WHERE offering_id = $1 AND offering_rule_id IS NOT NULL AND state = ANY($2)
	GROUP BY offering_rule_id`

var (
	_ offering.Repository = (*OfferingRepository)(nil)
	_ offering.Resolver   = (*OfferingRepository)(nil)
)

// OfferingRepository implements offering lookups and seat-aware rule
// resolution backed by PostgreSQL.
type OfferingRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOfferingRepository returns an OfferingRepository that uses the given pool.
func NewOfferingRepository(pool *pgxpool.Pool) *OfferingRepository {
	return &OfferingRepository{pool: pool, now: time.Now}
}

// Get returns an offering by ID.
func (r *OfferingRepository) Get(ctx context.Context, id string) (*offering.Offering, error) {
	var off offering.Offering
	err := q(ctx, r.pool).QueryRow(ctx, getOfferingSQL, id).Scan(
		&off.ID, &off.CourseID, &off.EnrollmentID, &off.ProductID, &off.OrganizationID,
		&off.Price, &off.CourseStart, &off.ContractTemplateID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offering.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting offering %q", id)
	}
	return &off, nil
}

// GetRule returns an offering rule by ID.
func (r *OfferingRepository) GetRule(ctx context.Context, id string) (*offering.Rule, error) {
	rule, err := scanRule(q(ctx, r.pool).QueryRow(ctx, getRuleSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offering.ErrRuleNotFound
		}
		return nil, errors.Wrapf(err, "getting offering rule %q", id)
	}
	return rule, nil
}

// ListRules returns an offering's rules ordered by creation time.
func (r *OfferingRepository) ListRules(ctx context.Context, offeringID string) ([]offering.Rule, error) {
	return r.queryRules(ctx, listRulesSQL, offeringID)
}

// Resolve selects the rule a new order consumes. It locks the offering's
// rule rows and counts seats held by binding orders, so when called inside
// WithOrderLock the seat check and the order write commit atomically.
func (r *OfferingRepository) Resolve(ctx context.Context, offeringID string, seats int) (*offering.Rule, error) {
	if _, err := r.Get(ctx, offeringID); err != nil {
		return nil, err
	}

	rules, err := r.queryRules(ctx, lockRulesSQL, offeringID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	bound, err := r.countBoundSeats(ctx, offeringID)
	if err != nil {
		return nil, err
	}

	if rule := offering.SelectRule(rules, bound, seats, r.now()); rule != nil {
		clone := *rule
		return &clone, nil
	}
	return nil, nil
}

func (r *OfferingRepository) queryRules(ctx context.Context, sql, offeringID string) ([]offering.Rule, error) {
	rows, err := q(ctx, r.pool).Query(ctx, sql, offeringID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing rules of offering %q", offeringID)
	}
	defer rows.Close()

	var rules []offering.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning offering rule")
		}
		rules = append(rules, *rule)
	}
	return rules, errors.Wrap(rows.Err(), "iterating offering rules")
}

func (r *OfferingRepository) countBoundSeats(ctx context.Context, offeringID string) (map[string]int, error) {
	states := make([]string, len(order.BindingStates))
	for i, s := range order.BindingStates {
		states[i] = string(s)
	}

	rows, err := q(ctx, r.pool).Query(ctx, countBoundSeatsSQL, offeringID, states)
	if err != nil {
		return nil, errors.Wrap(err, "counting bound seats")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			ruleID string
			n      int
		)
		if err := rows.Scan(&ruleID, &n); err != nil {
			return nil, errors.Wrap(err, "scanning seat count")
		}
		counts[ruleID] = n
	}
	return counts, errors.Wrap(rows.Err(), "iterating seat counts")
}

func scanRule(row pgx.Row) (*offering.Rule, error) {
	var (
		rule         offering.Rule
		rate, amount *decimal.Decimal
	)
	if err := row.Scan(
		&rule.ID, &rule.OfferingID, &rule.Capacity, &rule.IsActive,
		&rule.Start, &rule.End, &rate, &amount,
		&rule.Description, &rule.CreatedAt,
	); err != nil {
		return nil, err
	}
	if rate != nil || amount != nil {
		rule.Discount = &offering.Discount{Rate: rate, Amount: amount}
	}
	return &rule, nil
}
