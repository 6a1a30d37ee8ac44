// Package rules compiles campaign targeting rules into owner-scoped SQL
// predicates over the customers table. Every stage that resolves an audience
// goes through Compile so counting, resolution and fan-out agree.
package rules

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
)

// noop is the predicate emitted for rules that cannot be compiled
const noop = "TRUE"

// columns maps accepted rule field names to customer columns. Rule fields
// never reach SQL text unless they appear here.
var columns = map[string]string{
	"name":          "name",
	"email":         "email",
	"phone":         "phone",
	"location":      "location",
	"gender":        "gender",
	"dob":           "dob",
	"customerId":    "customer_id",
	"lifetimeSpend": "lifetime_spend",
	"totalOrders":   "total_orders",
	"lastOrderDate": "last_order_date",
	"createdAt":     "created_at",

	"metadata.location": "location",
	"metadata.gender":   "gender",
	"metadata.dob":      "dob",
}

func init() {
	// snake_case aliases, e.g. lifetime_spend
	cols := make([]string, 0, len(columns))
	for _, col := range columns {
		cols = append(cols, col)
	}
	for _, col := range cols {
		columns[col] = col
	}
}

// Filter is a compiled predicate with its positional arguments. Where always
// starts with the owner scope bound to $1.
type Filter struct {
	Where string
	Args  []interface{}
	// Permissive is set when a rule compiled to a no-op
	Permissive bool
}

// NextArg returns the placeholder index following the filter's arguments
func (f Filter) NextArg() int {
	return len(f.Args) + 1
}

// Compile turns a rule set into a predicate scoped to ownerID. AND merges the
// sub-predicates into one conjunction, OR adds a disjunction next to the
// owner scope, and an empty rule list selects every customer of the owner.
// Unknown operators and fields compile to TRUE.
func Compile(set models.RuleSet, ownerID uuid.UUID) Filter {
	f := Filter{
		Where: "owner_id = $1",
		Args:  []interface{}{ownerID},
	}
	if len(set.Rules) == 0 {
		return f
	}

	subs := make([]string, 0, len(set.Rules))
	for _, r := range set.Rules {
		sub, args, ok := compileRule(r, len(f.Args)+1)
		if !ok {
			f.Permissive = true
		}
		f.Args = append(f.Args, args...)
		subs = append(subs, sub)
	}

	if set.Logic == models.LogicOr {
		f.Where += " AND (" + strings.Join(subs, " OR ") + ")"
		return f
	}

	for _, sub := range subs {
		if sub == noop {
			continue
		}
		f.Where += " AND " + sub
	}
	return f
}

// compileRule compiles a single predicate with its first placeholder at pos
func compileRule(r models.Rule, pos int) (string, []interface{}, bool) {
	col, ok := columns[r.Field]
	if !ok {
		return noop, nil, false
	}

	if r.Value == nil {
		switch r.Operator {
		case "=", "==":
			return col + " IS NULL", nil, true
		case "!=":
			return col + " IS NOT NULL", nil, true
		default:
			return noop, nil, false
		}
	}

	ph := fmt.Sprintf("$%d", pos)
	switch r.Operator {
	case ">":
		return col + " > " + ph, []interface{}{r.Value}, true
	case ">=":
		return col + " >= " + ph, []interface{}{r.Value}, true
	case "<":
		return col + " < " + ph, []interface{}{r.Value}, true
	case "<=":
		return col + " <= " + ph, []interface{}{r.Value}, true
	case "=", "==":
		return col + " = " + ph, []interface{}{r.Value}, true
	case "!=":
		return "(" + col + " <> " + ph + " OR " + col + " IS NULL)", []interface{}{r.Value}, true
	default:
		return noop, nil, false
	}
}

// Validate rejects rule sets the intake API should not accept. Pipeline
// stages compile without validating.
func Validate(set models.RuleSet) error {
	switch set.Logic {
	case models.LogicAnd, models.LogicOr, "":
	default:
		return fmt.Errorf("invalid logic %q: must be AND or OR", set.Logic)
	}
	for i, r := range set.Rules {
		if r.Field == "" {
			return fmt.Errorf("rule %d: field is required", i)
		}
		if r.Operator == "" {
			return fmt.Errorf("rule %d: operator is required", i)
		}
	}
	return nil
}

// KnownField reports whether field compiles to a real column
func KnownField(field string) bool {
	_, ok := columns[field]
	return ok
}
