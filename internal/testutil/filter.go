package testutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/rules"
)

// MatchFilter evaluates a compiled filter against one customer the way
// Postgres would evaluate its WHERE clause. It understands exactly the
// predicate shapes rules.Compile emits. NULL comparisons are false.
func MatchFilter(f rules.Filter, c *models.Customer) (bool, error) {
	where := strings.NewReplacer("(", " ( ", ")", " ) ").Replace(f.Where)
	p := &filterParser{toks: strings.Fields(where), args: f.Args, customer: c}

	ok, err := p.or()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("unexpected %q in %q", p.toks[p.pos], f.Where)
	}
	return ok, nil
}

type filterParser struct {
	toks     []string
	pos      int
	args     []interface{}
	customer *models.Customer
}

func (p *filterParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *filterParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *filterParser) or() (bool, error) {
	v, err := p.and()
	if err != nil {
		return false, err
	}
	for p.peek() == "OR" {
		p.next()
		rhs, err := p.and()
		if err != nil {
			return false, err
		}
		v = v || rhs
	}
	return v, nil
}

func (p *filterParser) and() (bool, error) {
	v, err := p.atom()
	if err != nil {
		return false, err
	}
	for p.peek() == "AND" {
		p.next()
		rhs, err := p.atom()
		if err != nil {
			return false, err
		}
		v = v && rhs
	}
	return v, nil
}

func (p *filterParser) atom() (bool, error) {
	switch tok := p.next(); tok {
	case "(":
		v, err := p.or()
		if err != nil {
			return false, err
		}
		if p.next() != ")" {
			return false, fmt.Errorf("unbalanced parentheses")
		}
		return v, nil
	case "TRUE":
		return true, nil
	case "":
		return false, fmt.Errorf("unexpected end of predicate")
	default:
		val, err := column(p.customer, tok)
		if err != nil {
			return false, err
		}
		if p.peek() == "IS" {
			p.next()
			negate := p.peek() == "NOT"
			if negate {
				p.next()
			}
			if p.next() != "NULL" {
				return false, fmt.Errorf("expected NULL after IS")
			}
			return (val == nil) != negate, nil
		}

		op := p.next()
		arg, err := p.placeholder(p.next())
		if err != nil {
			return false, err
		}
		if val == nil || arg == nil {
			return false, nil
		}
		cmp, err := compare(val, arg)
		if err != nil {
			return false, fmt.Errorf("%s: %w", tok, err)
		}
		switch op {
		case "=":
			return cmp == 0, nil
		case "<>":
			return cmp != 0, nil
		case ">":
			return cmp > 0, nil
		case ">=":
			return cmp >= 0, nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		}
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

func (p *filterParser) placeholder(tok string) (interface{}, error) {
	if !strings.HasPrefix(tok, "$") {
		return nil, fmt.Errorf("expected placeholder, got %q", tok)
	}
	n, err := strconv.Atoi(tok[1:])
	if err != nil || n < 1 || n > len(p.args) {
		return nil, fmt.Errorf("placeholder %s has no argument", tok)
	}
	return p.args[n-1], nil
}

// column returns the customer value stored in col, nil for NULL
func column(c *models.Customer, col string) (interface{}, error) {
	switch col {
	case "owner_id":
		return c.OwnerID, nil
	case "name":
		return c.Name, nil
	case "email":
		return deref(c.Email), nil
	case "phone":
		return deref(c.Phone), nil
	case "location":
		return deref(c.Location), nil
	case "gender", "dob":
		return nil, nil
	case "customer_id":
		return float64(c.CustomerID), nil
	case "lifetime_spend":
		return c.LifetimeSpend, nil
	case "total_orders":
		return float64(c.TotalOrders), nil
	case "last_order_date":
		if c.LastOrderDate == nil {
			return nil, nil
		}
		return *c.LastOrderDate, nil
	case "created_at":
		return c.CreatedAt, nil
	}
	return nil, fmt.Errorf("unknown column %q", col)
}

func deref(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// compare orders a column value against a bound argument
func compare(val, arg interface{}) (int, error) {
	switch v := val.(type) {
	case uuid.UUID:
		a, ok := arg.(uuid.UUID)
		if !ok {
			return 0, fmt.Errorf("cannot compare uuid with %T", arg)
		}
		return strings.Compare(v.String(), a.String()), nil
	case string:
		return strings.Compare(v, fmt.Sprint(arg)), nil
	case float64:
		a, err := toFloat(arg)
		if err != nil {
			return 0, err
		}
		switch {
		case v < a:
			return -1, nil
		case v > a:
			return 1, nil
		}
		return 0, nil
	case time.Time:
		a, err := toTime(arg)
		if err != nil {
			return 0, err
		}
		return v.Compare(a), nil
	}
	return 0, fmt.Errorf("cannot compare %T", val)
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("cannot compare number with %T", v)
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, nil
		}
		return time.Parse("2006-01-02", t)
	}
	return time.Time{}, fmt.Errorf("cannot compare time with %T", v)
}
