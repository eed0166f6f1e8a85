// Package budget resolves raw asset budget configuration into a signed (short, long) range.
package budget

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalidBudget is returned when a budget cannot be normalized.
var ErrInvalidBudget = errors.New("invalid budget")

// Unit is the denomination of a budget amount.
type Unit string

const (
	UnitDollar Unit = "dollar"
	UnitShare  Unit = "share"
)

// ParseUnit matches a unit name case-insensitively.
func ParseUnit(s string) (Unit, error) {
	switch Unit(strings.ToLower(strings.TrimSpace(s))) {
	case UnitDollar:
		return UnitDollar, nil
	case UnitShare:
		return UnitShare, nil
	}
	return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidBudget, s)
}

// Budget is a normalized budget. Short <= 0 <= Long always holds, and Short < Long
// unless both are zero.
type Budget struct {
	Unit  Unit
	Short decimal.Decimal
	Long  decimal.Decimal
}

// IsZero reports whether the budget is the degenerate zero budget.
func (b Budget) IsZero() bool {
	return b.Short.IsZero() && b.Long.IsZero()
}

// Spec is the raw budget as written in configuration. It accepts a scalar (`500`),
// a two-element range (`[-100, 500]`) or an object with an explicit unit
// (`{"unit": "share", "amount": 10}`).
type Spec struct {
	Unit    string            `json:"unit,omitempty" yaml:"unit,omitempty"`
	Amounts []decimal.Decimal `json:"amount" yaml:"amount"`
	Ranged  bool              `json:"-" yaml:"-"`
}

// Scalar builds a scalar dollar spec.
func Scalar(amount float64) Spec {
	return Spec{Amounts: []decimal.Decimal{decimal.NewFromFloat(amount)}}
}

// Range builds a ranged dollar spec.
func Range(amounts ...float64) Spec {
	s := Spec{Ranged: true}
	for _, a := range amounts {
		s.Amounts = append(s.Amounts, decimal.NewFromFloat(a))
	}
	return s
}

// Resolve normalizes a raw spec into a Budget.
func Resolve(spec Spec) (Budget, error) {
	unit := UnitDollar
	if spec.Unit != "" {
		u, err := ParseUnit(spec.Unit)
		if err != nil {
			return Budget{}, err
		}
		unit = u
	}

	if spec.Ranged {
		if len(spec.Amounts) != 2 {
			return Budget{}, fmt.Errorf("%w: range must have 2 elements, got %d", ErrInvalidBudget, len(spec.Amounts))
		}
		short := decimal.Min(spec.Amounts[0], spec.Amounts[1])
		long := decimal.Max(spec.Amounts[0], spec.Amounts[1])
		if short.IsPositive() || long.IsNegative() || short.GreaterThanOrEqual(long) {
			return Budget{}, fmt.Errorf("%w: illegal range [%s, %s]", ErrInvalidBudget, short, long)
		}
		return Budget{Unit: unit, Short: short, Long: long}, nil
	}

	if len(spec.Amounts) != 1 {
		return Budget{}, fmt.Errorf("%w: missing amount", ErrInvalidBudget)
	}
	amount := spec.Amounts[0]
	switch {
	case amount.IsPositive():
		return Budget{Unit: unit, Short: decimal.Zero, Long: amount}, nil
	case amount.IsNegative():
		return Budget{Unit: unit, Short: amount, Long: decimal.Zero}, nil
	default:
		// Zero budgets are tolerated; they simply allow no trades.
		return Budget{Unit: unit, Short: decimal.Zero, Long: decimal.Zero}, nil
	}
}

// =============================================================================
// Encoding
// =============================================================================

type specObject struct {
	Unit   string          `json:"unit" yaml:"unit"`
	Amount json.RawMessage `json:"amount"`
}

// UnmarshalJSON accepts scalar, range and object forms.
func (s *Spec) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var obj specObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBudget, err)
		}
		if obj.Unit == "" {
			return fmt.Errorf("%w: missing unit", ErrInvalidBudget)
		}
		var inner Spec
		if err := inner.UnmarshalJSON(obj.Amount); err != nil {
			return err
		}
		inner.Unit = obj.Unit
		*s = inner
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var amounts []decimal.Decimal
		if err := json.Unmarshal(data, &amounts); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBudget, err)
		}
		*s = Spec{Amounts: amounts, Ranged: true}
		return nil
	}
	var amount decimal.Decimal
	if err := json.Unmarshal(data, &amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBudget, err)
	}
	*s = Spec{Amounts: []decimal.Decimal{amount}}
	return nil
}

// MarshalJSON writes the spec back in the shortest equivalent form.
func (s Spec) MarshalJSON() ([]byte, error) {
	var amount any
	if s.Ranged {
		amount = s.Amounts
	} else if len(s.Amounts) == 1 {
		amount = s.Amounts[0]
	} else {
		amount = s.Amounts
	}
	if s.Unit == "" {
		return json.Marshal(amount)
	}
	return json.Marshal(map[string]any{"unit": s.Unit, "amount": amount})
}

// UnmarshalYAML accepts scalar, sequence and mapping forms.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		amount, err := decimal.NewFromString(node.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBudget, err)
		}
		*s = Spec{Amounts: []decimal.Decimal{amount}}
	case yaml.SequenceNode:
		spec := Spec{Ranged: true}
		for _, item := range node.Content {
			amount, err := decimal.NewFromString(item.Value)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidBudget, err)
			}
			spec.Amounts = append(spec.Amounts, amount)
		}
		*s = spec
	case yaml.MappingNode:
		var unit string
		var inner Spec
		for i := 0; i+1 < len(node.Content); i += 2 {
			switch node.Content[i].Value {
			case "unit":
				unit = node.Content[i+1].Value
			case "amount":
				if err := inner.UnmarshalYAML(node.Content[i+1]); err != nil {
					return err
				}
			}
		}
		if unit == "" {
			return fmt.Errorf("%w: missing unit", ErrInvalidBudget)
		}
		inner.Unit = unit
		*s = inner
	default:
		return fmt.Errorf("%w: unsupported yaml node", ErrInvalidBudget)
	}
	return nil
}
