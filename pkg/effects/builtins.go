package effects

import (
	"math"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/state"
)

// Built-in effect types.
const (
	SetVariable       = "SET_VARIABLE"
	IncrementVariable = "INCREMENT_VARIABLE"
	DecrementVariable = "DECREMENT_VARIABLE"
	RemoveVariable    = "REMOVE_VARIABLE"
	ToggleVariable    = "TOGGLE_VARIABLE"
	MarkVisited       = "MARK_VISITED"
)

func builtins() map[string]Handler {
	return map[string]Handler{
		SetVariable:       HandlerFunc(handleSetVariable),
		IncrementVariable: HandlerFunc(func(e Effect, d *state.Draft) error { return handleAdd(e, d, 1) }),
		DecrementVariable: HandlerFunc(func(e Effect, d *state.Draft) error { return handleAdd(e, d, -1) }),
		RemoveVariable:    HandlerFunc(handleRemoveVariable),
		ToggleVariable:    HandlerFunc(handleToggleVariable),
		MarkVisited:       HandlerFunc(handleMarkVisited),
	}
}

// Set is a SET_VARIABLE effect.
func Set(variable string, value any) Effect {
	return Effect{Type: SetVariable, Payload: map[string]any{"variable": variable, "value": value}}
}

// Increment is an INCREMENT_VARIABLE effect.
func Increment(variable string, amount any) Effect {
	return Effect{Type: IncrementVariable, Payload: map[string]any{"variable": variable, "amount": amount}}
}

// Decrement is a DECREMENT_VARIABLE effect.
func Decrement(variable string, amount any) Effect {
	return Effect{Type: DecrementVariable, Payload: map[string]any{"variable": variable, "amount": amount}}
}

// StringField returns a required non-empty string from the effect payload.
func StringField(eff Effect, field string) (string, error) {
	raw, ok := eff.Payload[field]
	if !ok {
		return "", invalidPayload(eff, field, "missing")
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", invalidPayload(eff, field, "must be a non-empty string")
	}
	return s, nil
}

func invalidPayload(eff Effect, field, problem string) error {
	return gameerr.WithMetadata(gameerr.CodeEffectInvalid,
		"effect payload field "+field+" "+problem,
		map[string]string{"effect_type": eff.Type, "field": field})
}

// handleSetVariable sets payload.variable to payload.value
func handleSetVariable(eff Effect, d *state.Draft) error {
	name, err := StringField(eff, "variable")
	if err != nil {
		return err
	}
	d.SetVariable(name, eff.Payload["value"])
	return nil
}

// handleAdd adds sign*amount to a numeric variable. A missing or non-numeric
// current value counts as zero. Integer operands keep an integer result of the
// variable's type; a result that overflows it leaves the variable unchanged.
func handleAdd(eff Effect, d *state.Draft, sign int64) error {
	name, err := StringField(eff, "variable")
	if err != nil {
		return err
	}

	var amount any = 1
	if raw, ok := eff.Payload["amount"]; ok && raw != nil {
		if _, numeric := state.ToFloat(raw); !numeric {
			return invalidPayload(eff, "amount", "must be numeric")
		}
		amount = raw
	}

	var current any
	if v, ok := d.Variable(name); ok {
		if _, numeric := state.ToFloat(v); numeric {
			current = v
		}
	}

	d.SetVariable(name, add(current, amount, sign))
	return nil
}

func add(current, amount any, sign int64) any {
	if current == nil {
		current = zeroLike(amount)
	}
	if state.IsInteger(current) && state.IsInteger(amount) {
		if sum, ok := addInt(current, amount, sign); ok {
			return sum
		}
		return current
	}
	c, _ := state.ToFloat(current)
	a, _ := state.ToFloat(amount)
	sum := c + float64(sign)*a
	if math.IsInf(sum, 0) || math.IsNaN(sum) {
		return current
	}
	return sum
}

// zeroLike returns zero with v's integer kind, or int 0 for floats.
func zeroLike(v any) any {
	if state.IsInteger(v) {
		if z, ok := intOfKind(v, 0); ok {
			return z
		}
	}
	return 0
}

// addInt adds in int64 and converts back to current's kind. ok is false when
// either operand or the result does not fit.
func addInt(current, amount any, sign int64) (any, bool) {
	c, ok := toInt64(current)
	if !ok {
		return nil, false
	}
	a, ok := toInt64(amount)
	if !ok {
		return nil, false
	}
	if sign < 0 {
		if a == math.MinInt64 {
			return nil, false
		}
		a = -a
	}
	sum := c + a
	if (a > 0 && sum < c) || (a < 0 && sum > c) {
		return nil, false
	}
	return intOfKind(current, sum)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

func intOfKind(kind any, n int64) (any, bool) {
	switch kind.(type) {
	case int:
		return int(n), int64(int(n)) == n
	case int8:
		return int8(n), n >= math.MinInt8 && n <= math.MaxInt8
	case int16:
		return int16(n), n >= math.MinInt16 && n <= math.MaxInt16
	case int32:
		return int32(n), n >= math.MinInt32 && n <= math.MaxInt32
	case int64:
		return n, true
	case uint:
		return uint(n), n >= 0 && uint64(n) <= math.MaxUint
	case uint8:
		return uint8(n), n >= 0 && n <= math.MaxUint8
	case uint16:
		return uint16(n), n >= 0 && n <= math.MaxUint16
	case uint32:
		return uint32(n), n >= 0 && n <= math.MaxUint32
	case uint64:
		return uint64(n), n >= 0
	}
	return nil, false
}

// handleRemoveVariable deletes payload.variable
func handleRemoveVariable(eff Effect, d *state.Draft) error {
	name, err := StringField(eff, "variable")
	if err != nil {
		return err
	}
	d.RemoveVariable(name)
	return nil
}

// handleToggleVariable flips a boolean variable; anything else becomes true
func handleToggleVariable(eff Effect, d *state.Draft) error {
	name, err := StringField(eff, "variable")
	if err != nil {
		return err
	}
	cur, _ := d.Variable(name)
	b, _ := cur.(bool)
	d.SetVariable(name, !b)
	return nil
}

// handleMarkVisited adds payload.scene to the visited set
func handleMarkVisited(eff Effect, d *state.Draft) error {
	id, err := StringField(eff, "scene")
	if err != nil {
		return err
	}
	d.MarkVisited(id)
	return nil
}
