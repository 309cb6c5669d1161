package sim

import "fmt"

// Inspectable exposes named numeric state to conditions.
type Inspectable interface {
	Variable(name string) (float64, error)
}

// Predicate decides a condition from the variables' current values, given
// in the order they were named.
type Predicate func(values []float64) bool

// Condition reads variables from a source and applies a predicate.
type Condition struct {
	variables []string
	predicate Predicate
	source    Inspectable
	result    bool
}

// NewCondition builds a condition over variables. A nil source is filled in
// by the owning pool when it initialises.
func NewCondition(variables []string, predicate Predicate, source Inspectable) (*Condition, error) {
	if len(variables) == 0 || predicate == nil {
		return nil, fmt.Errorf("%w: a condition needs variables and a predicate", ErrInvalidConfig)
	}
	return &Condition{variables: append([]string(nil), variables...), predicate: predicate, source: source}, nil
}

// ValidOperators lists the operators accepted by ThresholdCondition.
var ValidOperators = map[string]bool{">": true, ">=": true, "<": true, "<=": true, "==": true, "!=": true}

// ThresholdCondition compares one variable against a constant.
func ThresholdCondition(variable, op string, threshold float64) (*Condition, error) {
	var pred Predicate
	switch op {
	case ">":
		pred = func(v []float64) bool { return v[0] > threshold }
	case ">=":
		pred = func(v []float64) bool { return v[0] >= threshold }
	case "<":
		pred = func(v []float64) bool { return v[0] < threshold }
	case "<=":
		pred = func(v []float64) bool { return v[0] <= threshold }
	case "==":
		pred = func(v []float64) bool { return v[0] == threshold }
	case "!=":
		pred = func(v []float64) bool { return v[0] != threshold }
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidConfig, op)
	}
	return NewCondition([]string{variable}, pred, nil)
}

// Evaluate reads the variables and stores the predicate's verdict.
func (c *Condition) Evaluate() (bool, error) {
	if c.source == nil {
		return false, fmt.Errorf("%w: condition on %v has no source", ErrIntegrity, c.variables)
	}
	values := make([]float64, len(c.variables))
	for i, name := range c.variables {
		v, err := c.source.Variable(name)
		if err != nil {
			return false, err
		}
		values[i] = v
	}
	c.result = c.predicate(values)
	return c.result, nil
}

// Result returns the verdict of the last Evaluate.
func (c *Condition) Result() bool { return c.result }

func (c *Condition) clone(cl *Cloner) *Condition {
	return cloneOnce(cl, c, func() *Condition {
		cp := &Condition{variables: c.variables, predicate: c.predicate, source: c.source, result: c.result}
		if c.source != nil {
			cl.later(func() {
				if s, ok := cl.resolve(c.source).(Inspectable); ok {
					cp.source = s
				}
			})
		}
		return cp
	})
}
