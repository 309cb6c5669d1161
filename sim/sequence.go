package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Exhaustion is the policy applied when a bounded sequence runs out.
type Exhaustion string

const (
	// ExhaustDefault defers to the component's own default.
	ExhaustDefault Exhaustion = ""
	// ExhaustFail returns ErrExhaustedSequence.
	ExhaustFail Exhaustion = "fail"
	// ExhaustRepeatLast keeps returning the final element.
	ExhaustRepeatLast Exhaustion = "repeat_last"
)

// ValidExhaustion is the set of recognized exhaustion policies.
var ValidExhaustion = map[Exhaustion]bool{ExhaustDefault: true, ExhaustFail: true, ExhaustRepeatLast: true}

func (e Exhaustion) or(def Exhaustion) Exhaustion {
	if e == ExhaustDefault {
		return def
	}
	return e
}

func (e Exhaustion) validate() error {
	if !ValidExhaustion[e] {
		return fmt.Errorf("%w: unknown exhaustion policy %q", ErrInvalidConfig, e)
	}
	return nil
}

// seqAt indexes seq under policy. name is used in errors and warnings.
func seqAt(seq []float64, i int, policy Exhaustion, name string) (float64, error) {
	if i < len(seq) {
		return seq[i], nil
	}
	if len(seq) == 0 || policy != ExhaustRepeatLast {
		return 0, fmt.Errorf("%w: %s has %d entries, iteration %d requested", ErrExhaustedSequence, name, len(seq), i)
	}
	if i == len(seq) {
		logrus.Warnf("%s: data exhausted after %d entries, repeating the last value", name, len(seq))
	}
	return seq[len(seq)-1], nil
}
