package runner

import (
	"fmt"
	"time"

	"winmaint/internal/script"
)

// Estimator supplies execution-time estimates for scripts that do not carry
// one. *store.BoltStore implements it from recorded history.
type Estimator interface {
	ExecutionTime(name string) (time.Duration, bool)
}

// Estimate is a remaining-time figure. When any contributing script had no
// estimate, Duration is a lower bound and Exact is false.
type Estimate struct {
	Duration time.Duration `json:"duration"`
	Exact    bool          `json:"exact"`
}

func (e Estimate) String() string {
	d := e.Duration.Round(time.Second)
	if e.Exact {
		return d.String()
	}
	return fmt.Sprintf("at least %s", d)
}

// estimateFor prefers the script's own estimate over history.
func estimateFor(s *script.Script, est Estimator) (time.Duration, bool) {
	if s.ExecutionTime != nil {
		return *s.ExecutionTime, true
	}
	if est != nil {
		return est.ExecutionTime(s.InvariantName)
	}
	return 0, false
}

// EstimateScripts sums the estimates of scripts.
func EstimateScripts(scripts []*script.Script, est Estimator) Estimate {
	total := Estimate{Exact: true}
	for _, s := range scripts {
		d, ok := estimateFor(s, est)
		if !ok {
			total.Exact = false
			continue
		}
		total.Duration += d
	}
	return total
}
