// Package delivery paces outgoing reply fragments so they read like a
// person typing: a reading delay before the first fragment, a typing delay
// before each one and a short pause between them.
package delivery

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/edgard/funnelbot/internal/config"
)

// StepKind identifies a step of a delivery plan.
type StepKind string

// Step kinds, in the order they appear per fragment.
const (
	StepRead    StepKind = "read"
	StepType    StepKind = "type"
	StepDeliver StepKind = "deliver"
	StepPause   StepKind = "pause"
)

// Step is one timed action. Fragment is the index of the fragment a type,
// deliver or pause step belongs to; it is -1 for the reading step.
type Step struct {
	Kind     StepKind      `json:"kind"`
	Delay    time.Duration `json:"delay"`
	Fragment int           `json:"fragment"`
}

// Plan is the ordered list of steps for one reply.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Total returns the sum of all delays of the plan.
func (p Plan) Total() time.Duration {
	var total time.Duration
	for _, s := range p.Steps {
		total += s.Delay
	}
	return total
}

// Timing computes delivery plans.
type Timing struct {
	cfg config.DeliveryConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTiming creates a timing model. A nil rng uses a randomly seeded source.
func NewTiming(cfg config.DeliveryConfig, rng *rand.Rand) *Timing {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Timing{cfg: cfg, rng: rng}
}

// Plan computes the steps for delivering fragments in reply to input.
func (t *Timing) Plan(input string, fragments []string) Plan {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(fragments) == 0 {
		return Plan{}
	}

	steps := make([]Step, 0, 3*len(fragments)+1)
	steps = append(steps, Step{Kind: StepRead, Delay: t.reading(input), Fragment: -1})
	for i, f := range fragments {
		steps = append(steps,
			Step{Kind: StepType, Delay: t.typing(f), Fragment: i},
			Step{Kind: StepDeliver, Fragment: i},
		)
		if i < len(fragments)-1 {
			steps = append(steps, Step{Kind: StepPause, Delay: t.between(t.cfg.PauseMin, t.cfg.PauseMax), Fragment: i})
		}
	}
	return Plan{Steps: steps}
}

func (t *Timing) reading(input string) time.Duration {
	words := len(strings.Fields(input))
	d := time.Duration(float64(words) / t.cfg.ReadingWPM * float64(time.Minute))
	return clamp(d, t.cfg.ReadingMin, t.cfg.ReadingMax)
}

func (t *Timing) typing(fragment string) time.Duration {
	chars := utf8.RuneCountInString(fragment)
	seconds := float64(chars) / t.cfg.TypingCPS
	jitter := 1 + t.cfg.TypingJitter*(2*t.rng.Float64()-1)
	d := time.Duration(seconds * jitter * float64(time.Second))
	if chars > t.cfg.ThinkingThreshold {
		d += t.between(t.cfg.ThinkingMin, t.cfg.ThinkingMax)
	}
	return clamp(d, t.cfg.TypingMin, t.cfg.TypingMax)
}

// between returns a uniform duration in [lo, hi].
func (t *Timing) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(t.rng.Int64N(int64(hi-lo)+1))
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}
