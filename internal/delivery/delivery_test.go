package delivery_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/delivery"
)

var deliveryConfig = config.DeliveryConfig{
	ReadingWPM:        250,
	ReadingMin:        800 * time.Millisecond,
	ReadingMax:        3 * time.Second,
	TypingCPS:         3.5,
	TypingJitter:      0.2,
	ThinkingThreshold: 50,
	ThinkingMin:       400 * time.Millisecond,
	ThinkingMax:       1200 * time.Millisecond,
	TypingMin:         time.Second,
	TypingMax:         8 * time.Second,
	PauseMin:          500 * time.Millisecond,
	PauseMax:          1500 * time.Millisecond,
}

type event struct {
	kind  string
	index int
}

type recordingSink struct {
	events    []event
	onDeliver func(int)
	failAt    int
}

func (s *recordingSink) SetTyping(_ context.Context, on bool) error {
	kind := "typing_off"
	if on {
		kind = "typing_on"
	}
	s.events = append(s.events, event{kind: kind, index: -1})
	return nil
}

func (s *recordingSink) Deliver(_ context.Context, index int) error {
	if s.failAt > 0 && index == s.failAt {
		return errors.New("send failed")
	}
	s.events = append(s.events, event{kind: "deliver", index: index})
	if s.onDeliver != nil {
		s.onDeliver(index)
	}
	return nil
}

func (s *recordingSink) delivered() []int {
	var out []int
	for _, e := range s.events {
		if e.kind == "deliver" {
			out = append(out, e.index)
		}
	}
	return out
}

func noWait(waited *[]time.Duration) delivery.WaitFunc {
	return func(ctx context.Context, d time.Duration) error {
		*waited = append(*waited, d)
		return ctx.Err()
	}
}

func TestPlan_Bounds(t *testing.T) {
	t.Parallel()

	fragments := []string{"Oiii", "Tudo bem?"}
	lo := (800 + 1000 + 500) * time.Millisecond
	hi := (3000 + 8000 + 8000 + 1500) * time.Millisecond

	for seed := uint64(0); seed < 200; seed++ {
		timing := delivery.NewTiming(deliveryConfig, rand.New(rand.NewPCG(seed, seed+1)))
		plan := timing.Plan("Oi", fragments)
		total := plan.Total()
		assert.GreaterOrEqual(t, total, lo, "seed %d", seed)
		assert.LessOrEqual(t, total, hi, "seed %d", seed)
	}
}

func TestPlan_Shape(t *testing.T) {
	t.Parallel()

	timing := delivery.NewTiming(deliveryConfig, rand.New(rand.NewPCG(1, 2)))
	plan := timing.Plan("Oi tudo bem", []string{"a", strings.Repeat("x", 60), "c"})

	kinds := make([]delivery.StepKind, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []delivery.StepKind{
		delivery.StepRead,
		delivery.StepType, delivery.StepDeliver, delivery.StepPause,
		delivery.StepType, delivery.StepDeliver, delivery.StepPause,
		delivery.StepType, delivery.StepDeliver,
	}, kinds)

	read := plan.Steps[0].Delay
	assert.Equal(t, 800*time.Millisecond, read, "3 words read faster than the minimum")

	for _, s := range plan.Steps {
		switch s.Kind {
		case delivery.StepType:
			assert.GreaterOrEqual(t, s.Delay, time.Second)
			assert.LessOrEqual(t, s.Delay, 8*time.Second)
		case delivery.StepPause:
			assert.GreaterOrEqual(t, s.Delay, 500*time.Millisecond)
			assert.LessOrEqual(t, s.Delay, 1500*time.Millisecond)
		}
	}

	assert.Equal(t, time.Second, plan.Steps[1].Delay, "short fragment clamped up")
	assert.Equal(t, 8*time.Second, plan.Steps[4].Delay, "long fragment clamped down")
}

func TestPlan_Deterministic(t *testing.T) {
	t.Parallel()

	a := delivery.NewTiming(deliveryConfig, rand.New(rand.NewPCG(7, 7))).Plan("Oi", []string{"Oiii", "Tudo bem?"})
	b := delivery.NewTiming(deliveryConfig, rand.New(rand.NewPCG(7, 7))).Plan("Oi", []string{"Oiii", "Tudo bem?"})
	assert.Equal(t, a, b)
}

func TestPlan_ReadingClampedHigh(t *testing.T) {
	t.Parallel()

	timing := delivery.NewTiming(deliveryConfig, nil)
	plan := timing.Plan(strings.Repeat("palavra ", 100), []string{"ok"})
	assert.Equal(t, 3*time.Second, plan.Steps[0].Delay)
	assert.Empty(t, timing.Plan("oi", nil).Steps)
}

func TestScheduler_RunDeliversInOrder(t *testing.T) {
	t.Parallel()

	var waited []time.Duration
	sched := delivery.NewScheduler(delivery.NewTiming(deliveryConfig, rand.New(rand.NewPCG(3, 4))), noWait(&waited), nil)
	sink := &recordingSink{}

	n, err := sched.Run(context.Background(), "Oi", []string{"Oiii", "Tudo bem?"}, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{0, 1}, sink.delivered())
	assert.Len(t, waited, 4, "read, type, pause, type")

	assert.Equal(t, []event{
		{"typing_on", -1}, {"typing_off", -1}, {"deliver", 0},
		{"typing_on", -1}, {"typing_off", -1}, {"deliver", 1},
	}, sink.events)
}

func TestScheduler_CancelStopsDeliveries(t *testing.T) {
	t.Parallel()

	var waited []time.Duration
	sched := delivery.NewScheduler(delivery.NewTiming(deliveryConfig, nil), noWait(&waited), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onDeliver: func(int) { cancel() }}

	n, err := sched.Run(ctx, "Oi", []string{"um", "dois", "tres"}, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{0}, sink.delivered())
}

func TestScheduler_CancelWhileTypingClearsIndicator(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	wait := func(ctx context.Context, _ time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	}
	sched := delivery.NewScheduler(delivery.NewTiming(deliveryConfig, nil), wait, nil)
	sink := &recordingSink{}

	n, err := sched.Run(ctx, "Oi", []string{"Oiii"}, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Empty(t, sink.delivered())
	assert.Equal(t, []event{{"typing_on", -1}, {"typing_off", -1}}, sink.events)
}

func TestScheduler_SinkError(t *testing.T) {
	t.Parallel()

	var waited []time.Duration
	sched := delivery.NewScheduler(delivery.NewTiming(deliveryConfig, nil), noWait(&waited), nil)
	sink := &recordingSink{failAt: 1}

	n, err := sched.Run(context.Background(), "Oi", []string{"a", "b", "c"}, sink)
	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, delivery.Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, delivery.Sleep(context.Background(), time.Millisecond))
}
