package service

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, c.State)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

var _ = Describe("Machine", func() {
	var (
		ctx      context.Context
		m        *Machine
		recorder *stateRecorder
	)

	BeforeEach(func() {
		ctx = context.Background()
		recorder = &stateRecorder{}
		m = NewMachine("dosing", nil, []Procedure{
			{
				Name:       "normal",
				Default:    true,
				Parameters: []Parameter{NewParameter("setpoint", 10.0)},
			},
			{Name: "fast"},
		})
		m.SubscribeState(recorder.record)
	})

	When("a command is not enabled", func() {
		It("is rejected without changing state", func() {
			err := m.Execute(ctx, COMPLETE)
			Expect(IsRejected(err)).To(BeTrue())
			Expect(m.State()).To(Equal(IDLE))
			Expect(recorder.get()).To(BeEmpty())
		})
	})

	When("starting without hooks", func() {
		It("advances through STARTING into EXECUTE and stays there", func() {
			Expect(m.Execute(ctx, START)).To(Succeed())
			Expect(m.State()).To(Equal(EXECUTE))
			Expect(recorder.get()).To(Equal([]State{STARTING, EXECUTE}))
			Expect(m.CommandEnable()).To(Equal(CommandEnableFor(EXECUTE)))
			Expect(m.LastCommand()).To(Equal(START))
		})
	})

	It("runs a full cycle back to IDLE", func() {
		Expect(m.Execute(ctx, START)).To(Succeed())
		Expect(m.Execute(ctx, PAUSE)).To(Succeed())
		Expect(m.State()).To(Equal(PAUSED))
		Expect(m.Execute(ctx, RESUME)).To(Succeed())
		Expect(m.Execute(ctx, COMPLETE)).To(Succeed())
		Expect(m.State()).To(Equal(COMPLETED))
		Expect(m.Execute(ctx, RESET)).To(Succeed())
		Expect(m.State()).To(Equal(IDLE))
		Expect(recorder.get()).To(Equal([]State{
			STARTING, EXECUTE,
			PAUSING, PAUSED,
			RESUMING, EXECUTE,
			COMPLETING, COMPLETED,
			RESETTING, IDLE,
		}))
	})

	It("commits and announces the state before the hook runs", func() {
		var seen State
		var announced []State
		m.SetHook(STARTING, func(ctx context.Context, m *Machine) error {
			seen = m.State()
			announced = recorder.get()
			return nil
		})
		Expect(m.Execute(ctx, START)).To(Succeed())
		Expect(seen).To(Equal(STARTING))
		Expect(announced).To(Equal([]State{STARTING}))
	})

	It("returns hook errors without rolling back", func() {
		boom := errors.New("boom")
		m.SetHook(STARTING, func(context.Context, *Machine) error { return boom })
		Expect(m.Execute(ctx, START)).To(MatchError(boom))
		Expect(m.State()).To(Equal(STARTING))
	})

	It("does not auto-advance when another command moved the machine during the hook", func() {
		m.SetHook(STARTING, func(ctx context.Context, m *Machine) error {
			return m.Execute(ctx, STOP)
		})
		Expect(m.Execute(ctx, START)).To(Succeed())
		Expect(m.State()).To(Equal(STOPPED))
		Expect(recorder.get()).To(Equal([]State{STARTING, STOPPING, STOPPED}))
	})

	When("the execute hook self-completes", func() {
		It("reaches COMPLETED", func() {
			m.SetHook(EXECUTE, func(ctx context.Context, m *Machine) error {
				return m.SelfComplete(ctx)
			})
			Expect(m.Execute(ctx, START)).To(Succeed())
			Eventually(m.State).Should(Equal(COMPLETED))
		})
	})

	It("cancels the execute hook when EXECUTE is left", func() {
		cancelled := make(chan struct{})
		m.SetHook(EXECUTE, func(ctx context.Context, m *Machine) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		})
		Expect(m.Execute(ctx, START)).To(Succeed())
		Expect(m.Execute(ctx, PAUSE)).To(Succeed())
		Eventually(cancelled).Should(BeClosed())
	})

	It("restores parameter defaults on reset", func() {
		Expect(m.SetParameters(map[string]interface{}{"setpoint": 42.0})).To(Succeed())
		v, _ := m.ParameterValue("setpoint")
		Expect(v).To(Equal(42.0))

		Expect(m.Execute(ctx, STOP)).To(Succeed())
		Expect(m.Execute(ctx, RESET)).To(Succeed())
		v, _ = m.ParameterValue("setpoint")
		Expect(v).To(Equal(10.0))
	})

	It("refuses unknown procedures and parameters", func() {
		Expect(m.SetProcedure(ctx, "slow", nil)).To(HaveOccurred())
		Expect(m.SetParameters(map[string]interface{}{"nope": 1})).To(HaveOccurred())
		Expect(m.SetProcedure(ctx, "fast", nil)).To(Succeed())
		p, ok := m.CurrentProcedure()
		Expect(ok).To(BeTrue())
		Expect(p.Name).To(Equal("fast"))
	})

	When("a command-enable filter is installed", func() {
		It("narrows the gate but never widens it", func() {
			allow := false
			m.SetCommandEnableFilter(func(st State, static CommandEnable) CommandEnable {
				return static.With(START, allow).With(RESET, true)
			})
			Expect(m.CommandEnable().Start).To(BeFalse())
			Expect(m.CommandEnable().Reset).To(BeFalse())
			Expect(IsRejected(m.Execute(ctx, START))).To(BeTrue())

			allow = true
			m.RefreshCommandEnable()
			Expect(m.Execute(ctx, START)).To(Succeed())
		})
	})

	It("forces a state without hooks", func() {
		called := false
		m.SetHook(HELD, func(context.Context, *Machine) error { called = true; return nil })
		m.ForceState(HELD)
		Expect(m.State()).To(Equal(HELD))
		Expect(m.CommandEnable().Unhold).To(BeTrue())
		Expect(called).To(BeFalse())
	})
})
