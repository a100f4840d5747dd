package player

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/operation"
	"github.com/p2o-lab/polaris-backend-sub002/core/recipe"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type statusLog struct {
	mu       sync.Mutex
	statuses []string
}

func (l *statusLog) emit(e event.Event) {
	if ps, ok := e.(*event.PlayerStatusChanged); ok {
		l.mu.Lock()
		l.statuses = append(l.statuses, ps.Status)
		l.mu.Unlock()
	}
}

func (l *statusLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.statuses...)
}

var _ = Describe("Player", func() {
	var (
		ctx     context.Context
		mock    *clock.Mock
		dosing  *service.Machine
		units   unit.Set
		events  *statusLog
		p       *Player
		timed   func(name string, seconds float64) *recipe.Recipe
		advance func(step time.Duration, poll func() interface{}) func() interface{}
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = clock.NewMock()
		dosing = service.NewMachine("dosing", nil, nil)
		local := unit.NewLocal("reactor")
		local.AddService(dosing)
		units = unit.Set{local}
		events = &statusLog{}
		p = New(Options{Clock: mock, Emit: events.emit})

		timed = func(name string, seconds float64) *recipe.Recipe {
			r, err := recipe.New(recipe.Definition{
				Name:        name,
				InitialStep: "S1",
				Steps: []recipe.StepDefinition{{
					Name:       "S1",
					Operations: []operation.Definition{{Service: "dosing"}},
					Transitions: []recipe.TransitionDefinition{{
						NextStep:  "S2",
						Condition: condition.Definition{Type: "time", Duration: &seconds},
					}},
				}, {
					Name:       "S2",
					Operations: []operation.Definition{{Service: "dosing", Command: "complete"}},
					Transitions: []recipe.TransitionDefinition{{
						NextStep:  "completed",
						Condition: condition.Definition{Type: "state", Service: "dosing", State: "COMPLETED"},
					}},
				}},
			}, units, recipe.Options{Clock: mock})
			Expect(err).NotTo(HaveOccurred())
			return r
		}

		// advance moves the mock clock by step every time it is polled
		advance = func(step time.Duration, poll func() interface{}) func() interface{} {
			return func() interface{} {
				mock.Add(step)
				return poll()
			}
		}
	})

	status := func() interface{} { return p.Status() }
	runCount := func() interface{} { return len(p.Runs()) }

	It("refuses to start an empty playlist", func() {
		Expect(p.Start(ctx)).To(MatchError(ErrEmptyPlaylist))
		Expect(p.Status()).To(Equal(Idle))
	})

	It("plays every entry and waits for the settle delay in between", func() {
		first := timed("first", 1)
		p.Add(first)
		second := timed("second", 1)
		p.Add(second)

		Expect(p.Start(ctx)).To(Succeed())
		Expect(p.Start(ctx)).To(MatchError(ErrAlreadyRunning))
		run, ok := p.CurrentRun()
		Expect(ok).To(BeTrue())
		Expect(run.RecipeName).To(Equal("first"))

		Eventually(advance(100*time.Millisecond, func() interface{} { return first.Status() })).
			Should(Equal(recipe.Completed))
		// the settle delay only passes with the clock
		Consistently(runCount, 30*time.Millisecond).Should(Equal(1))

		Eventually(advance(100*time.Millisecond, runCount)).Should(Equal(2))
		Expect(dosing.Execute(ctx, service.RESET)).To(Succeed())
		Eventually(advance(100*time.Millisecond, status)).Should(Equal(Completed))

		runs := p.Runs()
		Expect(runs).To(HaveLen(2))
		Expect(runs[0].RecipeName).To(Equal("first"))
		Expect(runs[1].RecipeName).To(Equal("second"))
		for _, r := range runs {
			Expect(r.Status).To(Equal(recipe.Completed))
			Expect(r.Ended).NotTo(BeZero())
		}
		Expect(runs[0].ID).NotTo(Equal(runs[1].ID))
		_, ok = p.CurrentRun()
		Expect(ok).To(BeFalse())
		Expect(events.all()).To(HaveEach(BeElementOf("running", "completed")))
		Expect(events.all()).To(ContainElement("completed"))
	})

	It("pauses and resumes the units of the current recipe", func() {
		p.Add(timed("long", 100))
		Expect(p.Start(ctx)).To(Succeed())
		Eventually(dosing.State).Should(Equal(service.EXECUTE))

		Expect(p.Pause(ctx)).To(Succeed())
		Expect(p.Status()).To(Equal(Paused))
		Expect(dosing.State()).To(Equal(service.PAUSED))
		Expect(p.Pause(ctx)).To(MatchError(ErrNotRunning))

		// start resumes from paused
		Expect(p.Start(ctx)).To(Succeed())
		Expect(p.Status()).To(Equal(Running))
		Expect(dosing.State()).To(Equal(service.EXECUTE))

		Expect(p.Stop(ctx)).To(Succeed())
	})

	It("stops the current recipe", func() {
		r := timed("long", 100)
		p.Add(r)
		Expect(p.Start(ctx)).To(Succeed())
		Eventually(dosing.State).Should(Equal(service.EXECUTE))

		Expect(p.Stop(ctx)).To(Succeed())
		Expect(p.Status()).To(Equal(Stopped))
		Expect(r.Status()).To(Equal(recipe.Stopped))
		Expect(dosing.State()).To(Equal(service.STOPPED))
		Expect(p.Runs()[0].Status).To(Equal(recipe.Stopped))
		Expect(p.Stop(ctx)).To(MatchError(ErrNotRunning))

		Expect(p.Reset(ctx)).To(Succeed())
		Expect(p.Status()).To(Equal(Idle))
		Expect(p.CurrentIndex()).To(Equal(0))
	})

	It("starts over when repeating", func() {
		r := timed("cycle", 1)
		p.Add(r)
		p.Repeat(true)
		Expect(p.Start(ctx)).To(Succeed())

		Eventually(advance(100*time.Millisecond, func() interface{} { return r.Status() })).
			Should(Equal(recipe.Completed))
		Expect(dosing.Execute(ctx, service.RESET)).To(Succeed())
		Eventually(advance(100*time.Millisecond, runCount)).Should(Equal(2))
		Expect(p.Status()).To(Equal(Running))
		Expect(p.CurrentIndex()).To(Equal(0))

		Expect(p.Stop(ctx)).To(Succeed())
	})

	It("forwards forced transitions to the current recipe", func() {
		r := timed("forced", 100)
		p.Add(r)
		Expect(p.ForceTransition("S1", "S2")).To(MatchError(ErrNotRunning))
		Expect(p.Start(ctx)).To(Succeed())

		Eventually(r.CurrentStep).Should(Equal("S1"))
		Expect(p.ForceTransition("S2", "completed")).To(HaveOccurred())
		Expect(p.ForceTransition("S1", "completed")).To(Succeed())
		Eventually(r.Status).Should(Equal(recipe.Completed))
		Eventually(advance(100*time.Millisecond, status)).Should(Equal(Completed))
	})

	It("protects the playing entry from removal", func() {
		p.Add(timed("a", 100))
		p.Add(timed("b", 100))
		Expect(p.Start(ctx)).To(Succeed())

		Expect(p.Remove(0)).To(HaveOccurred())
		Expect(p.Remove(5)).To(HaveOccurred())
		Expect(p.Remove(1)).To(Succeed())
		Expect(p.Playlist()).To(HaveLen(1))

		Expect(p.Stop(ctx)).To(Succeed())
	})
})
