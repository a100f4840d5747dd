package operation

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// stubbornService rejects every command until accept is set.
type stubbornService struct {
	clock clock.Clock

	mu       sync.Mutex
	accept   bool
	calls    []time.Time
	lastProc string
	params   map[string]interface{}
}

func (s *stubbornService) Name() string                         { return "dosing" }
func (s *stubbornService) State() service.State                 { return service.IDLE }
func (s *stubbornService) CommandEnable() service.CommandEnable { return service.CommandEnable{} }
func (s *stubbornService) SubscribeState(func(service.StateChange)) *event.Subscription {
	return event.NewSubscription(nil)
}

func (s *stubbornService) Execute(_ context.Context, cmd service.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, s.clock.Now())
	if s.accept {
		return nil
	}
	return &service.CommandRejectedError{Service: "dosing", Command: cmd, State: service.IDLE}
}

func (s *stubbornService) SetProcedure(_ context.Context, procedure string, params map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProc = procedure
	s.params = params
	return nil
}

func (s *stubbornService) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var _ = Describe("Operation", func() {
	var (
		ctx   context.Context
		mock  *clock.Mock
		svc   *stubbornService
		local *unit.Local
		units unit.Set
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = clock.NewMock()
		svc = &stubbornService{clock: mock}
		local = unit.NewLocal("reactor")
		local.AddService(svc)
		local.AddVariable("tank", unit.NewVariable("level", 4.0))
		units = unit.Set{local}
	})

	It("aborts after exactly ten attempts spaced by the retry delay", func() {
		op, err := New(Definition{Service: "dosing"}, units, Options{Clock: mock})
		Expect(err).NotTo(HaveOccurred())

		done := make(chan State, 1)
		go func() { done <- op.Execute(ctx) }()

		for i := 1; i < DefaultMaxAttempts; i++ {
			Eventually(svc.attempts).Should(Equal(i))
			Consistently(done, 10*time.Millisecond).ShouldNot(Receive())
			mock.Add(DefaultRetryDelay)
		}
		Eventually(done).Should(Receive(Equal(Aborted)))
		Expect(op.State()).To(Equal(Aborted))
		Expect(op.Attempts()).To(Equal(DefaultMaxAttempts))

		mock.Add(10 * DefaultRetryDelay)
		Consistently(svc.attempts, 20*time.Millisecond).Should(Equal(DefaultMaxAttempts))

		svc.mu.Lock()
		defer svc.mu.Unlock()
		for i := 1; i < len(svc.calls); i++ {
			Expect(svc.calls[i].Sub(svc.calls[i-1])).To(Equal(DefaultRetryDelay))
		}
	})

	It("completes on the first accepted dispatch", func() {
		svc.accept = true
		var events []*event.OperationStateChanged
		op, err := New(Definition{Service: "dosing", Command: "start"}, units, Options{
			Clock: mock,
			Emit: func(e event.Event) {
				events = append(events, e.(*event.OperationStateChanged))
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(op.Execute(ctx)).To(Equal(Completed))
		Expect(svc.attempts()).To(Equal(1))
		Expect(events).To(HaveLen(2))
		Expect(events[0].State).To(Equal("executing"))
		Expect(events[1].State).To(Equal("completed"))
	})

	It("stops retrying once stopped", func() {
		op, _ := New(Definition{Service: "dosing"}, units, Options{Clock: mock})
		done := make(chan State, 1)
		go func() { done <- op.Execute(ctx) }()
		Eventually(svc.attempts).Should(Equal(1))

		op.Stop()
		Eventually(done).Should(Receive(Equal(Aborted)))
		mock.Add(time.Second)
		Consistently(svc.attempts, 20*time.Millisecond).Should(Equal(1))
	})

	It("keeps a restarted run independent of the one it replaced", func() {
		op, _ := New(Definition{Service: "dosing"}, units, Options{Clock: mock})
		first := op.Start(ctx)
		Eventually(svc.attempts).Should(Equal(1))

		op.Stop()
		second := op.Start(ctx)
		Eventually(first).Should(Receive(Equal(Aborted)))
		Eventually(svc.attempts).Should(Equal(2))
		Expect(op.State()).To(Equal(Executing))
		Eventually(op.Attempts).Should(Equal(1))

		mock.Add(DefaultRetryDelay)
		Eventually(op.Attempts).Should(Equal(2))
		Expect(op.State()).To(Equal(Executing))

		op.Stop()
		Eventually(second).Should(Receive(Equal(Aborted)))
		Expect(op.State()).To(Equal(Aborted))
	})

	It("supersedes a run still executing when started again", func() {
		op, _ := New(Definition{Service: "dosing"}, units, Options{Clock: mock})
		first := op.Start(ctx)
		Eventually(svc.attempts).Should(Equal(1))

		second := op.Start(ctx)
		Eventually(first).Should(Receive(Equal(Aborted)))
		Eventually(svc.attempts).Should(Equal(2))
		Expect(op.State()).To(Equal(Executing))

		svc.mu.Lock()
		svc.accept = true
		svc.mu.Unlock()
		mock.Add(DefaultRetryDelay)
		Eventually(second).Should(Receive(Equal(Completed)))
		Expect(op.State()).To(Equal(Completed))
	})

	It("passes the strategy and evaluates parameter expressions at dispatch", func() {
		svc.accept = true
		op, err := New(Definition{
			Service:  "dosing",
			Strategy: "fast",
			Parameter: []ParameterDefinition{
				{Name: "setpoint", Value: 12.5},
				{Name: "volume", Value: "tank.level * 2"},
				{Name: "scaled", Value: "l + 1", Scope: []condition.ScopeItem{{Name: "l", DataAssembly: "tank", Variable: "level"}}},
				{Name: "mode", Value: "auto"},
			},
		}, units, Options{Clock: mock})
		Expect(err).NotTo(HaveOccurred())
		Expect(op.Execute(ctx)).To(Equal(Completed))

		svc.mu.Lock()
		defer svc.mu.Unlock()
		Expect(svc.lastProc).To(Equal("fast"))
		Expect(svc.params).To(HaveKeyWithValue("setpoint", 12.5))
		Expect(svc.params).To(HaveKeyWithValue("volume", 8.0))
		Expect(svc.params).To(HaveKeyWithValue("scaled", 5.0))
		Expect(svc.params).To(HaveKeyWithValue("mode", "auto"))
	})

	It("fails fast on bad references", func() {
		_, err := New(Definition{Service: "heating"}, units, Options{})
		Expect(err).To(HaveOccurred())
		_, err = New(Definition{Service: "dosing", Command: "jump"}, units, Options{})
		Expect(err).To(HaveOccurred())
	})
})
