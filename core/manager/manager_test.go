package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

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

type recorder struct {
	mu     sync.Mutex
	names  []string
	closed bool
}

func (r *recorder) WriteEvent(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, e.GetName())
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

const recipeDoc = `
name: dose
protected: %s
initial_step: S1
steps:
  - name: S1
    operations:
      - module: reactor
        service: dosing
    transitions:
      - next_step: completed
        condition: {type: state, module: reactor, service: dosing, state: execute}
`

const aggregatedDoc = `{
  "name": "mixdose",
  "necessaryServices": [
    {"pea": "reactor", "service": "dosing"},
    {"pea": "mixer", "service": "stirrer"}
  ]
}`

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		rec     *recorder
		m       *Manager
		reactor *unit.Local
		dosing  *service.Machine
		stirrer *service.Machine
	)

	BeforeEach(func() {
		ctx = context.Background()
		rec = &recorder{}
		m = New(Options{Clock: clock.NewMock(), Writers: []event.Writer{rec}})

		reactor = unit.NewLocal("reactor")
		dosing = service.NewMachine("dosing", nil, nil)
		reactor.AddService(dosing)
		mixer := unit.NewLocal("mixer")
		stirrer = service.NewMachine("stirrer", nil, nil)
		mixer.AddService(stirrer)
		Expect(m.AddUnit(reactor)).To(Succeed())
		Expect(m.AddUnit(mixer)).To(Succeed())
	})

	It("refuses duplicate unit names", func() {
		Expect(m.AddUnit(unit.NewLocal("reactor"))).To(HaveOccurred())
		u, err := m.Unit("reactor")
		Expect(err).NotTo(HaveOccurred())
		Expect(u).To(BeIdenticalTo(reactor))
		_, err = m.Unit("nowhere")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("forwards service and connection changes to its writers", func() {
		Expect(reactor.Connect(ctx)).To(Succeed())
		Expect(dosing.Execute(ctx, service.START)).To(Succeed())
		Expect(rec.seen()).To(ContainElements("UNIT_CONNECTION", "SERVICE_STATE"))
	})

	It("loads recipes and guards their removal", func() {
		r, err := m.LoadRecipe([]byte(fmt.Sprintf(recipeDoc, "true")))
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Recipes()).To(ConsistOf(r))
		found, err := m.Recipe(r.ID().String())
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeIdenticalTo(r))

		Expect(errors.Is(m.RemoveRecipe(r.ID().String()), ErrProtected)).To(BeTrue())
		Expect(errors.Is(m.RemoveRecipe("unknown"), ErrNotFound)).To(BeTrue())

		open, err := m.LoadRecipe([]byte(fmt.Sprintf(recipeDoc, "false")))
		Expect(err).NotTo(HaveOccurred())
		m.Player().Add(open)
		Expect(errors.Is(m.RemoveRecipe(open.ID().String()), ErrInUse)).To(BeTrue())
		Expect(m.Player().Remove(0)).To(Succeed())
		Expect(m.RemoveRecipe(open.ID().String())).To(Succeed())
		Expect(m.Recipes()).To(ConsistOf(r))

		Expect(errors.Is(m.RemoveUnit(ctx, "reactor"), ErrInUse)).To(BeTrue())
	})

	It("rejects documents that do not match the schema", func() {
		_, err := m.LoadRecipe([]byte(`name: broken`))
		Expect(err).To(HaveOccurred())
		Expect(m.Recipes()).To(BeEmpty())
	})

	It("hosts aggregated services where recipes can reach them", func() {
		s, err := m.LoadAggregated([]byte(aggregatedDoc))
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Aggregated()).To(ConsistOf(s))
		_, err = m.LoadAggregated([]byte(aggregatedDoc))
		Expect(err).To(HaveOccurred())

		r, err := m.AddRecipe(recipe.Definition{
			Name:        "composite",
			InitialStep: "S1",
			Steps: []recipe.StepDefinition{{
				Name: "S1",
				Operations: []operation.Definition{{
					Module:  AggregatedUnit,
					Service: "mixdose",
				}},
				Transitions: []recipe.TransitionDefinition{{
					NextStep:  recipe.NextCompleted,
					Condition: condition.Definition{Type: "state", Module: AggregatedUnit, Service: "mixdose", State: "EXECUTE"},
				}},
			}},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Start(ctx)).To(Succeed())
		Eventually(r.Status).Should(Equal(recipe.Completed))
		Expect(dosing.State()).To(Equal(service.EXECUTE))
		Expect(stirrer.State()).To(Equal(service.EXECUTE))
		Expect(errors.Is(m.RemoveUnit(ctx, "mixer"), ErrInUse)).To(BeTrue())
	})

	It("disconnects every unit and closes the writers on shutdown", func() {
		Expect(m.Units().ConnectAll(ctx)).To(Succeed())
		Expect(m.Shutdown(ctx)).To(Succeed())
		for _, u := range m.Units() {
			Expect(u.Connected()).To(BeFalse())
		}
		rec.mu.Lock()
		defer rec.mu.Unlock()
		Expect(rec.closed).To(BeTrue())
	})
})
