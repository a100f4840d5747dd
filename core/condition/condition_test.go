package condition_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []bool
}

func record(c condition.Condition) *changeRecorder {
	r := &changeRecorder{}
	c.OnChange(func(v bool) {
		r.mu.Lock()
		r.changes = append(r.changes, v)
		r.mu.Unlock()
	})
	return r
}

func (r *changeRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.changes...)
}

// unreadable publishes changes but fails every direct read.
type unreadable struct {
	*unit.Variable
}

func (u *unreadable) Value(context.Context) (interface{}, error) {
	return nil, errors.New("read timed out")
}

func seconds(s float64) *float64 {
	return &s
}

var _ = Describe("conditions", func() {
	var (
		ctx     context.Context
		mock    *clock.Mock
		local   *unit.Local
		level   *unit.Variable
		dosing  *service.Machine
		builder condition.Builder
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = clock.NewMock()
		local = unit.NewLocal("reactor")
		level = unit.NewVariable("level", 20.0)
		local.AddVariable("tank", level)
		dosing = service.NewMachine("dosing", nil, nil)
		local.AddService(dosing)
		builder = condition.Builder{Units: unit.Set{local}, Clock: mock}
	})

	Describe("Time", func() {
		It("refuses non-positive durations", func() {
			_, err := condition.NewTime(0, mock)
			Expect(err).To(HaveOccurred())
			_, err = builder.Build(condition.Definition{Type: "time", Duration: seconds(-1)})
			Expect(err).To(HaveOccurred())
		})

		It("fires once after its duration", func() {
			t, err := condition.NewTime(time.Second, mock)
			Expect(err).NotTo(HaveOccurred())
			rec := record(t)
			Expect(t.Listen(ctx)).To(Succeed())
			Expect(t.Fulfilled()).To(Equal(condition.False))

			mock.Add(999 * time.Millisecond)
			Consistently(t.Fulfilled, 20*time.Millisecond).Should(Equal(condition.False))
			mock.Add(time.Millisecond)
			Eventually(t.Fulfilled).Should(Equal(condition.True))
			Expect(rec.get()).To(Equal([]bool{true}))
		})

		It("produces nothing once cleared", func() {
			t, _ := condition.NewTime(time.Second, mock)
			rec := record(t)
			Expect(t.Listen(ctx)).To(Succeed())
			t.Clear()
			t.Clear()
			Expect(t.Fulfilled()).To(Equal(condition.Undefined))
			mock.Add(2 * time.Second)
			Consistently(rec.get, 20*time.Millisecond).Should(BeEmpty())
		})
	})

	Describe("And / Or", func() {
		var d1, d2 *condition.Time

		BeforeEach(func() {
			d1, _ = condition.NewTime(1*time.Second, mock)
			d2, _ = condition.NewTime(2*time.Second, mock)
		})

		It("fulfils And only once the longer timer fired", func() {
			and := condition.NewAnd(d1, d2)
			rec := record(and)
			Expect(and.Listen(ctx)).To(Succeed())

			mock.Add(time.Second)
			Eventually(d1.Fulfilled).Should(Equal(condition.True))
			Consistently(and.Fulfilled, 20*time.Millisecond).Should(Equal(condition.False))

			mock.Add(time.Second)
			Eventually(and.Fulfilled).Should(Equal(condition.True))
			Expect(rec.get()).To(Equal([]bool{true}))
		})

		It("fulfils Or as soon as the shorter timer fired", func() {
			or := condition.NewOr(d1, d2)
			rec := record(or)
			Expect(or.Listen(ctx)).To(Succeed())

			mock.Add(time.Second)
			Eventually(or.Fulfilled).Should(Equal(condition.True))

			mock.Add(time.Second)
			Eventually(d2.Fulfilled).Should(Equal(condition.True))
			Expect(rec.get()).To(Equal([]bool{true}))
		})

		It("clears every child", func() {
			and := condition.NewAnd(d1, d2)
			Expect(and.Listen(ctx)).To(Succeed())
			and.Clear()
			Expect(d1.Fulfilled()).To(Equal(condition.Undefined))
			Expect(d2.Fulfilled()).To(Equal(condition.Undefined))
		})
	})

	Describe("Not", func() {
		It("is fulfilled immediately and flips when its timer fires", func() {
			t, _ := condition.NewTime(time.Second, mock)
			not := condition.NewNot(t)
			Expect(not.Fulfilled()).To(Equal(condition.True))
			rec := record(not)

			Expect(not.Listen(ctx)).To(Succeed())
			Expect(not.Fulfilled()).To(Equal(condition.True))

			mock.Add(time.Second)
			Eventually(not.Fulfilled).Should(Equal(condition.False))
			Expect(rec.get()).To(Equal([]bool{false}))
		})
	})

	Describe("Variable", func() {
		It("emits exactly one change when the threshold is crossed", func() {
			cond, err := builder.Build(condition.Definition{
				Type:         "variable",
				DataAssembly: "tank",
				Variable:     "level",
				Operator:     ">",
				Value:        25,
			})
			Expect(err).NotTo(HaveOccurred())
			rec := record(cond)
			Expect(cond.Listen(ctx)).To(Succeed())
			Expect(cond.Fulfilled()).To(Equal(condition.False))

			level.Set(22.0)
			level.Set(26.0)
			Expect(rec.get()).To(Equal([]bool{true}))
			Expect(cond.Fulfilled()).To(Equal(condition.True))
			Expect(cond.Units()).To(Equal([]string{"reactor"}))
		})

		It("emits the first change after clearing and listening again", func() {
			src := &unreadable{Variable: unit.NewVariable("level", 20.0)}
			cond, err := condition.NewVariable("reactor", src, ">", 25)
			Expect(err).NotTo(HaveOccurred())
			rec := record(cond)

			Expect(cond.Listen(ctx)).To(Succeed())
			cond.Clear()
			Expect(cond.Fulfilled()).To(Equal(condition.Undefined))
			Expect(cond.Listen(ctx)).To(Succeed())
			Expect(cond.Fulfilled()).To(Equal(condition.False))

			src.Set(26.0)
			Expect(rec.get()).To(Equal([]bool{true}))
			Expect(cond.Fulfilled()).To(Equal(condition.True))
		})

		It("defaults to equality and compares strings lexically", func() {
			label := unit.NewVariable("label", "idle")
			local.AddVariable("display", label)
			cond, err := builder.Build(condition.Definition{
				Type:         "variable",
				DataAssembly: "display",
				Variable:     "label",
				Value:        "running",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cond.Listen(ctx)).To(Succeed())
			label.Set("running")
			Expect(cond.Fulfilled()).To(Equal(condition.True))
		})

		It("requires the module when several units are in scope", func() {
			multi := condition.Builder{Units: unit.Set{local, unit.NewLocal("other")}, Clock: mock}
			_, err := multi.Build(condition.Definition{Type: "variable", DataAssembly: "tank", Variable: "level", Value: 1})
			Expect(err).To(HaveOccurred())

			_, err = multi.Build(condition.Definition{Type: "variable", Module: "reactor", DataAssembly: "tank", Variable: "level", Value: 1})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("State", func() {
		It("follows the service state from the first read on", func() {
			cond, err := builder.Build(condition.Definition{Type: "state", Service: "dosing", State: "execute"})
			Expect(err).NotTo(HaveOccurred())
			rec := record(cond)
			Expect(cond.Listen(ctx)).To(Succeed())
			Expect(cond.Fulfilled()).To(Equal(condition.False))

			Expect(dosing.Execute(ctx, service.START)).To(Succeed())
			Expect(cond.Fulfilled()).To(Equal(condition.True))
			Expect(dosing.Execute(ctx, service.PAUSE)).To(Succeed())
			Expect(rec.get()).To(Equal([]bool{true, false}))
		})

		It("is fulfilled right after Listen when the state already matches", func() {
			cond, _ := builder.Build(condition.Definition{Type: "state", Service: "dosing", State: "IDLE"})
			Expect(cond.Listen(ctx)).To(Succeed())
			Expect(cond.Listen(ctx)).To(Succeed())
			Expect(cond.Fulfilled()).To(Equal(condition.True))
		})

		It("rejects unknown services and states", func() {
			_, err := builder.Build(condition.Definition{Type: "state", Service: "heating", State: "IDLE"})
			Expect(err).To(HaveOccurred())
			_, err = builder.Build(condition.Definition{Type: "state", Service: "dosing", State: "RUNNING"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Expression", func() {
		It("binds dotted tokens and scope entries", func() {
			flow := unit.NewVariable("V", 1.0)
			local.AddVariable("flow", flow)
			cond, err := builder.Build(condition.Definition{
				Type:       "expression",
				Expression: "tank.level > 25 && f < 2",
				Scope:      []condition.ScopeItem{{Name: "f", DataAssembly: "flow"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cond.Units()).To(Equal([]string{"reactor"}))
			Expect(cond.Listen(ctx)).To(Succeed())
			Expect(cond.Fulfilled()).To(Equal(condition.False))

			level.Set(30.0)
			Expect(cond.Fulfilled()).To(Equal(condition.True))
			flow.Set(5.0)
			Expect(cond.Fulfilled()).To(Equal(condition.False))
		})

		It("treats a non-zero numeric result as fulfilled", func() {
			cond, err := builder.Build(condition.Definition{Type: "expression", Expression: "reactor.tank.level - 20"})
			Expect(err).NotTo(HaveOccurred())
			Expect(cond.Listen(ctx)).To(Succeed())
			Expect(cond.Fulfilled()).To(Equal(condition.False))
			level.Set(21.0)
			Expect(cond.Fulfilled()).To(Equal(condition.True))
		})

		It("leaves dotted text inside string literals alone", func() {
			cond, err := builder.Build(condition.Definition{Type: "expression", Expression: `"a.b" == "a.b"`})
			Expect(err).NotTo(HaveOccurred())
			Expect(cond.Listen(ctx)).To(Succeed())
			Expect(cond.Fulfilled()).To(Equal(condition.True))
		})

		It("fails at construction on unresolved names", func() {
			_, err := builder.Build(condition.Definition{Type: "expression", Expression: "tank.volume > 1"})
			Expect(err).To(HaveOccurred())
			_, err = builder.Build(condition.Definition{Type: "expression", Expression: "x > 1"})
			Expect(err).To(MatchError(ContainSubstring("unresolved name x")))
			_, err = builder.Build(condition.Definition{Type: "expression", Expression: "tank.level >"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Builder", func() {
		It("refuses unknown types at every level", func() {
			_, err := builder.Build(condition.Definition{Type: "sometimes"})
			Expect(errors.Is(err, condition.ErrUnknownType)).To(BeTrue())

			_, err = builder.Build(condition.Definition{
				Type: "and",
				Conditions: []condition.Definition{
					{Type: "time", Duration: seconds(1)},
					{Type: "not", Condition: &condition.Definition{Type: "bogus"}},
				},
			})
			Expect(errors.Is(err, condition.ErrUnknownType)).To(BeTrue())
		})

		It("unions the units of nested conditions", func() {
			cond, err := builder.Build(condition.Definition{
				Type: "or",
				Conditions: []condition.Definition{
					{Type: "time", Duration: seconds(1)},
					{Type: "state", Service: "dosing", State: "COMPLETED"},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cond.Units()).To(Equal([]string{"reactor"}))
		})
	})
})
