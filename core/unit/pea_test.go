package unit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/p2o-lab/polaris-backend-sub002/core/service"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// simulateDevice answers CommandOp writes by moving StateCur to the
// command's target state and publishing the matching command enable.
func simulateDevice(t *MemoryTransport, svc string) {
	publish := func(st service.State) {
		t.Set(ServiceNode(svc, NodeCommandEn), service.CommandEnableFor(st).Bits())
		t.Set(ServiceNode(svc, NodeStateCur), st.String())
	}
	t.OnWrite = func(node string, value interface{}) {
		if node != ServiceNode(svc, NodeCommandOp) {
			return
		}
		ce := service.CommandEnableFromBits(value.(uint32))
		for _, cmd := range service.Commands {
			if ce.Enabled(cmd) {
				publish(cmd.Target())
				return
			}
		}
	}
	publish(service.IDLE)
}

var _ = Describe("PEA", func() {
	var (
		ctx       context.Context
		transport *MemoryTransport
		pea       *PEA
	)

	BeforeEach(func() {
		ctx = context.Background()
		transport = NewMemoryTransport()
		simulateDevice(transport, "dosing")
		transport.Set("tank.level", 12.5)
		pea = NewPEA("reactor", transport, []string{"dosing"}, DefaultConfig())
	})

	It("refuses commands before connecting", func() {
		svc, err := pea.Service("dosing")
		Expect(err).NotTo(HaveOccurred())
		Expect(errors.Is(svc.Execute(ctx, service.START), ErrNotConnected)).To(BeTrue())
	})

	When("connected", func() {
		BeforeEach(func() {
			Expect(pea.Connect(ctx)).To(Succeed())
		})

		It("mirrors the remote state and command enable", func() {
			svc, _ := pea.Service("dosing")
			Expect(svc.State()).To(Equal(service.IDLE))
			Expect(svc.CommandEnable().Start).To(BeTrue())
		})

		It("writes commands and follows the state the unit reports", func() {
			svc, _ := pea.Service("dosing")
			var mu sync.Mutex
			var seen []service.State
			sub := svc.SubscribeState(func(c service.StateChange) {
				mu.Lock()
				seen = append(seen, c.State)
				mu.Unlock()
			})
			defer sub.Unsubscribe()

			Expect(svc.Execute(ctx, service.START)).To(Succeed())
			Expect(transport.Get("dosing.CommandOp")).To(Equal(uint32(1)))
			Expect(svc.State()).To(Equal(service.STARTING))

			err := svc.Execute(ctx, service.START)
			Expect(service.IsRejected(err)).To(BeTrue())

			mu.Lock()
			defer mu.Unlock()
			Expect(seen).To(Equal([]service.State{service.STARTING}))
		})

		It("writes the procedure request and parameters", func() {
			svc, _ := pea.Service("dosing")
			Expect(svc.SetProcedure(ctx, "fast", map[string]interface{}{"setpoint": 3})).To(Succeed())
			Expect(transport.Get("dosing.ProcedureReq")).To(Equal("fast"))
			Expect(transport.Get("dosing.setpoint")).To(Equal(3))
		})

		It("exposes variables and shares one transport subscription per node", func() {
			v, err := pea.Variable("tank", "level")
			Expect(err).NotTo(HaveOccurred())
			value, err := v.Value(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(12.5))

			var got []interface{}
			s1, _ := v.Subscribe(func(x interface{}) { got = append(got, x) })
			s2, _ := v.Subscribe(func(interface{}) {})
			Expect(pea.WatchedNodes()).To(ContainElement("tank.level"))

			transport.Set("tank.level", 13.0)
			Expect(got).To(Equal([]interface{}{13.0}))

			s1.Unsubscribe()
			Expect(pea.WatchedNodes()).To(ContainElement("tank.level"))
			s2.Unsubscribe()
			Expect(pea.WatchedNodes()).NotTo(ContainElement("tank.level"))
		})

		It("announces connection losses", func() {
			lost := make(chan ConnectionChange, 1)
			pea.SubscribeConnection(func(c ConnectionChange) {
				if !c.Connected {
					lost <- c
				}
			})
			transport.Drop(errors.New("link down"))
			Eventually(lost).Should(Receive(HaveField("Err", MatchError("link down"))))
			Expect(pea.Connected()).To(BeFalse())
		})
	})

	It("surfaces a connect timeout as ErrTimeout", func() {
		transport.ConnectHook = func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		cfg := DefaultConfig()
		cfg.ConnectTimeout = 20 * time.Millisecond
		slow := NewPEA("slow", transport, nil, cfg)

		err := slow.Connect(ctx)
		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
		Expect(slow.Connected()).To(BeFalse())
	})
})
