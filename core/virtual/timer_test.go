package virtual

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Timer", func() {
	var (
		ctx   context.Context
		mock  *clock.Mock
		timer *Timer
	)

	BeforeEach(func() {
		ctx = context.Background()
		mock = clock.NewMock()
		timer = NewTimer("timer", mock)
		Expect(timer.SetProcedure(ctx, "", map[string]interface{}{
			ParamDuration:   100,
			ParamUpdateRate: 10,
		})).To(Succeed())
	})

	It("counts down strictly and completes after its duration", func() {
		var (
			mu     sync.Mutex
			values []float64
		)
		sub, err := timer.remaining.Subscribe(func(v interface{}) {
			mu.Lock()
			defer mu.Unlock()
			values = append(values, v.(float64))
		})
		Expect(err).NotTo(HaveOccurred())
		defer sub.Unsubscribe()

		Expect(timer.Execute(ctx, service.START)).To(Succeed())
		Expect(timer.State()).To(Equal(service.EXECUTE))
		Expect(timer.Remaining()).To(Equal(100.0))

		for elapsed := 10; elapsed < 100; elapsed += 10 {
			mock.Add(10 * time.Millisecond)
			Eventually(timer.Remaining).Should(Equal(float64(100 - elapsed)))
			Expect(timer.State()).To(Equal(service.EXECUTE))
		}
		mock.Add(10 * time.Millisecond)
		Eventually(timer.State).Should(Equal(service.COMPLETED))
		Expect(timer.Remaining()).To(Equal(0.0))

		mu.Lock()
		defer mu.Unlock()
		distinct := []float64{values[0]}
		for _, v := range values[1:] {
			if v != distinct[len(distinct)-1] {
				Expect(v).To(BeNumerically("<", distinct[len(distinct)-1]))
				distinct = append(distinct, v)
			}
		}
		Expect(distinct).To(HaveLen(11))
	})

	It("keeps the remaining time across pause and resume", func() {
		Expect(timer.Execute(ctx, service.START)).To(Succeed())
		mock.Add(10 * time.Millisecond)
		Eventually(timer.Remaining).Should(Equal(90.0))

		Expect(timer.Execute(ctx, service.PAUSE)).To(Succeed())
		Expect(timer.State()).To(Equal(service.PAUSED))
		mock.Add(time.Second)
		Expect(timer.State()).To(Equal(service.PAUSED))

		Expect(timer.Execute(ctx, service.RESUME)).To(Succeed())
		mock.Add(10 * time.Millisecond)
		Eventually(timer.Remaining).Should(Equal(80.0))
	})

	It("publishes its remaining time through a local unit", func() {
		local := unit.NewLocal("sim")
		local.AddService(timer)
		src, err := local.Variable("timer", RemainingTime)
		Expect(err).NotTo(HaveOccurred())

		Expect(timer.Execute(ctx, service.START)).To(Succeed())
		v, err := src.Value(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(100.0))

		proc, ok := timer.CurrentProcedure()
		Expect(ok).To(BeTrue())
		Expect(proc.ProcessValuesOut[0].Value).To(Equal(100.0))
	})

	It("restores its parameters on reset", func() {
		Expect(timer.Execute(ctx, service.START)).To(Succeed())
		Expect(timer.Execute(ctx, service.STOP)).To(Succeed())
		Expect(timer.Execute(ctx, service.RESET)).To(Succeed())
		Expect(timer.State()).To(Equal(service.IDLE))
		Expect(timer.Remaining()).To(Equal(0.0))
		v, _ := timer.ParameterValue(ParamDuration)
		Expect(v).To(Equal(float64(DefaultDuration)))
	})

	It("refuses to start with a non-positive duration", func() {
		Expect(timer.SetParameters(map[string]interface{}{ParamDuration: 0})).To(Succeed())
		Expect(timer.Execute(ctx, service.START)).To(HaveOccurred())
	})
})
