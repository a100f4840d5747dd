package unit

import (
	"context"
	"errors"

	"github.com/p2o-lab/polaris-backend-sub002/core/service"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Set", func() {
	It("resolves an omitted module only when one unit is in scope", func() {
		a := NewLocal("a")
		one := Set{a}
		u, err := one.Resolve("")
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Name()).To(Equal("a"))

		two := Set{a, NewLocal("b")}
		_, err = two.Resolve("")
		Expect(err).To(HaveOccurred())
		u, err = two.Resolve("b")
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Name()).To(Equal("b"))

		_, err = two.Resolve("c")
		Expect(err).To(HaveOccurred())
	})

	It("collects every connection failure", func() {
		bad1 := NewMemoryTransport()
		bad1.ConnectHook = func(context.Context) error { return errors.New("refused") }
		bad2 := NewMemoryTransport()
		bad2.ConnectHook = func(context.Context) error { return errors.New("unreachable") }
		set := Set{
			NewLocal("ok"),
			NewPEA("p1", bad1, nil, DefaultConfig()),
			NewPEA("p2", bad2, nil, DefaultConfig()),
		}
		err := set.ConnectAll(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("refused"))
		Expect(err.Error()).To(ContainSubstring("unreachable"))
	})

	It("keeps the order of the set in subsets", func() {
		set := Set{NewLocal("a"), NewLocal("b"), NewLocal("c")}
		Expect(set.Subset([]string{"c", "a"}).Names()).To(Equal([]string{"a", "c"}))
	})
})

var _ = Describe("Local", func() {
	It("stops only the services that accept stop", func() {
		ctx := context.Background()
		local := NewLocal("sim")
		running := service.NewMachine("running", nil, nil)
		aborted := service.NewMachine("aborted", nil, nil)
		local.AddService(running)
		local.AddService(aborted)
		Expect(running.Execute(ctx, service.START)).To(Succeed())
		aborted.ForceState(service.ABORTED)

		Expect(StopServices(ctx, local)).To(Succeed())
		Expect(running.State()).To(Equal(service.STOPPED))
		Expect(aborted.State()).To(Equal(service.ABORTED))
	})

	It("registers variables under their data assembly", func() {
		local := NewLocal("sim")
		local.AddVariable("tank", NewVariable("level", 1.0))
		local.AddVariable("pump", NewVariable(DefaultVariable, 0))

		v, err := local.Variable("tank", "level")
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Value(context.Background())).To(Equal(1.0))

		_, err = local.Variable("pump", "")
		Expect(err).NotTo(HaveOccurred())

		_, err = local.Variable("tank", "volume")
		Expect(err).To(HaveOccurred())
	})
})
