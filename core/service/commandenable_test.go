package service

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("command enable table", func() {
	It("enables start only in IDLE", func() {
		for _, st := range States {
			Expect(CommandEnableFor(st).Start).To(Equal(st == IDLE), st.String())
		}
	})

	It("enables reset only in the terminal states", func() {
		for _, st := range States {
			Expect(CommandEnableFor(st).Reset).To(Equal(st.IsTerminal()), st.String())
		}
	})

	It("enables nothing while aborting", func() {
		Expect(CommandEnableFor(ABORTING)).To(Equal(CommandEnable{}))
	})

	It("round-trips through the bit encoding", func() {
		for _, st := range States {
			ce := CommandEnableFor(st)
			Expect(CommandEnableFromBits(ce.Bits())).To(Equal(ce))
		}
		Expect(CommandEnableOf(START).Bits()).To(Equal(uint32(1)))
	})

	It("keys the map by command name", func() {
		m := CommandEnableFor(PAUSED).Map()
		Expect(m).To(HaveLen(len(Commands)))
		Expect(m["resume"]).To(BeTrue())
		Expect(m["pause"]).To(BeFalse())
	})
})

var _ = Describe("states and commands", func() {
	It("parses state names case-insensitively", func() {
		st, err := ParseState("execute")
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(Equal(EXECUTE))

		_, err = ParseState("RUNNING")
		Expect(err).To(HaveOccurred())
	})

	It("maps commands to their target states", func() {
		Expect(RESTART.Target()).To(Equal(STARTING))
		Expect(UNHOLD.Target()).To(Equal(UNHOLDING))
		cmd, ok := CommandForState(COMPLETING)
		Expect(ok).To(BeTrue())
		Expect(cmd).To(Equal(COMPLETE))
	})

	It("does not auto-advance out of EXECUTE", func() {
		_, ok := EXECUTE.Successor()
		Expect(ok).To(BeFalse())
		next, ok := HOLDING.Successor()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(HELD))
	})
})
