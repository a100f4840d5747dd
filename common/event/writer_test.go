package event

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/p2o-lab/polaris-backend-sub002/common/event/topic"
	"github.com/segmentio/kafka-go"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var zeroTime time.Time

type recordingWriter struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (r *recordingWriter) WriteEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

var _ = Describe("Writer", func() {
	When("event is written into the kafka writer", func() {
		It("transforms it to a JSON kafka message and sends it", func() {
			channel := make(chan struct{}, 1)
			writer := KafkaWriter{}
			writer.toBatchMessagesChan = make(chan kafka.Message, 100)
			writer.messageBuffer = NewFifoBuffer[kafka.Message]()
			writer.Writer = &kafka.Writer{}
			writer.Topic = "testtopic"
			writer.runningWorkers = sync.WaitGroup{}
			writer.batchingLoopDoneCh = make(chan struct{}, 1)

			writer.writeFunction = func(messages []kafka.Message) {
				defer GinkgoRecover()
				Expect(messages).To(HaveLen(1))
				Expect(string(messages[0].Key)).To(Equal("RECIPE_STATUS"))
				decoded := map[string]interface{}{}
				Expect(json.Unmarshal(messages[0].Value, &decoded)).To(Succeed())
				Expect(decoded["recipeName"]).To(Equal("mix"))
				Expect(decoded["status"]).To(Equal("running"))
				channel <- struct{}{}
			}

			writer.runningWorkers.Add(2)
			go func() {
				defer writer.runningWorkers.Done()
				writer.writingLoop()
			}()
			go func() {
				defer writer.runningWorkers.Done()
				writer.batchingLoop()
			}()

			writer.WriteEvent(NewRecipeStatusChanged("r1", "mix", "running", "S1", nil))
			Eventually(channel).Should(Receive())
			close(writer.toBatchMessagesChan)
			writer.runningWorkers.Wait()
		})
	})

	When("events are written into a topic writer", func() {
		It("routes every event to the writer of its topic", func() {
			created := map[topic.Topic]*recordingWriter{}
			tw := NewTopicWriter(func(t topic.Topic) Writer {
				created[t] = &recordingWriter{}
				return created[t]
			})

			tw.WriteEvent(NewServiceStateChanged("pea1", "Dosing", "EXECUTE", "start", zeroTime))
			tw.WriteEvent(NewServiceStateChanged("pea1", "Dosing", "COMPLETED", "", zeroTime))
			tw.WriteEvent(NewPlayerStatusChanged("running", 0, "run1"))

			Expect(created).To(HaveLen(2))
			Expect(created[topic.Service].events).To(HaveLen(2))
			Expect(created[topic.Player].events).To(HaveLen(1))

			Expect(tw.Close()).To(Succeed())
			Expect(created[topic.Service].closed).To(BeTrue())
		})
	})
})
