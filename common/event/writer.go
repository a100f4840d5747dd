/*
 * === This file is part of Polaris ===
 *
 * Copyright 2026 the Polaris authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/p2o-lab/polaris-backend-sub002/common/event/topic"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "event")

const (
	batchSize     = 64
	batchInterval = 100 * time.Millisecond
)

type Writer interface {
	WriteEvent(e Event)
	Close() error
}

// DummyWriter discards everything.
type DummyWriter struct{}

func (*DummyWriter) WriteEvent(Event) {}
func (*DummyWriter) Close() error     { return nil }

// LogWriter renders events as structured debug log lines.
type LogWriter struct{}

func (*LogWriter) WriteEvent(e Event) {
	if e == nil {
		return
	}
	log.WithField("event", e.GetName()).
		WithField("payload", fmt.Sprintf("%+v", e)).
		Debug("event")
}

func (*LogWriter) Close() error { return nil }

// KafkaWriter publishes JSON-encoded events on a single topic. WriteEvent
// never blocks on the broker: messages are queued in a FifoBuffer and
// flushed in batches by a background loop.
type KafkaWriter struct {
	*kafka.Writer
	toBatchMessagesChan chan kafka.Message
	messageBuffer       FifoBuffer[kafka.Message]
	runningWorkers      sync.WaitGroup
	batchingLoopDoneCh  chan struct{}
	writeFunction       func([]kafka.Message)
	closeOnce           sync.Once
}

func NewWriterWithTopic(endpoints []string, t topic.Topic) *KafkaWriter {
	writer := &KafkaWriter{
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(endpoints...),
			Topic:                  string(t),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		toBatchMessagesChan: make(chan kafka.Message, 100),
		messageBuffer:       NewFifoBuffer[kafka.Message](),
		batchingLoopDoneCh:  make(chan struct{}, 1),
	}
	writer.writeFunction = func(messages []kafka.Message) {
		err := writer.WriteMessages(context.Background(), messages...)
		if err != nil {
			log.WithError(err).
				WithField("topic", writer.Topic).
				WithField("count", len(messages)).
				Warn("failed to write events to kafka")
		}
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
	return writer
}

// batchingLoop moves messages from the channel into the buffer.
func (w *KafkaWriter) batchingLoop() {
	for message := range w.toBatchMessagesChan {
		w.messageBuffer.Push(message)
	}
	w.batchingLoopDoneCh <- struct{}{}
	w.messageBuffer.ReleaseGoroutines()
}

// writingLoop is the single consumer of messageBuffer, so a non-empty
// Length guarantees PopMultiple does not block.
func (w *KafkaWriter) writingLoop() {
	for {
		select {
		case <-w.batchingLoopDoneCh:
			if rest := w.messageBuffer.Drain(); len(rest) > 0 {
				w.writeFunction(rest)
			}
			return
		default:
		}

		if w.messageBuffer.Length() == 0 {
			time.Sleep(batchInterval)
			continue
		}
		w.writeFunction(w.messageBuffer.PopMultiple(batchSize))
	}
}

func (w *KafkaWriter) WriteEvent(e Event) {
	if e == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.WithError(err).
			WithField("event", e.GetName()).
			Error("failed to marshal event")
		return
	}
	w.toBatchMessagesChan <- kafka.Message{
		Key:   []byte(e.GetName()),
		Value: data,
		Time:  e.GetTimestamp(),
	}
}

func (w *KafkaWriter) Close() (err error) {
	w.closeOnce.Do(func() {
		close(w.toBatchMessagesChan)
		w.runningWorkers.Wait()
		if w.Writer != nil {
			err = w.Writer.Close()
		}
	})
	return
}

// TopicWriter routes every event to the topic writer matching its name.
type TopicWriter struct {
	mu      sync.Mutex
	writers map[topic.Topic]Writer
	factory func(topic.Topic) Writer
}

func NewTopicWriter(factory func(topic.Topic) Writer) *TopicWriter {
	return &TopicWriter{
		writers: make(map[topic.Topic]Writer),
		factory: factory,
	}
}

func (t *TopicWriter) WriteEvent(e Event) {
	if e == nil {
		return
	}
	tp := topic.ForEventName(e.GetName())
	t.mu.Lock()
	writer, ok := t.writers[tp]
	if !ok {
		writer = t.factory(tp)
		t.writers[tp] = writer
	}
	t.mu.Unlock()
	writer.WriteEvent(e)
}

func (t *TopicWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	log.Logf(logrus.InfoLevel, "closing %d event writers", len(t.writers))
	var firstErr error
	for _, writer := range t.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	clear(t.writers)
	return firstErr
}
