// Package eventbus fans task lifecycle and config events out to in-process
// subscribers. Publishing never blocks: a subscriber whose buffer is full
// misses the event and the bus counts the miss.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Topic names an event. Topics are dotted; subscribers filter by prefix.
type Topic string

const (
	TaskStarted     Topic = "task.started"
	TaskFinished    Topic = "task.finished"
	TaskFailed      Topic = "task.failed"
	TaskInterrupted Topic = "task.interrupted"
	TaskSkipped     Topic = "task.skipped"
	TaskDropped     Topic = "task.dropped"

	ConfigApplied Topic = "config.applied"
)

// PrefixTask matches every task lifecycle topic.
const PrefixTask = "task."

// HasPrefix reports whether t falls under prefix. An empty prefix matches
// everything.
func (t Topic) HasPrefix(prefix string) bool {
	return prefix == "" || strings.HasPrefix(string(t), prefix)
}

// TaskEvent describes one run of a scheduled task.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Mode       string        `json:"mode"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// ConfigEvent lists the config sections a reload changed.
type ConfigEvent struct {
	Sections []string `json:"sections"`
}

type Event struct {
	Topic Topic
	Time  time.Time

	// Exactly one payload is set, matching the topic family.
	Task   *TaskEvent
	Config *ConfigEvent
}

// Task builds a task lifecycle event.
func Task(topic Topic, at time.Time, te TaskEvent) Event {
	return Event{Topic: topic, Time: at, Task: &te}
}

// Config builds a config.applied event.
func Config(at time.Time, sections []string) Event {
	return Event{Topic: ConfigApplied, Time: at, Config: &ConfigEvent{Sections: append([]string(nil), sections...)}}
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose topic has the given prefix ("" for all).
	Subscribe(prefix string, buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	prefix string
	ch     chan Event
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if e.Topic.HasPrefix(s.prefix) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *memBus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{prefix: prefix, ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
