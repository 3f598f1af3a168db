// Package metrics records per-operation queue and execution times for work
// run through the resource pools.
package metrics

import (
	"time"

	"github.com/google/uuid"
)

type ResourceType string

const (
	CPU ResourceType = "cpu"
	IO  ResourceType = "io"
)

// Collector receives one record per completed operation. Implementations
// must be safe for concurrent use.
type Collector interface {
	RecordOperation(rt ResourceType, name string, queue, exec time.Duration)
}

// ErrorRecorder is implemented by collectors that also count failures.
type ErrorRecorder interface {
	RecordError(rt ResourceType, name string)
}

// OperationMetric tracks one operation from submission to completion.
type OperationMetric struct {
	ID          string
	Name        string
	Type        ResourceType
	QueuedAt    time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
}

// Track starts a metric at the moment of submission.
func Track(rt ResourceType, name string) *OperationMetric {
	return &OperationMetric{ID: uuid.NewString(), Name: name, Type: rt, QueuedAt: time.Now()}
}

func (m *OperationMetric) MarkStarted() { m.StartedAt = time.Now() }

func (m *OperationMetric) Complete(err error) {
	m.CompletedAt = time.Now()
	m.Err = err
	if m.StartedAt.IsZero() {
		m.StartedAt = m.CompletedAt
	}
}

// QueueTime is the wait between submission and start.
func (m *OperationMetric) QueueTime() time.Duration {
	if m.StartedAt.IsZero() {
		return 0
	}
	return m.StartedAt.Sub(m.QueuedAt)
}

func (m *OperationMetric) ExecTime() time.Duration {
	if m.StartedAt.IsZero() || m.CompletedAt.IsZero() {
		return 0
	}
	return m.CompletedAt.Sub(m.StartedAt)
}

// Report hands m to c.
func (m *OperationMetric) Report(c Collector) {
	if c == nil {
		return
	}
	if m.Err != nil {
		if er, ok := c.(ErrorRecorder); ok {
			er.RecordError(m.Type, m.Name)
		}
	}
	c.RecordOperation(m.Type, m.Name, m.QueueTime(), m.ExecTime())
}

type nop struct{}

func (nop) RecordOperation(ResourceType, string, time.Duration, time.Duration) {}

// Nop discards every record.
func Nop() Collector { return nop{} }

type multi []Collector

// Multi fans records out to every non-nil collector.
func Multi(cs ...Collector) Collector {
	out := make(multi, 0, len(cs))
	for _, c := range cs {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (m multi) RecordOperation(rt ResourceType, name string, queue, exec time.Duration) {
	for _, c := range m {
		c.RecordOperation(rt, name, queue, exec)
	}
}

func (m multi) RecordError(rt ResourceType, name string) {
	for _, c := range m {
		if er, ok := c.(ErrorRecorder); ok {
			er.RecordError(rt, name)
		}
	}
}
