package mbgate

import (
	"context"
	"sync"
	"sync/atomic"
)

// Sender performs one network publish. ack must be called exactly once,
// with nil on broker acknowledgement or the failure otherwise. ack may be
// called from any goroutine, including synchronously from Send.
type Sender interface {
	Send(topic string, payload []byte, ack func(error))
}

type pumpState int

const (
	pumpIdle pumpState = iota
	pumpSending
)

type outbound struct {
	topic   string
	payload []byte
}

// PumpStats is a snapshot of the publish pump counters.
type PumpStats struct {
	Queued   int    `json:"queued"`
	Sending  bool   `json:"sending"`
	InFlight string `json:"in_flight,omitempty"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
}

// Pump serialises outbound publishes so that at most one is awaiting
// acknowledgement at any time. Publish order equals Enqueue order.
//
// Enqueue only appends to an unbounded queue and never blocks on the
// network; a single goroutine started by Start issues the sends.
type Pump struct {
	sender Sender
	logger Logger

	mu       sync.Mutex
	queue    []outbound
	state    pumpState
	inFlight string

	wake chan struct{}
	acks chan error

	sent   atomic.Uint64
	failed atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPump creates a pump publishing through sender. logger may be nil.
func NewPump(sender Sender, logger Logger) *Pump {
	return &Pump{
		sender: sender,
		logger: logger,
		wake:   make(chan struct{}, 1),
		acks:   make(chan error, 1),
	}
}

// Enqueue appends a publish to the queue. It never blocks on the network.
func (p *Pump) Enqueue(topic string, payload []byte) {
	p.mu.Lock()
	p.queue = append(p.queue, outbound{topic: topic, payload: payload})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches the send loop. It returns immediately.
func (p *Pump) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx)
}

// Stop halts the send loop and waits for it to exit. Queued publishes
// that were not sent are dropped.
func (p *Pump) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Stats returns the current counters.
func (p *Pump) Stats() PumpStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PumpStats{
		Queued:   len(p.queue),
		Sending:  p.state == pumpSending,
		InFlight: p.inFlight,
		Sent:     p.sent.Load(),
		Failed:   p.failed.Load(),
	}
}

func (p *Pump) run(ctx context.Context) {
	defer close(p.done)

	for {
		msg, ok := p.next()
		if !ok {
			select {
			case <-p.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		p.sender.Send(msg.topic, msg.payload, p.ack)

		select {
		case err := <-p.acks:
			p.finish(msg, err)
		case <-ctx.Done():
			return
		}
	}
}

// next pops the queue head and marks the pump busy, or marks it idle
// when the queue is empty.
func (p *Pump) next() (outbound, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		p.state = pumpIdle
		p.inFlight = ""
		return outbound{}, false
	}

	msg := p.queue[0]
	p.queue[0] = outbound{}
	p.queue = p.queue[1:]
	p.state = pumpSending
	p.inFlight = msg.topic

	return msg, true
}

func (p *Pump) ack(err error) {
	p.acks <- err
}

func (p *Pump) finish(msg outbound, err error) {
	if err != nil {
		p.failed.Add(1)
		logError(p.logger, "publish failed", "topic", msg.topic, "error", err)
		return
	}
	p.sent.Add(1)
	logDebug(p.logger, "published", "topic", msg.topic, "payload", string(msg.payload))
}
