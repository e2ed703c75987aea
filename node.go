package netmux

import "time"

// NodeEvent is the sum type the Node facade delivers: either a Network
// event from the engine, or a user Signal sent through SendSignal.
type NodeEvent[S any] struct {
	IsSignal bool
	Network  NetEvent
	Signal   S
}

// Node fuses an Engine's Controller with a user-defined Signal event type
// behind one uniform loop: NetEvents and Signals are funneled into the same
// queue so callers see a single stream.
type Node[S any] struct {
	Controller
	engine  *Engine
	signals *EventQueue[NodeEvent[S]]
	stop    chan struct{}
	done    chan struct{}
}

// NewNode wraps an already-constructed Engine. The caller is still
// responsible for calling engine.Start()/Stop().
func NewNode[S any](engine *Engine) *Node[S] {
	n := &Node[S]{
		Controller: engine,
		engine:     engine,
		signals:    NewEventQueue[NodeEvent[S]](),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go n.pump()
	return n
}

// pump relays the engine's NetEvents into the Node's fused queue.
func (n *Node[S]) pump() {
	defer close(n.done)
	for {
		ev, ok := n.engine.Events().ReceiveTimeout(defaultPumpPoll)
		if !ok {
			select {
			case <-n.stop:
				return
			default:
				continue
			}
		}
		if err := n.signals.Send(NodeEvent[S]{Network: ev}); err != nil {
			return
		}
	}
}

// defaultPumpPoll bounds how long the relay goroutine blocks on the
// engine's queue before re-checking for Stop.
const defaultPumpPoll = 200 * time.Millisecond

// SendSignal enqueues a user-defined Signal for delivery through the same
// stream as network events, with standard-priority FIFO ordering.
func (n *Node[S]) SendSignal(s S) error {
	return n.signals.Send(NodeEvent[S]{IsSignal: true, Signal: s})
}

// SendSignalWithPriority enqueues a Signal ahead of any pending standard
// event, network or signal.
func (n *Node[S]) SendSignalWithPriority(s S) error {
	return n.signals.SendPriority(NodeEvent[S]{IsSignal: true, Signal: s})
}

// SendSignalWithTimer enqueues a Signal for delivery no earlier than
// now+after, letting callers schedule their own wakeups through the event
// loop instead of running side timers.
func (n *Node[S]) SendSignalWithTimer(s S, after time.Duration) error {
	return n.signals.SendTimer(NodeEvent[S]{IsSignal: true, Signal: s}, after)
}

// ForEach loops, receiving fused events and invoking handler, until handler
// returns false or Stop is called.
func (n *Node[S]) ForEach(handler func(NodeEvent[S]) bool) {
	for {
		select {
		case <-n.stop:
			return
		default:
		}
		ev, ok := n.signals.Receive()
		if !ok {
			return
		}
		if !handler(ev) {
			return
		}
	}
}

// Stop ends any running ForEach loop and the relay goroutine.
func (n *Node[S]) Stop() {
	close(n.stop)
	n.signals.Close()
	<-n.done
}
