// Package actor implements StateActor: the single-writer owner of one
// entity's State, serializing every operation for its path through a
// bounded mailbox. Grounded on the teacher's select-loop server idioms
// (internal/rpc/server_core.go's shutdownChan/doneChan pair,
// internal/coop/monitor.go's watch loop) adapted from a
// connection-handling server to a per-entity message loop: one
// goroutine, one mailbox, processed strictly in arrival order.
package actor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/steveyegge/digitaltwin/internal/gene"
	"github.com/steveyegge/digitaltwin/internal/message"
	"github.com/steveyegge/digitaltwin/internal/sink"
)

// DefaultMailboxCapacity is the bounded inbound queue size: a bounded
// FIFO mailbox of configurable capacity, default 8.
const DefaultMailboxCapacity = 8

// Handle is a cheap, shareable reference to a running StateActor's
// mailbox. Multiple goroutines (the Director's router, in this
// system's single-Director design just one caller at a time) may hold
// a Handle; only the actor's own goroutine ever touches its State.
type Handle struct {
	path    string
	mailbox chan message.Envelope
	done    chan struct{}
}

// Path returns the entity path this actor owns.
func (h *Handle) Path() string { return h.path }

// Send delivers env to the actor's mailbox, blocking if the mailbox is
// full (providing natural backpressure) or until ctx is done.
func (h *Handle) Send(ctx context.Context, env message.Envelope) error {
	select {
	case h.mailbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return fmt.Errorf("actor: %s has stopped", h.path)
	}
}

// Stop signals the actor's loop to exit after draining its current
// mailbox contents. It does not wait for the goroutine to finish.
func (h *Handle) Stop() {
	select {
	case <-h.done:
	default:
		close(h.mailbox)
	}
}

// Spawn starts a StateActor for path with the given gene and mailbox
// capacity, and returns a Handle to it. The actor does not replay
// automatically; callers drive replay by sending it an InitCmd{Update}
// envelope and waiting for its EndOfStream reply before routing live
// traffic.
func Spawn(g gene.Gene, path string, mailboxCapacity int, out sink.Sink) *Handle {
	if mailboxCapacity <= 0 {
		mailboxCapacity = DefaultMailboxCapacity
	}
	h := &Handle{
		path:    path,
		mailbox: make(chan message.Envelope, mailboxCapacity),
		done:    make(chan struct{}),
	}
	a := &stateActor{
		path:   path,
		gene:   g,
		state:  gene.State{},
		output: out,
	}
	go a.run(h)
	return h
}

// stateActor holds the actual mutable state; only its own goroutine
// (run) ever reads or writes state/lastAppliedAt, satisfying the
// single-writer discipline the protocol requires.
type stateActor struct {
	path          string
	gene          gene.Gene
	state         gene.State
	lastAppliedAt time.Time
	output        sink.Sink
}

func (a *stateActor) run(h *Handle) {
	defer close(h.done)
	for env := range h.mailbox {
		a.handle(env)
	}
}

func (a *stateActor) handle(env message.Envelope) {
	switch env.Message.Kind {
	case message.KindInitCmd:
		a.handleInitCmd(env)
	case message.KindObservations:
		a.handleObservations(env)
	case message.KindQuery:
		a.handleQuery(env)
	default:
		log.Printf("actor: %s: dropping unhandled message kind %s", a.path, env.Message.Kind)
	}
}

// handleInitCmd drives replay: consume records from StreamFrom until
// EndOfStream or until the stream closes, applying each to the gene in
// order. The first gene error aborts replay; later records are still
// read off the stream, so the sender is never left blocked, but are
// never applied, preserving replay as the canonical source of state.
func (a *stateActor) handleInitCmd(env message.Envelope) {
	cmd := env.Message.InitCmd
	if cmd == nil || cmd.Hint != message.InitUpdate {
		log.Printf("actor: %s: ignoring InitCmd with unexpected hint", a.path)
		env.Reply(message.NewEndOfStream())
		return
	}

	aborted := false
	for rec := range cmd.StreamFrom {
		if rec.Message.Kind == message.KindEndOfStream {
			break
		}
		obs := rec.Message.Observations
		if obs == nil || aborted {
			continue
		}
		next, err := a.gene.ApplyOperators(a.state, obs.Values, obs.DateTime)
		if err != nil {
			log.Printf("actor: %s: replay aborted at %s: %v", a.path, obs.DateTime, err)
			aborted = true
			continue
		}
		a.state = next
		a.lastAppliedAt = obs.DateTime
	}
	env.Reply(message.NewEndOfStream())
}

// handleObservations applies the gene to one observation: on success,
// replies with the resulting StateReport; on failure, replies with an
// error.
func (a *stateActor) handleObservations(env message.Envelope) {
	obs := env.Message.Observations
	if obs == nil {
		env.Reply(message.NewNotFound(a.path))
		return
	}

	next, err := a.gene.ApplyOperators(a.state, obs.Values, obs.DateTime)
	if err != nil {
		env.Reply(message.NewActorError(a.path, err.Error()))
		return
	}
	a.state = next
	a.lastAppliedAt = obs.DateTime

	report := a.stateReport()
	env.Reply(report)
	if a.output != nil {
		if sinkErr := a.output.Handle(context.Background(), report); sinkErr != nil {
			log.Printf("actor: %s: output sink error: %v", a.path, sinkErr)
		}
	}
}

// handleQuery never mutates state.
func (a *stateActor) handleQuery(env message.Envelope) {
	q := env.Message.Query
	if q == nil || q.Hint != message.QueryState {
		log.Printf("actor: %s: ignoring Query with unexpected hint", a.path)
		env.Reply(message.NewNotFound(a.path))
		return
	}
	env.Reply(a.stateReport())
}

// stateReport uses the latest applied observation's time, not wall
// clock "now". Before any observation has ever been applied (freshly
// resurrected, empty journal), it falls back to the current time since
// there is no observation time to report.
func (a *stateActor) stateReport() message.Message {
	values := make(map[int32]float64, len(a.state))
	for k, v := range a.state {
		values[k] = v
	}
	reportTime := a.lastAppliedAt
	if reportTime.IsZero() {
		reportTime = time.Now().UTC()
	}
	return message.NewStateReport(a.path, reportTime, values)
}

