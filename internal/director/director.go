// Package director implements Director: the path→actor registry that
// lazily resurrects StateActors, resolves gene bindings by
// longest-prefix match, and gates every Observation and GeneMapping
// write through the Journal before forwarding it. Grounded on the
// teacher's single-task server-loop idiom (internal/rpc/server_core.go).
// Like a StateActor, the Director is itself one goroutine draining one
// mailbox, so its actors/gene_mappings maps need no locking: only the
// Director's own loop ever touches them.
package director

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/digitaltwin/internal/actor"
	"github.com/steveyegge/digitaltwin/internal/gene"
	"github.com/steveyegge/digitaltwin/internal/journal"
	"github.com/steveyegge/digitaltwin/internal/message"
	"github.com/steveyegge/digitaltwin/internal/sink"
)

var directorTracer = otel.Tracer("digitaltwin/director")

// Store is the subset of *journal.Journal the Director needs. Defined
// here (rather than depending on the concrete type) the same way the
// teacher's internal/rpc.Server declares its own WispStore interface
// "to avoid circular imports" — here it also lets any Store stand in
// for the SQLite-backed Journal. director_test.go uses a real
// *journal.Journal on a temp file rather than a fake.
type Store interface {
	PersistObservation(ctx context.Context, path string, observationTime, sequenceTime time.Time, values map[int32]float64) error
	PersistGeneMapping(ctx context.Context, path string, kind message.GeneKind, sequenceTime time.Time) error
	Load(ctx context.Context, path string) (<-chan message.Envelope, error)
	LoadGeneMappings(ctx context.Context) (<-chan message.Envelope, error)
}

// Director routes envelopes to per-path StateActors, gated by an
// optional Store and fanned out to an optional output Sink.
type Director struct {
	mailbox         chan message.Envelope
	done            chan struct{}
	mailboxCapacity int

	actors       map[string]*actor.Handle
	geneMappings map[string]gene.Kind

	store  Store
	output sink.Sink
}

// New constructs a Director. Either store or output may be nil (spec
// §4.4: "Owns two optional collaborators").
func New(store Store, output sink.Sink, mailboxCapacity int) *Director {
	if mailboxCapacity <= 0 {
		mailboxCapacity = actor.DefaultMailboxCapacity
	}
	return &Director{
		mailbox:         make(chan message.Envelope, mailboxCapacity),
		done:            make(chan struct{}),
		mailboxCapacity: mailboxCapacity,
		actors:          make(map[string]*actor.Handle),
		geneMappings:    make(map[string]gene.Kind),
		store:           store,
		output:          output,
	}
}

// Start replays every persisted gene mapping into memory and then
// launches the routing loop; this completes before the Director
// accepts external traffic.
func (d *Director) Start(ctx context.Context) error {
	if d.store != nil {
		ch, err := d.store.LoadGeneMappings(ctx)
		if err != nil {
			return fmt.Errorf("director: load gene mappings: %w", err)
		}
		for env := range ch {
			gm := env.Message.GeneMapping
			if gm == nil {
				continue
			}
			kind, convErr := geneKindFromMessage(gm.Kind)
			if convErr != nil {
				log.Printf("director: skipping unreplayable gene mapping for %s: %v", gm.Path, convErr)
				continue
			}
			d.geneMappings[gm.Path] = kind
		}
	}
	go d.run(ctx)
	return nil
}

// Send delivers env to the Director's mailbox, blocking under
// backpressure the same way actor.Handle.Send does.
func (d *Director) Send(ctx context.Context, env message.Envelope) error {
	select {
	case d.mailbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return errors.New("director: stopped")
	}
}

// Stop closes the mailbox, causing the loop goroutine to drain and exit.
func (d *Director) Stop() {
	select {
	case <-d.done:
	default:
		close(d.mailbox)
	}
}

func (d *Director) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case env, ok := <-d.mailbox:
			if !ok {
				return
			}
			d.handle(ctx, env)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Director) handle(ctx context.Context, env message.Envelope) {
	ctx, span := directorTracer.Start(ctx, "director.route", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("dtse.message_kind", env.Message.Kind.String())))
	defer span.End()

	switch env.Message.Kind {
	case message.KindObservations:
		d.routeObservation(ctx, env)
	case message.KindQuery:
		q := env.Message.Query
		if q != nil && q.Hint == message.QueryGeneMapping {
			d.routeGeneMappingPrefixQuery(env)
		} else {
			d.routeStateQuery(ctx, env)
		}
	case message.KindGeneMapping:
		d.routeGeneMappingWrite(ctx, env)
	case message.KindContent:
		c := env.Message.Content
		if c != nil && c.Hint == message.ContentGeneMappingQuery {
			d.routeGeneMappingExactQuery(env)
		} else {
			env.Reply(message.NewActorError("", "director: unroutable Content envelope"))
		}
	case message.KindEndOfStream:
		d.routeEndOfStream(ctx, env)
	default:
		env.Reply(message.NewActorError("", fmt.Sprintf("director: unrecognized message kind %s", env.Message.Kind)))
	}
}

// ensureActor resolves or lazily resurrects the StateActor for path.
// Since Director.run is the only goroutine that ever calls this,
// d.actors needs no lock.
func (d *Director) ensureActor(ctx context.Context, path string) (*actor.Handle, error) {
	if h, ok := d.actors[path]; ok {
		return h, nil
	}
	kind := d.resolveGeneKind(path)
	h := actor.Spawn(gene.New(kind), path, d.mailboxCapacity, d.output)
	d.actors[path] = h

	if d.store == nil {
		return h, nil
	}
	stream, err := d.store.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("director: load replay stream for %s: %w", path, err)
	}
	reply := make(chan message.Envelope, 1)
	initEnv := message.Envelope{Message: message.NewInitCmd(message.InitUpdate, stream), RespondTo: reply, StreamFrom: stream}
	if err := h.Send(ctx, initEnv); err != nil {
		return nil, fmt.Errorf("director: deliver replay to %s: %w", path, err)
	}
	select {
	case r := <-reply:
		if r.Message.Kind != message.KindEndOfStream {
			return nil, fmt.Errorf("director: unexpected replay completion for %s: %s", path, r.Message.Kind)
		}
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveGeneKind walks path segment-by-segment from the root,
// remembering the longest prefix present in gene_mappings; absence
// yields Gauge.
func (d *Director) resolveGeneKind(path string) gene.Kind {
	best := gene.KindGauge
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return best
	}
	prefix := ""
	for _, seg := range strings.Split(trimmed, "/") {
		prefix += "/" + seg
		if k, ok := d.geneMappings[prefix]; ok {
			best = k
		}
	}
	return best
}

// routeObservation persists the observation, then forwards it to the
// actor on success, without touching the actor on ConstraintViolation.
func (d *Director) routeObservation(ctx context.Context, env message.Envelope) {
	obs := env.Message.Observations
	if obs == nil {
		env.Reply(message.NewActorError("", "director: missing observation payload"))
		return
	}

	h, err := d.ensureActor(ctx, obs.Path)
	if err != nil {
		env.Reply(message.NewActorError(obs.Path, err.Error()))
		return
	}

	if d.store != nil {
		persistErr := d.store.PersistObservation(ctx, obs.Path, obs.DateTime, env.SequenceTime, obs.Values)
		if persistErr != nil {
			if errors.Is(persistErr, journal.ErrConstraintViolation) {
				env.Reply(message.NewConstraintViolation())
				return
			}
			env.Reply(message.NewActorError(obs.Path, persistErr.Error()))
			return
		}
	}

	d.forward(ctx, h, env)
}

// routeStateQuery skips journaling and forwards directly to the
// actor.
func (d *Director) routeStateQuery(ctx context.Context, env message.Envelope) {
	q := env.Message.Query
	h, err := d.ensureActor(ctx, q.Path)
	if err != nil {
		env.Reply(message.NewActorError(q.Path, err.Error()))
		return
	}
	d.forward(ctx, h, env)
}

// forward relays env's message to h and replies to the original caller
// with whatever the actor answers. The StateActor itself, not the
// Director, tells the output sink about a resulting StateReport; this
// keeps the notification single-sourced instead of firing it from both
// the actor and the Director, as a literal reading of the protocol
// might otherwise suggest.
func (d *Director) forward(ctx context.Context, h *actor.Handle, env message.Envelope) {
	reply := make(chan message.Envelope, 1)
	fwd := message.Envelope{Message: env.Message, RespondTo: reply, SequenceTime: env.SequenceTime, RequestID: env.RequestID}
	if err := h.Send(ctx, fwd); err != nil {
		env.Reply(message.NewActorError("", err.Error()))
		return
	}
	select {
	case r := <-reply:
		env.Reply(r.Message)
	case <-ctx.Done():
		env.Reply(message.NewActorError("", ctx.Err().Error()))
	}
}

// routeGeneMappingWrite updates the in-memory map before durability is
// confirmed, intentionally: idempotent reconfiguration makes this
// safe.
func (d *Director) routeGeneMappingWrite(ctx context.Context, env message.Envelope) {
	gm := env.Message.GeneMapping
	if gm == nil {
		env.Reply(message.NewActorError("", "director: missing gene mapping payload"))
		return
	}
	kind, err := geneKindFromMessage(gm.Kind)
	if err != nil {
		env.Reply(message.NewActorError(gm.Path, err.Error()))
		return
	}
	d.geneMappings[gm.Path] = kind

	if d.store == nil {
		env.Reply(message.NewPersisted())
		return
	}
	if persistErr := d.store.PersistGeneMapping(ctx, gm.Path, gm.Kind, env.SequenceTime); persistErr != nil {
		if errors.Is(persistErr, journal.ErrConstraintViolation) {
			env.Reply(message.NewConstraintViolation())
			return
		}
		env.Reply(message.NewActorError(gm.Path, persistErr.Error()))
		return
	}
	env.Reply(message.NewPersisted())
}

// routeGeneMappingExactQuery handles the Content{GeneMappingQuery}
// mode: exact path, single mapping or NotFound.
func (d *Director) routeGeneMappingExactQuery(env message.Envelope) {
	c := env.Message.Content
	path := ""
	if c.Path != nil {
		path = *c.Path
	}
	kind, ok := d.geneMappings[path]
	if !ok {
		env.Reply(message.NewNotFound(path))
		return
	}
	env.Reply(message.NewGeneMapping(path, geneKindToMessage(kind)))
}

// routeGeneMappingPrefixQuery handles the Query{GeneMapping} mode:
// every mapping whose key equals path, equals path without a trailing
// slash, or starts with path+"/", newline-joined, or the literal
// "<not set>" if none match.
func (d *Director) routeGeneMappingPrefixQuery(env message.Envelope) {
	q := env.Message.Query
	trimmed := strings.TrimSuffix(q.Path, "/")

	var lines []string
	for p, k := range d.geneMappings {
		if p == q.Path || p == trimmed || strings.HasPrefix(p, q.Path+"/") {
			lines = append(lines, fmt.Sprintf("%s -> %s", p, geneKindToMessage(k)))
		}
	}
	sort.Strings(lines)

	text := "<not set>"
	if len(lines) > 0 {
		text = strings.Join(lines, "\n")
	}
	path := q.Path
	env.Reply(message.NewContent(&path, text, message.ContentGeneMappingQuery))
}

// routeEndOfStream forwards to the output sink if present, otherwise
// replies directly to the caller.
func (d *Director) routeEndOfStream(ctx context.Context, env message.Envelope) {
	if d.output != nil {
		if err := d.output.Handle(ctx, env.Message); err != nil {
			log.Printf("director: output sink error forwarding EndOfStream: %v", err)
		}
		return
	}
	env.Reply(message.NewEndOfStream())
}

func geneKindFromMessage(k message.GeneKind) (gene.Kind, error) {
	switch k {
	case message.GeneGauge:
		return gene.KindGauge, nil
	case message.GeneAccum:
		return gene.KindAccum, nil
	case message.GeneGaugeAndAccum:
		return gene.KindGaugeAndAccum, nil
	default:
		return 0, fmt.Errorf("director: unknown gene kind %d", k)
	}
}

func geneKindToMessage(k gene.Kind) message.GeneKind {
	switch k {
	case gene.KindAccum:
		return message.GeneAccum
	case gene.KindGaugeAndAccum:
		return message.GeneGaugeAndAccum
	default:
		return message.GeneGauge
	}
}
