// Package message defines the internal wire protocol shared by the
// Director, StateActor, and Journal: a tagged-union Message carried
// inside an Envelope, patterned on the teacher's internal/rpc
// Op-constant-plus-typed-payload convention (internal/rpc/protocol.go)
// but collapsed to an in-process discriminated struct since these
// components talk over Go channels, not marshaled RPC.
package message

import "time"

// Kind discriminates the Message tagged union.
type Kind int

const (
	KindInitCmd Kind = iota
	KindObservations
	KindQuery
	KindGeneMapping
	KindContent
	KindStateReport
	KindPersisted
	KindConstraintViolation
	KindNotFound
	KindEndOfStream
	KindActorError
)

func (k Kind) String() string {
	switch k {
	case KindInitCmd:
		return "InitCmd"
	case KindObservations:
		return "Observations"
	case KindQuery:
		return "Query"
	case KindGeneMapping:
		return "GeneMapping"
	case KindContent:
		return "Content"
	case KindStateReport:
		return "StateReport"
	case KindPersisted:
		return "Persisted"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindNotFound:
		return "NotFound"
	case KindEndOfStream:
		return "EndOfStream"
	case KindActorError:
		return "ActorError"
	default:
		return "Unknown"
	}
}

// InitHint distinguishes the two replay streams InitCmd can drive.
type InitHint int

const (
	InitUpdate InitHint = iota
	InitGeneMapping
)

// QueryHint distinguishes the two kinds of read a Query can request.
type QueryHint int

const (
	QueryState QueryHint = iota
	QueryGeneMapping
)

// ContentHint tells an adapter how to decode a Content envelope's text.
type ContentHint int

const (
	ContentUpdate ContentHint = iota
	ContentQuery
	ContentGeneMapping
	ContentGeneMappingQuery
)

// GeneKind mirrors gene.Kind without importing the gene package, so
// message stays a leaf dependency. gene.Kind values convert 1:1.
type GeneKind int

const (
	GeneGauge GeneKind = iota
	GeneAccum
	GeneGaugeAndAccum
)

func (k GeneKind) String() string {
	switch k {
	case GeneGauge:
		return "gauge"
	case GeneAccum:
		return "accum"
	case GeneGaugeAndAccum:
		return "gauge_and_accum"
	default:
		return "unknown"
	}
}

// InitCmdPayload drives replay during actor/Director startup.
type InitCmdPayload struct {
	Hint InitHint
	// StreamFrom delivers prior records during replay. The sender
	// closes it (or sends an EndOfStream message) when done.
	StreamFrom <-chan Envelope
}

// ObservationsPayload is external data to apply to one entity's state.
type ObservationsPayload struct {
	Path     string
	DateTime time.Time
	Values   map[int32]float64
}

// QueryPayload is a read request.
type QueryPayload struct {
	Path string
	Hint QueryHint
}

// GeneMappingPayload installs or reports a prefix→gene binding.
type GeneMappingPayload struct {
	Path string
	Kind GeneKind
}

// ContentPayload carries unparsed adapter-layer text plus a decode hint.
type ContentPayload struct {
	Path *string
	Text string
	Hint ContentHint
}

// StateReportPayload is a StateActor's reply describing its current state.
type StateReportPayload struct {
	Path     string
	DateTime time.Time
	Values   map[int32]float64
}

// NotFoundPayload names the path that had nothing to report.
type NotFoundPayload struct {
	Path string
}

// ActorErrorPayload carries an operator or storage failure reason.
// Journal failures and a StateActor's operator-failure reply both use
// this same shape, so both failure sources surface through one variant.
type ActorErrorPayload struct {
	Path   string
	Reason string
}

// Message is a tagged union: exactly one of the typed payload fields is
// populated, selected by Kind. This shape (discriminant plus parallel
// optional fields) follows the same convention the teacher's
// rpc.Request/Response pair uses for its Op string plus dedicated
// Args/Result structs, adapted to an in-process sum type instead of a
// JSON envelope.
type Message struct {
	Kind Kind

	InitCmd      *InitCmdPayload
	Observations *ObservationsPayload
	Query        *QueryPayload
	GeneMapping  *GeneMappingPayload
	Content      *ContentPayload
	StateReport  *StateReportPayload
	NotFound     *NotFoundPayload
	ActorError   *ActorErrorPayload
	// Persisted, ConstraintViolation, and EndOfStream carry no payload.
}

func NewInitCmd(hint InitHint, streamFrom <-chan Envelope) Message {
	return Message{Kind: KindInitCmd, InitCmd: &InitCmdPayload{Hint: hint, StreamFrom: streamFrom}}
}

func NewObservations(path string, dt time.Time, values map[int32]float64) Message {
	return Message{Kind: KindObservations, Observations: &ObservationsPayload{Path: path, DateTime: dt, Values: values}}
}

func NewQuery(path string, hint QueryHint) Message {
	return Message{Kind: KindQuery, Query: &QueryPayload{Path: path, Hint: hint}}
}

func NewGeneMapping(path string, kind GeneKind) Message {
	return Message{Kind: KindGeneMapping, GeneMapping: &GeneMappingPayload{Path: path, Kind: kind}}
}

func NewContent(path *string, text string, hint ContentHint) Message {
	return Message{Kind: KindContent, Content: &ContentPayload{Path: path, Text: text, Hint: hint}}
}

func NewStateReport(path string, dt time.Time, values map[int32]float64) Message {
	return Message{Kind: KindStateReport, StateReport: &StateReportPayload{Path: path, DateTime: dt, Values: values}}
}

func NewPersisted() Message { return Message{Kind: KindPersisted} }

func NewConstraintViolation() Message { return Message{Kind: KindConstraintViolation} }

func NewNotFound(path string) Message {
	return Message{Kind: KindNotFound, NotFound: &NotFoundPayload{Path: path}}
}

func NewActorError(path, reason string) Message {
	return Message{Kind: KindActorError, ActorError: &ActorErrorPayload{Path: path, Reason: reason}}
}

func NewEndOfStream() Message { return Message{Kind: KindEndOfStream} }
