// Package httpapi implements the HTTP facade: a thin translation layer
// between REST requests and the internal message protocol, mirroring
// the teacher's cmd/bd/serve.go: a plain net/http.ServeMux, manual
// path-prefix trimming, encoding/json request/response bodies, no
// router framework, rather than introducing a dependency the pack's
// examples don't reach for.
package httpapi

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/digitaltwin/internal/adapters"
	"github.com/steveyegge/digitaltwin/internal/message"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Router is the subset of *director.Director the HTTP facade needs —
// the same local-interface pattern internal/director.Store and
// internal/adapters.Router use, one layer further from the Journal.
type Router interface {
	Send(ctx context.Context, env message.Envelope) error
}

// Server is the HTTP facade. Zero value is not usable; build one with
// NewServer.
type Server struct {
	router       Router
	uiPath       string
	disableUI    bool
	replyTimeout time.Duration
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithUIPath sets the path the embedded UI is served at (`serve`'s
// `--uipath`, default "/").
func WithUIPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.uiPath = path
		}
	}
}

// WithUIDisabled mirrors `serve --disable-ui`.
func WithUIDisabled(disabled bool) Option {
	return func(s *Server) { s.disableUI = disabled }
}

// WithReplyTimeout bounds how long a request waits for the Director's
// reply before answering 500. Default 5s.
func WithReplyTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.replyTimeout = d
		}
	}
}

func NewServer(router Router, opts ...Option) *Server {
	s := &Server{router: router, uiPath: "/", replyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the request-routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/actors/", s.handleActors)
	mux.HandleFunc("/api/genes/", s.handleGenes)
	if !s.disableUI {
		mux.HandleFunc(s.uiPath, s.handleIndex)
	}
	return mux
}

// ask sends msg to the Director and waits for its reply, bounded by
// the server's reply timeout. A request that times out must not leave
// the Director's loop stalled, which is why Envelope.Reply is a
// non-blocking best-effort send.
func (s *Server) ask(r *http.Request, msg message.Message) message.Message {
	ctx, cancel := context.WithTimeout(r.Context(), s.replyTimeout)
	defer cancel()

	reply := make(chan message.Envelope, 1)
	env := message.Envelope{Message: msg, RespondTo: reply, SequenceTime: time.Now().UTC()}
	if err := s.router.Send(ctx, env); err != nil {
		return message.NewActorError("", err.Error())
	}
	select {
	case r := <-reply:
		return r.Message
	case <-ctx.Done():
		return message.NewActorError("", ctx.Err().Error())
	}
}

func (s *Server) handleActors(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/actors")
	if path == "" || path == "/" {
		writeError(w, http.StatusBadRequest, "actor path required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.writeStateReportReply(w, s.ask(r, message.NewQuery(path, message.QueryState)))
	case http.MethodPost:
		var body struct {
			DateTime string             `json:"datetime"`
			Values   map[string]float64 `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		dt, err := time.Parse(adapters.DatetimeLayout, body.DateTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unparsable datetime %q: %v", body.DateTime, err))
			return
		}
		values := make(map[int32]float64, len(body.Values))
		for k, v := range body.Values {
			idx, convErr := parseIndex(k)
			if convErr != nil {
				writeError(w, http.StatusBadRequest, convErr.Error())
				return
			}
			values[idx] = v
		}
		reply := s.ask(r, message.NewObservations(path, dt, values))
		s.writeStateReportReply(w, reply)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method "+r.Method)
	}
}

func (s *Server) handleGenes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/genes")
	if path == "" || path == "/" {
		writeError(w, http.StatusBadRequest, "gene path required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		reply := s.ask(r, message.NewContent(&path, "", message.ContentGeneMappingQuery))
		switch reply.Kind {
		case message.KindGeneMapping:
			writeJSON(w, http.StatusOK, geneMappingJSON{Path: reply.GeneMapping.Path, GeneType: reply.GeneMapping.Kind.String()})
		case message.KindNotFound:
			writeError(w, http.StatusNotFound, "no gene mapping for "+path)
		default:
			writeError(w, http.StatusInternalServerError, errorText(reply))
		}
	case http.MethodPost:
		var body struct {
			GeneType string `json:"gene_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind, err := parseGeneType(body.GeneType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		reply := s.ask(r, message.NewGeneMapping(path, kind))
		switch reply.Kind {
		case message.KindPersisted:
			writeJSON(w, http.StatusOK, geneMappingJSON{Path: path, GeneType: body.GeneType})
		case message.KindConstraintViolation:
			writeError(w, http.StatusConflict, "gene mapping conflict for "+path)
		default:
			writeError(w, http.StatusInternalServerError, errorText(reply))
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method "+r.Method)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.uiPath {
		http.NotFound(w, r)
		return
	}
	tmpl, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := tmpl.Execute(w, map[string]string{"UIPath": s.uiPath}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeStateReportReply maps a Director reply to the actors endpoints'
// status codes: 200/StateReport, 404/empty-or-missing,
// 409/ConstraintViolation, 500/anything else.
func (s *Server) writeStateReportReply(w http.ResponseWriter, reply message.Message) {
	switch reply.Kind {
	case message.KindStateReport:
		sr := reply.StateReport
		if len(sr.Values) == 0 {
			writeError(w, http.StatusNotFound, "empty state for "+sr.Path)
			return
		}
		writeJSON(w, http.StatusOK, stateReportJSON{
			Path:     sr.Path,
			DateTime: sr.DateTime.Format(adapters.DatetimeLayout),
			Values:   sr.Values,
		})
	case message.KindConstraintViolation:
		writeError(w, http.StatusConflict, "duplicate observation")
	case message.KindNotFound:
		writeError(w, http.StatusNotFound, errorText(reply))
	case message.KindActorError:
		writeError(w, http.StatusInternalServerError, errorText(reply))
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("unexpected reply kind %s", reply.Kind))
	}
}

type stateReportJSON struct {
	Path     string             `json:"path"`
	DateTime string             `json:"datetime"`
	Values   map[int32]float64 `json:"values"`
}

type geneMappingJSON struct {
	Path     string `json:"path"`
	GeneType string `json:"gene_type"`
}

func errorText(reply message.Message) string {
	if reply.ActorError != nil {
		return reply.ActorError.Reason
	}
	if reply.NotFound != nil {
		return "not found: " + reply.NotFound.Path
	}
	return reply.Kind.String()
}

func parseGeneType(s string) (message.GeneKind, error) {
	switch s {
	case "gauge":
		return message.GeneGauge, nil
	case "accum":
		return message.GeneAccum, nil
	case "gauge_and_accum":
		return message.GeneGaugeAndAccum, nil
	default:
		return 0, fmt.Errorf("unknown gene_type %q", s)
	}
}

func parseIndex(s string) (int32, error) {
	idx, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad index %q: %w", s, err)
	}
	return int32(idx), nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
