// Package adapters implements the external-edge components: a JSON
// decoder translating Content envelopes into typed messages, and
// line-oriented stdin/stdout adapters. These sit outside the
// Director/StateActor/Journal core and talk to it only through
// message.Envelope, mirroring how the teacher keeps its own protocol
// decoding (internal/rpc/protocol.go) separate from its server loop
// (internal/rpc/server_core.go).
package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/steveyegge/digitaltwin/internal/message"
)

// DatetimeLayout matches the ISO 8601 offset form observation JSON
// uses: "2023-01-11T23:17:57+0000" (no colon in the zone offset, so
// time.RFC3339 itself won't parse it).
const DatetimeLayout = "2006-01-02T15:04:05-0700"

type updateJSON struct {
	Path     string             `json:"path"`
	DateTime string             `json:"datetime"`
	Values   map[string]float64 `json:"values"`
}

type queryJSON struct {
	Path string `json:"path"`
}

type geneMappingJSON struct {
	Path     string `json:"path"`
	GeneType string `json:"gene_type"`
}

// DecodeContent translates a Content payload's text into the typed
// message its Hint names. The returned message is ready to route
// straight to the Director.
func DecodeContent(c *message.ContentPayload) (message.Message, error) {
	if c == nil {
		return message.Message{}, fmt.Errorf("adapters: nil content payload")
	}
	switch c.Hint {
	case message.ContentUpdate:
		return decodeUpdate(c.Text)
	case message.ContentQuery:
		return decodeQuery(c.Text)
	case message.ContentGeneMapping:
		return decodeGeneMapping(c.Text)
	case message.ContentGeneMappingQuery:
		return decodeGeneMappingQuery(c)
	default:
		return message.Message{}, fmt.Errorf("adapters: unsupported content hint %d", c.Hint)
	}
}

func decodeUpdate(text string) (message.Message, error) {
	var u updateJSON
	if err := json.Unmarshal([]byte(text), &u); err != nil {
		return message.Message{}, fmt.Errorf("adapters: decode update: %w", err)
	}
	dt, err := time.Parse(DatetimeLayout, u.DateTime)
	if err != nil {
		return message.Message{}, fmt.Errorf("adapters: decode update: unparsable datetime %q: %w", u.DateTime, err)
	}
	values := make(map[int32]float64, len(u.Values))
	for k, v := range u.Values {
		idx, convErr := strconv.ParseInt(k, 10, 32)
		if convErr != nil {
			return message.Message{}, fmt.Errorf("adapters: decode update: bad index %q: %w", k, convErr)
		}
		values[int32(idx)] = v
	}
	return message.NewObservations(u.Path, dt, values), nil
}

func decodeQuery(text string) (message.Message, error) {
	var q queryJSON
	if err := json.Unmarshal([]byte(text), &q); err != nil {
		return message.Message{}, fmt.Errorf("adapters: decode query: %w", err)
	}
	return message.NewQuery(q.Path, message.QueryState), nil
}

func decodeGeneMapping(text string) (message.Message, error) {
	var g geneMappingJSON
	if err := json.Unmarshal([]byte(text), &g); err != nil {
		return message.Message{}, fmt.Errorf("adapters: decode gene mapping: %w", err)
	}
	kind, err := parseGeneKind(g.GeneType)
	if err != nil {
		return message.Message{}, fmt.Errorf("adapters: decode gene mapping: %w", err)
	}
	return message.NewGeneMapping(g.Path, kind), nil
}

// decodeGeneMappingQuery handles the exact-path GeneMapping query mode:
// its Content payload already carries the path (set by the HTTP
// facade), so there's no text body to parse.
func decodeGeneMappingQuery(c *message.ContentPayload) (message.Message, error) {
	if c.Path == nil || *c.Path == "" {
		return message.Message{}, fmt.Errorf("adapters: decode gene mapping query: missing path")
	}
	return message.NewContent(c.Path, "", message.ContentGeneMappingQuery), nil
}

func parseGeneKind(s string) (message.GeneKind, error) {
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
