// Package journal implements the durable, append-only, per-path event
// log: a single-table SQLite store keyed by (path, observation_time),
// or (path, sequence_time) when duplicate detection is disabled, with
// streaming replay for actor resurrection.
//
// Grounded on internal/storage/sqlite's connection-acquisition and
// upsert idioms (queries.go, config.go, errors.go) and
// internal/storage/ephemeral/store.go's use of the pure-Go
// github.com/ncruces/go-sqlite3 driver for the actual DSN-open call.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/digitaltwin/internal/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS updates (
	path TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	sequence TEXT NOT NULL,
	values_str TEXT NOT NULL,
	PRIMARY KEY (path, timestamp)
)`

var (
	journalTracer = otel.Tracer("digitaltwin/journal")
	journalMeter  = otel.Meter("digitaltwin/journal")

	conflictCount  metric.Int64Counter
	writeLatencyMs metric.Float64Histogram
)

func init() {
	var err error
	conflictCount, err = journalMeter.Int64Counter("journal.conflicts",
		metric.WithDescription("count of ConstraintViolation outcomes on Persist"))
	if err != nil {
		log.Printf("journal: failed to register conflict counter: %v", err)
	}
	writeLatencyMs, err = journalMeter.Float64Histogram("journal.write_latency_ms",
		metric.WithDescription("latency of Persist calls"), metric.WithUnit("ms"))
	if err != nil {
		log.Printf("journal: failed to register write latency histogram: %v", err)
	}
}

// Options configures a Journal's backing store.
type Options struct {
	// DisableWAL skips `PRAGMA journal_mode = WAL`; WAL is the default.
	DisableWAL bool

	// DisableDuplicateDetection switches the uniqueness key from
	// observation_time to sequence_time.
	DisableDuplicateDetection bool

	// MemoryOnly opens an in-memory database (":memory:") instead of a
	// namespace.db file, used by `update --memory-only` and by tests.
	MemoryOnly bool
}

// Journal is the durable event log. All access is serialized through
// Go's *sql.DB connection pool; in this implementation the Director is
// the only caller, so database/sql's pool concurrency control is
// sufficient without an explicit single-goroutine wrapper.
type Journal struct {
	db   *sql.DB
	path string
	opts Options
}

// Open creates (or attaches to) the namespace database at path and
// ensures the updates table exists, recording the active journaling
// mode in a log line.
func Open(ctx context.Context, path string, opts Options) (*Journal, error) {
	dsn := dsnFor(path, opts)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer; matches ephemeral/store.go's pool sizing.
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping %s: %w", path, err)
	}

	j := &Journal{db: db, path: path, opts: opts}
	if err := j.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func dsnFor(path string, opts Options) string {
	if opts.MemoryOnly {
		return "file::memory:?cache=shared&_busy_timeout=5000"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", path)
}

func (j *Journal) init(ctx context.Context) error {
	if !j.opts.MemoryOnly {
		if dir := filepath.Dir(j.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("journal: create dir: %w", err)
			}
		}
	}

	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("journal: create schema: %w", err)
	}

	mode := "DELETE"
	if !j.opts.DisableWAL {
		if err := j.db.QueryRowContext(ctx, "PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
			return fmt.Errorf("journal: set WAL mode: %w", err)
		}
	}
	log.Printf("journal: opened, journal_mode=%s duplicate_detection=%v", mode, !j.opts.DisableDuplicateDetection)
	return nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// keyTime returns which timestamp acts as the uniqueness key for this
// Journal's configuration.
func (j *Journal) keyTime(observationTime, sequenceTime time.Time) time.Time {
	if j.opts.DisableDuplicateDetection {
		return sequenceTime
	}
	return observationTime
}

// PersistObservation inserts a JournalRecord for an Observations
// message. Returns ErrConstraintViolation on a uniqueness conflict, or
// a wrapped error for any other failure.
func (j *Journal) PersistObservation(ctx context.Context, path string, observationTime, sequenceTime time.Time, values map[int32]float64) error {
	valuesJSON, err := marshalValues(values)
	if err != nil {
		return fmt.Errorf("journal: marshal values: %w", err)
	}
	return j.persist(ctx, path, j.keyTime(observationTime, sequenceTime), sequenceTime, valuesJSON)
}

// PersistGeneMapping inserts a JournalRecord encoding a gene-mapping
// write. The mapping's kind is encoded the same way an Observation's
// values are: as a JSON object, here `{"kind": "<gene kind string>"}`.
func (j *Journal) PersistGeneMapping(ctx context.Context, path string, kind message.GeneKind, sequenceTime time.Time) error {
	payload, err := json.Marshal(map[string]string{"kind": kind.String()})
	if err != nil {
		return fmt.Errorf("journal: marshal gene mapping: %w", err)
	}
	// Gene mappings use sequence_time as their own key regardless of
	// duplicate-detection mode: re-configuring a path is idempotent, so
	// there's no meaningful "observation time" to deduplicate on, and a
	// record per configure call is appended. Keys are stored in whole
	// seconds, so two writes for the same path within one second
	// conflict.
	return j.persist(ctx, path, sequenceTime, sequenceTime, string(payload))
}

func (j *Journal) persist(ctx context.Context, path string, keyTime, sequenceTime time.Time, valuesJSON string) (err error) {
	start := time.Now()
	ctx, span := journalTracer.Start(ctx, "journal.persist", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("dtse.path", path)))
	defer func() {
		endSpan(span, err)
		if writeLatencyMs != nil {
			writeLatencyMs.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
	}()

	conn, connErr := j.db.Conn(ctx)
	if connErr != nil {
		err = fmt.Errorf("journal: acquire connection: %w", connErr)
		return err
	}
	defer func() { _ = conn.Close() }()

	if beginErr := beginImmediateWithRetry(ctx, conn); beginErr != nil {
		err = fmt.Errorf("journal: begin immediate: %w", beginErr)
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	_, execErr := conn.ExecContext(ctx,
		`INSERT INTO updates (path, timestamp, sequence, values_str) VALUES (?, ?, ?, ?)`,
		path, unixKey(keyTime), unixKey(sequenceTime), valuesJSON)
	if execErr != nil {
		if isConstraintViolation(execErr) {
			if conflictCount != nil {
				conflictCount.Add(ctx, 1)
			}
			err = ErrConstraintViolation
			return err
		}
		err = wrapDBError("journal: insert", execErr)
		return err
	}

	if _, execErr := conn.ExecContext(ctx, "COMMIT"); execErr != nil {
		err = fmt.Errorf("journal: commit: %w", execErr)
		return err
	}
	committed = true
	return nil
}

// Load streams every record for path, in insertion order, as
// Observations messages on the returned channel, closing it when done.
// The caller is expected to consume until the channel closes; a
// canceled ctx stops the stream early.
func (j *Journal) Load(ctx context.Context, path string) (<-chan message.Envelope, error) {
	ctx, span := journalTracer.Start(ctx, "journal.load", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("dtse.path", path)))

	rows, err := j.db.QueryContext(ctx,
		`SELECT timestamp, sequence, values_str FROM updates WHERE path = ? ORDER BY rowid ASC`, path)
	if err != nil {
		endSpan(span, err)
		return nil, wrapDBError("journal: load", err)
	}

	out := make(chan message.Envelope)
	go func() {
		defer close(out)
		defer rows.Close()
		defer endSpan(span, nil)

		for rows.Next() {
			var tsRaw, seqRaw, valuesStr string
			if scanErr := rows.Scan(&tsRaw, &seqRaw, &valuesStr); scanErr != nil {
				log.Printf("journal: scan error replaying %s: %v", path, scanErr)
				return
			}
			ts, parseErr := parseUnixKey(tsRaw)
			if parseErr != nil {
				log.Printf("journal: bad timestamp replaying %s: %v", path, parseErr)
				continue
			}
			values, unmarshalErr := unmarshalValues(valuesStr)
			if unmarshalErr != nil {
				log.Printf("journal: bad values replaying %s: %v", path, unmarshalErr)
				continue
			}
			select {
			case out <- message.Envelope{Message: message.NewObservations(path, ts, values)}:
			case <-ctx.Done():
				return
			}
		}
		if rowsErr := rows.Err(); rowsErr != nil {
			log.Printf("journal: rows error replaying %s: %v", path, rowsErr)
		}
	}()
	return out, nil
}

// LoadGeneMappings streams every gene-mapping record ever persisted, in
// insertion order, used by the Director at startup. Gene mappings
// share the updates table with observations; a row is recognized as a
// mapping by its values_str shape: a gene-mapping payload is always the
// single-key object `{"kind": "..."}`, which an observation's
// stringified-index value map can never produce, since "kind" is not a
// valid int32 index string.
func (j *Journal) LoadGeneMappings(ctx context.Context) (<-chan message.Envelope, error) {
	ctx, span := journalTracer.Start(ctx, "journal.load_gene_mappings", trace.WithSpanKind(trace.SpanKindClient))

	rows, err := j.db.QueryContext(ctx,
		`SELECT path, values_str FROM updates WHERE values_str LIKE '{"kind":%' ORDER BY rowid ASC`)
	if err != nil {
		endSpan(span, err)
		return nil, wrapDBError("journal: load gene mappings", err)
	}

	out := make(chan message.Envelope)
	go func() {
		defer close(out)
		defer rows.Close()
		defer endSpan(span, nil)

		for rows.Next() {
			var path, valuesStr string
			if scanErr := rows.Scan(&path, &valuesStr); scanErr != nil {
				log.Printf("journal: scan error replaying gene mappings: %v", scanErr)
				return
			}
			var payload struct {
				Kind string `json:"kind"`
			}
			if unmarshalErr := json.Unmarshal([]byte(valuesStr), &payload); unmarshalErr != nil {
				continue
			}
			kind, kindErr := parseGeneKind(payload.Kind)
			if kindErr != nil {
				continue
			}
			select {
			case out <- message.Envelope{Message: message.NewGeneMapping(path, kind)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
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
		return 0, fmt.Errorf("journal: unknown gene kind %q", s)
	}
}

func marshalValues(values map[int32]float64) (string, error) {
	strMap := make(map[string]float64, len(values))
	for k, v := range values {
		strMap[strconv.FormatInt(int64(k), 10)] = v
	}
	b, err := json.Marshal(strMap)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalValues(s string) (map[int32]float64, error) {
	var strMap map[string]float64
	if err := json.Unmarshal([]byte(s), &strMap); err != nil {
		return nil, err
	}
	out := make(map[int32]float64, len(strMap))
	for k, v := range strMap {
		idx, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			return nil, err
		}
		out[int32(idx)] = v
	}
	return out, nil
}

func unixKey(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseUnixKey(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
