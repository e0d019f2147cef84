package database

import (
	"context"
	"strings"

	"github.com/irfndi/adaptive-ensemble/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracedPool wraps a DatabasePool and emits one span per statement.
type TracedPool struct {
	pool   DatabasePool
	tracer trace.Tracer
}

// NewTracedPool wraps pool with tracing on the database tracer.
func NewTracedPool(pool DatabasePool) *TracedPool {
	return &TracedPool{
		pool:   pool,
		tracer: telemetry.GetDatabaseTracer(),
	}
}

func (db *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := db.start(ctx, "db.query", sql)
	defer span.End()

	rows, err := db.pool.Query(ctx, sql, args...)
	telemetry.RecordError(span, err)
	return rows, err
}

func (db *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := db.start(ctx, "db.query_row", sql)
	defer span.End()

	return db.pool.QueryRow(ctx, sql, args...)
}

func (db *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := db.start(ctx, "db.exec", sql)
	defer span.End()

	tag, err := db.pool.Exec(ctx, sql, args...)
	telemetry.RecordError(span, err)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	return tag, err
}

func (db *TracedPool) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := db.tracer.Start(ctx, "db.begin", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return &TracedTx{Tx: tx, tracer: db.tracer}, nil
}

func (db *TracedPool) Ping(ctx context.Context) error {
	ctx, span := db.tracer.Start(ctx, "db.ping", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	err := db.pool.Ping(ctx)
	telemetry.RecordError(span, err)
	return err
}

func (db *TracedPool) start(ctx context.Context, name, sql string) (context.Context, trace.Span) {
	return startStatementSpan(ctx, db.tracer, name, sql)
}

// TracedTx traces the statements of a transaction. Methods it does not
// override go straight to the embedded pgx.Tx.
type TracedTx struct {
	pgx.Tx
	tracer trace.Tracer
}

func (tx *TracedTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := startStatementSpan(ctx, tx.tracer, "db.tx.query", sql)
	defer span.End()

	rows, err := tx.Tx.Query(ctx, sql, args...)
	telemetry.RecordError(span, err)
	return rows, err
}

func (tx *TracedTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := startStatementSpan(ctx, tx.tracer, "db.tx.query_row", sql)
	defer span.End()

	return tx.Tx.QueryRow(ctx, sql, args...)
}

func (tx *TracedTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := startStatementSpan(ctx, tx.tracer, "db.tx.exec", sql)
	defer span.End()

	tag, err := tx.Tx.Exec(ctx, sql, args...)
	telemetry.RecordError(span, err)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	return tag, err
}

func (tx *TracedTx) Commit(ctx context.Context) error {
	ctx, span := tx.tracer.Start(ctx, "db.tx.commit", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	err := tx.Tx.Commit(ctx)
	telemetry.RecordError(span, err)
	return err
}

func startStatementSpan(ctx context.Context, tracer trace.Tracer, name, sql string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", statementOperation(sql)),
			attribute.String("db.statement", sql),
		),
	)
}

// statementOperation returns the leading SQL keyword, upper-cased.
func statementOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
