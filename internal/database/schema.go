package database

const sqliteSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instrument TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    model TEXT NOT NULL,
    issued_at INTEGER NOT NULL,
    horizon_seconds INTEGER NOT NULL,
    predicted_value REAL NOT NULL,
    actual_value REAL,
    error REAL,
    resolved INTEGER NOT NULL DEFAULT 0,
    resolved_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_predictions_unresolved ON predictions(resolved, issued_at);
CREATE INDEX IF NOT EXISTS idx_predictions_issued ON predictions(issued_at DESC);

CREATE TABLE IF NOT EXISTS model_stats (
    instrument TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    model TEXT NOT NULL,
    mean_abs_error REAL NOT NULL,
    count INTEGER NOT NULL,
    last_updated INTEGER NOT NULL,
    PRIMARY KEY (instrument, timeframe, model)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS predictions (
    id BIGSERIAL PRIMARY KEY,
    instrument TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    model TEXT NOT NULL,
    issued_at TIMESTAMPTZ NOT NULL,
    horizon_seconds BIGINT NOT NULL CHECK (horizon_seconds > 0),
    predicted_value DOUBLE PRECISION NOT NULL,
    actual_value DOUBLE PRECISION,
    error DOUBLE PRECISION,
    resolved BOOLEAN NOT NULL DEFAULT FALSE,
    resolved_at TIMESTAMPTZ,
    CONSTRAINT predictions_resolution_complete CHECK (
        resolved = (actual_value IS NOT NULL AND error IS NOT NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_predictions_unresolved ON predictions (issued_at) WHERE resolved = FALSE;
CREATE INDEX IF NOT EXISTS idx_predictions_issued ON predictions (issued_at DESC);

CREATE TABLE IF NOT EXISTS model_stats (
    instrument TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    model TEXT NOT NULL,
    mean_abs_error DOUBLE PRECISION NOT NULL,
    count BIGINT NOT NULL CHECK (count >= 0),
    last_updated TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (instrument, timeframe, model)
);
`
