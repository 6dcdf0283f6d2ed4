package artifact

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    job_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    -- unix nanoseconds
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_name ON artifacts(name);

CREATE TABLE IF NOT EXISTS records (
    job_id TEXT NOT NULL REFERENCES artifacts(job_id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    status TEXT NOT NULL,
    result TEXT NOT NULL,
    file TEXT,
    grp TEXT,
    label TEXT,
    hostname TEXT,
    address TEXT NOT NULL,
    device_type TEXT,
    log TEXT,
    PRIMARY KEY (job_id, seq)
);
`
