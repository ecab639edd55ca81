package postgres

// Schema holds the vector table. It requires the pgvector extension, which
// NewVectorStore creates before applying the schema. The column is declared
// without a dimension so twins may use different embedding models; queries
// filter on the stored dimension.
const Schema = `
CREATE TABLE IF NOT EXISTS vector_entries (
	namespace TEXT NOT NULL,
	chunk_id  TEXT NOT NULL,
	source_id TEXT NOT NULL,
	dimension INTEGER NOT NULL,
	embedding vector NOT NULL,
	PRIMARY KEY (namespace, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_vector_entries_source ON vector_entries (namespace, source_id);
`
