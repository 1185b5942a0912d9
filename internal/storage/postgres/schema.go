package postgres

import "fmt"

// tableName holds one embedding per memory_index id.
const tableName = "memindex_vectors"

// schemaSQL returns the DDL for a vector table of the given dimension. The
// ivfflat index is only created once the table has rows, because ivfflat
// derives its lists from existing data.
func schemaSQL(dim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    memory_id BIGINT PRIMARY KEY,
    embedding vector(%[2]d) NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`, tableName, dim)
}

// indexSQL creates the cosine ivfflat index when it is missing and the
// table is non-empty. Safe to run repeatedly.
const indexSQL = `
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memindex_vectors_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM ` + tableName + ` LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_memindex_vectors_cosine ON ` + tableName + ` USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`

// dimensionSQL reads the declared dimension of the embedding column. For
// the vector type atttypmod is the dimension.
const dimensionSQL = `
SELECT a.atttypmod
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
WHERE c.relname = '` + tableName + `' AND a.attname = 'embedding' AND NOT a.attisdropped
`
