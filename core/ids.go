package core

import (
	"fmt"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// PointIDForRow derives a deterministic point ID for a warehouse row from its
// coordinates. Re-indexing the same row offset produces the same ID, so an
// upsert overwrites instead of appending.
func PointIDForRow(sourceID, database, schema, table string, offset int64) string {
	return contentUUID(fmt.Sprintf("row:%s:%s:%s:%s:%d", sourceID, database, schema, table, offset))
}

// PointIDForChunk derives a deterministic point ID for a document chunk from
// its job and sequence position.
func PointIDForChunk(sourceID string, sequence int) string {
	return contentUUID(fmt.Sprintf("chunk:%s:%d", sourceID, sequence))
}

// PointIDForTable derives a deterministic point ID for a table-level
// description embedding.
func PointIDForTable(sourceID, database, schema, table, facet string) string {
	return contentUUID(fmt.Sprintf("table:%s:%s:%s:%s:%s", sourceID, database, schema, table, facet))
}

// contentUUID hashes content with BLAKE2b into 16 bytes and formats the
// digest as a UUID. Identical content always yields the same ID.
func contentUUID(text string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(text))
	sum := h.Sum(nil)
	id, err := uuid.FromBytes(sum)
	if err != nil {
		// 16-byte input cannot fail; fall back to a random ID regardless.
		return uuid.NewString()
	}
	return id.String()
}
