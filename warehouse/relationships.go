package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/indexit/core"
)

// DetectRelationships fills in ForeignKey references on the tables' columns.
//
// The warehouse catalog is asked first; when it reports no foreign keys at
// all (common on warehouses that do not enforce them), a naming-convention
// heuristic takes over: a column named x_id is treated as a candidate
// reference to a table named x or its plural, and the referenced table's
// primary-key column completes the edge.
func DetectRelationships(ctx context.Context, client QueryClient, sourceID, schema string, tables []*core.TableMetadata) error {
	if client == nil {
		return ErrClientRequired
	}

	found, err := catalogRelationships(ctx, client, sourceID, schema, tables)
	if err != nil {
		slog.Default().Warn("catalog foreign-key query failed, using naming heuristic",
			"schema", schema, "err", err)
	}
	if found == 0 {
		heuristicRelationships(tables)
	}
	return nil
}

func catalogRelationships(ctx context.Context, client QueryClient, sourceID, schema string, tables []*core.TableMetadata) (int, error) {
	query := fmt.Sprintf(`
		SELECT
			tc.table_name,
			kcu.column_name,
			ccu.table_name AS foreign_table,
			ccu.column_name AS foreign_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = '%s'
	`, strings.ReplaceAll(schema, "'", "''"))

	result, err := client.ExecuteQuery(ctx, sourceID, query)
	if err != nil {
		return 0, err
	}

	byName := tablesByName(tables)
	found := 0
	for _, row := range result.Rows {
		table, _ := row["table_name"].(string)
		column, _ := row["column_name"].(string)
		foreignTable, _ := row["foreign_table"].(string)
		foreignColumn, _ := row["foreign_column"].(string)

		meta, ok := byName[strings.ToLower(table)]
		if !ok {
			continue
		}
		for i := range meta.Columns {
			if meta.Columns[i].Name == column {
				meta.Columns[i].ForeignKey = foreignTable + "." + foreignColumn
				found++
				break
			}
		}
	}
	return found, nil
}

func heuristicRelationships(tables []*core.TableMetadata) {
	byName := tablesByName(tables)
	for _, meta := range tables {
		for i := range meta.Columns {
			col := &meta.Columns[i]
			if col.ForeignKey != "" || col.PrimaryKey {
				continue
			}
			base, ok := strings.CutSuffix(strings.ToLower(col.Name), "_id")
			if !ok || base == "" {
				continue
			}

			target := matchTable(byName, base)
			if target == nil {
				continue
			}
			pk := target.PrimaryKeyColumn()
			if pk == "" {
				pk = "id"
			}
			col.ForeignKey = target.Table + "." + pk
		}
	}
}

// matchTable finds a table named base or a simple plural of it.
func matchTable(byName map[string]*core.TableMetadata, base string) *core.TableMetadata {
	for _, candidate := range []string{base, base + "s", base + "es", pluralY(base)} {
		if candidate == "" {
			continue
		}
		if meta, ok := byName[candidate]; ok {
			return meta
		}
	}
	return nil
}

// pluralY maps "category" to "categories".
func pluralY(base string) string {
	if strings.HasSuffix(base, "y") && len(base) > 1 {
		return base[:len(base)-1] + "ies"
	}
	return ""
}

func tablesByName(tables []*core.TableMetadata) map[string]*core.TableMetadata {
	byName := make(map[string]*core.TableMetadata, len(tables))
	for _, t := range tables {
		byName[strings.ToLower(t.Table)] = t
	}
	return byName
}
