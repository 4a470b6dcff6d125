package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/poiesic/indexit/core"
)

var (
	limitRe  = regexp.MustCompile(`LIMIT (\d+)`)
	offsetRe = regexp.MustCompile(`OFFSET (\d+)`)
)

// fakeClient is a scripted QueryClient. Row data is served per table, with
// LIMIT/OFFSET applied from the query text; queries containing a rejected
// fragment fail, which exercises the sampling fallback chain.
type fakeClient struct {
	mu        sync.Mutex
	columns   map[string][]core.ColumnMetadata
	rowCounts map[string]int64
	data      map[string][]map[string]any
	fkRows    []map[string]any
	rejected  []string
	queries   []string
	failures  map[string]int // query fragment -> remaining failures
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		columns:   make(map[string][]core.ColumnMetadata),
		rowCounts: make(map[string]int64),
		data:      make(map[string][]map[string]any),
		failures:  make(map[string]int),
	}
}

func (f *fakeClient) addTable(name string, rowCount int64, columns []core.ColumnMetadata, rows []map[string]any) {
	f.columns[name] = columns
	f.rowCounts[name] = rowCount
	f.data[name] = rows
}

func (f *fakeClient) recordedQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeClient) ExecuteQuery(_ context.Context, _ string, query string) (*QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	for fragment, remaining := range f.failures {
		if strings.Contains(query, fragment) && remaining > 0 {
			f.failures[fragment] = remaining - 1
			f.mu.Unlock()
			return nil, fmt.Errorf("scripted failure for %q", fragment)
		}
	}
	f.mu.Unlock()

	for _, fragment := range f.rejected {
		if strings.Contains(query, fragment) {
			return nil, fmt.Errorf("syntax error near %q", fragment)
		}
	}

	if strings.Contains(query, "FOREIGN KEY") {
		return &QueryResult{Rows: f.fkRows}, nil
	}

	table := f.tableFor(query)
	if table == "" {
		return &QueryResult{}, nil
	}

	rows := f.data[table]
	if m := offsetRe.FindStringSubmatch(query); m != nil {
		offset, _ := strconv.Atoi(m[1])
		if offset > len(rows) {
			offset = len(rows)
		}
		rows = rows[offset:]
	}
	if m := limitRe.FindStringSubmatch(query); m != nil {
		limit, _ := strconv.Atoi(m[1])
		if limit < len(rows) {
			rows = rows[:limit]
		}
	}

	var columns []string
	for _, col := range f.columns[table] {
		columns = append(columns, col.Name)
	}
	return &QueryResult{Columns: columns, Rows: rows}, nil
}

func (f *fakeClient) tableFor(query string) string {
	for name := range f.data {
		if strings.Contains(query, `"`+name+`"`) || strings.Contains(query, " "+name+" ") {
			return name
		}
	}
	return ""
}

func (f *fakeClient) ListTables(_ context.Context, _, _, _ string) ([]string, error) {
	var names []string
	for name := range f.columns {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeClient) DescribeTable(_ context.Context, _, _, _, table string) ([]core.ColumnMetadata, error) {
	cols, ok := f.columns[table]
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, ErrTableNotFound)
	}
	return cols, nil
}

func (f *fakeClient) EstimateRowCount(_ context.Context, _, _, _, table string) (int64, error) {
	return f.rowCounts[table], nil
}

func (f *fakeClient) Close() error { return nil }

// fakeStats scripts the resource readings for the concurrency formula.
type fakeStats struct {
	cores       int
	usedPercent float64
	freeBytes   uint64
}

func (s fakeStats) CPUCount() int { return s.cores }

func (s fakeStats) MemoryUsedPercent() (float64, error) { return s.usedPercent, nil }

func (s fakeStats) FreeMemoryBytes() (uint64, error) { return s.freeBytes, nil }
