package chartstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/logger"
	"tickforge/internal/repository"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Manifest 记录某个集合文件的统计信息。
type Manifest struct {
	Key        string `json:"key"`
	Type       string `json:"type"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// WriteStats 是一次 upsert 的插入/更新计数。
type WriteStats struct {
	Inserted int
	Updated  int
}

// Store 是权威图表仓库：每个集合（图表键）一个 sqlite 文件，
// 文件内 series 表以毫秒时间戳为唯一索引，列与图表类型的值字段一一对应。
type Store struct {
	*repository.InstrumentTable
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB

	keysMu sync.Mutex
	keys   []string // ListCharts 缓存，nil 表示需要重新扫描
}

func NewStore(root string, instruments *repository.InstrumentTable) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if instruments == nil {
		instruments = repository.NewInstrumentTable(nil)
	}
	return &Store{InstrumentTable: instruments, root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) dbPath(key string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)
	return filepath.Join(s.root, name+".db")
}

// db 返回集合对应的连接；create 为 false 且文件不存在时返回 (nil, nil)。
func (s *Store) db(c *chart.Chart, create bool) (*sql.DB, error) {
	key := c.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, nil
	}
	path := s.dbPath(key)
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db, c); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.dbs[key] = db
	return db, nil
}

func openDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func ensureSchema(db *sql.DB, c *chart.Chart) error {
	cols := make([]string, 0, len(c.Type().ValueFields))
	for _, f := range c.Type().ValueFields {
		cols = append(cols, fmt.Sprintf("%s REAL", quoteIdent(f)))
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS series (
			timestamp INTEGER NOT NULL,
			%s,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%%s','now') * 1000)
		);`, strings.Join(cols, ",\n\t\t\t")),
		`CREATE UNIQUE INDEX IF NOT EXISTS series_timestamp ON series(timestamp);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			key TEXT NOT NULL,
			type TEXT NOT NULL,
			min_time INTEGER DEFAULT 0,
			max_time INTEGER DEFAULT 0,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, key, type) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET key=excluded.key, type=excluded.type;`, c.Key(), c.Type().Name)
	return err
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func selectColumns(c *chart.Chart) string {
	cols := []string{"timestamp"}
	for _, f := range c.Type().ValueFields {
		cols = append(cols, quoteIdent(f))
	}
	return strings.Join(cols, ", ")
}

// ReadChart 读取窗口内的记录；设置 Count 时返回截至 To 的最后 Count 条。
// 集合不存在时返回空结果。
func (s *Store) ReadChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) ([]chart.Row, error) {
	db, err := s.db(c, false)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return []chart.Row{}, nil
	}
	q := c.Query(ov)
	var (
		where []string
		args  []any
	)
	if !q.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, q.To.UnixMilli())
	}
	stmt := "SELECT " + selectColumns(c) + " FROM series"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	orderDesc := q.Count > 0
	if orderDesc {
		stmt += " ORDER BY timestamp DESC LIMIT ?"
		args = append(args, q.Count)
	} else {
		stmt += " ORDER BY timestamp ASC"
	}
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanRows(rows, c.Type().ValueFields)
	if err != nil {
		return nil, err
	}
	if orderDesc {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}
	return list, nil
}

func scanRows(rows *sql.Rows, fields []string) ([]chart.Row, error) {
	list := make([]chart.Row, 0)
	for rows.Next() {
		var ts int64
		vals := make([]sql.NullFloat64, len(fields))
		dest := make([]any, 0, len(fields)+1)
		dest = append(dest, &ts)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r := chart.Row{Timestamp: time.UnixMilli(ts).UTC(), Values: make(map[string]float64, len(fields))}
		for i, f := range fields {
			if vals[i].Valid {
				r.Values[f] = vals[i].Float64
			} else {
				r.Values[f] = math.NaN()
			}
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// WriteChart upsert 图表当前数据中落在覆盖窗口内的记录。
func (s *Store) WriteChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) error {
	q := c.Query(ov)
	var rows []chart.Row
	for _, r := range c.Rows() {
		if q.Contains(r.Timestamp) {
			rows = append(rows, r)
		}
	}
	_, err := s.Upsert(ctx, c, rows)
	return err
}

// Upsert 按顺序插入记录；遇到唯一索引冲突的第 i 行时，前 i 行保留，
// 第 i 行按时间戳原地更新，然后对剩余记录重复该过程。整个过程在一个事务内完成。
func (s *Store) Upsert(ctx context.Context, c *chart.Chart, rows []chart.Row) (WriteStats, error) {
	var stats WriteStats
	if len(rows) == 0 {
		return stats, nil
	}
	db, err := s.db(c, true)
	if err != nil {
		return stats, err
	}
	fields := c.Type().ValueFields
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	sets := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f)
		marks[i] = "?"
		sets[i] = quoteIdent(f) + " = ?"
	}
	insert, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO series (timestamp, %s) VALUES (?, %s)`,
		strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		_ = tx.Rollback()
		return stats, err
	}
	defer insert.Close()
	update, err := tx.PrepareContext(ctx, fmt.Sprintf(`UPDATE series SET %s WHERE timestamp = ?`, strings.Join(sets, ", ")))
	if err != nil {
		_ = tx.Rollback()
		return stats, err
	}
	defer update.Close()

	remaining := rows
	for len(remaining) > 0 {
		failedAt, err := insertUntilConflict(ctx, insert, fields, remaining)
		if err != nil {
			_ = tx.Rollback()
			return WriteStats{}, err
		}
		if failedAt < 0 {
			stats.Inserted += len(remaining)
			break
		}
		stats.Inserted += failedAt
		row := remaining[failedAt]
		args := append(rowArgs(fields, row), row.Timestamp.UnixMilli())
		if _, err := update.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return WriteStats{}, err
		}
		stats.Updated++
		remaining = remaining[failedAt+1:]
	}
	if err := tx.Commit(); err != nil {
		return WriteStats{}, err
	}
	s.invalidateKeys()
	if err := refreshManifest(ctx, db); err != nil {
		return stats, err
	}
	logger.Debugf("[store] %s upsert inserted=%d updated=%d", c.Key(), stats.Inserted, stats.Updated)
	return stats, nil
}

// insertUntilConflict 逐行插入，返回首个唯一索引冲突的下标；全部成功时返回 -1。
func insertUntilConflict(ctx context.Context, stmt *sql.Stmt, fields []string, rows []chart.Row) (int, error) {
	for i, r := range rows {
		args := append([]any{r.Timestamp.UnixMilli()}, rowArgs(fields, r)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			if isUniqueViolation(err) {
				return i, nil
			}
			return -1, err
		}
	}
	return -1, nil
}

func rowArgs(fields []string, r chart.Row) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		v := r.Get(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = nil
			continue
		}
		out[i] = v
	}
	return out
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(timestamp), 0) FROM series),
		    max_time = (SELECT COALESCE(MAX(timestamp), 0) FROM series),
		    rows = (SELECT COUNT(1) FROM series),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

// Manifest 返回集合统计；集合不存在时返回 ErrDataGap。
func (s *Store) Manifest(ctx context.Context, c *chart.Chart) (Manifest, error) {
	db, err := s.db(c, false)
	if err != nil {
		return Manifest{}, err
	}
	if db == nil {
		return Manifest{}, fmt.Errorf("%s: %w", c.Key(), repository.ErrDataGap)
	}
	row := db.QueryRowContext(ctx, `SELECT key,type,min_time,max_time,rows,last_sync_at FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Key, &m.Type, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = s.dbPath(c.Key())
	return m, nil
}

// Manifests 返回全部集合的统计（按键排序）。
func (s *Store) Manifests(ctx context.Context) ([]Manifest, error) {
	keys, err := s.ListCharts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Manifest, 0, len(keys))
	for _, key := range keys {
		c, err := chart.Parse(key)
		if err != nil {
			continue
		}
		m, err := s.Manifest(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) invalidateKeys() {
	s.keysMu.Lock()
	s.keys = nil
	s.keysMu.Unlock()
}

// ListCharts 返回全部集合键：扫描数据目录并读取每个文件 manifest 中记录的键。
func (s *Store) ListCharts(ctx context.Context) ([]string, error) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if s.keys != nil {
		return append([]string(nil), s.keys...), nil
	}
	paths, err := filepath.Glob(filepath.Join(s.root, "*.db"))
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, path := range paths {
		key, err := readManifestKey(ctx, path)
		if err != nil {
			logger.Warnf("[store] skip %s: %v", path, err)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	s.keys = append(make([]string, 0, len(keys)), keys...)
	return keys, nil
}

func readManifestKey(ctx context.Context, path string) (string, error) {
	db, err := openDB(path)
	if err != nil {
		return "", err
	}
	defer db.Close()
	var key string
	if err := db.QueryRowContext(ctx, `SELECT key FROM manifest WHERE id=1`).Scan(&key); err != nil {
		return "", err
	}
	return key, nil
}

// TimeWindow 返回集合最早与最晚的时间戳。
func (s *Store) TimeWindow(ctx context.Context, c *chart.Chart) (chart.Window, error) {
	m, err := s.Manifest(ctx, c)
	if err != nil {
		return chart.Window{}, err
	}
	if m.Rows == 0 {
		return chart.Window{}, fmt.Errorf("%s: %w", c.Key(), repository.ErrDataGap)
	}
	return chart.Window{From: time.UnixMilli(m.MinTime).UTC(), To: time.UnixMilli(m.MaxTime).UTC()}, nil
}

// Clean 删除整个集合文件。
func (s *Store) Clean(ctx context.Context, c *chart.Chart) error {
	key := c.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		if err := db.Close(); err != nil {
			return err
		}
		delete(s.dbs, key)
	}
	s.invalidateKeys()
	path := s.dbPath(key)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	logger.Infof("[store] cleaned %s", key)
	return nil
}

// GetLastPrice 取品种最细周期 K 线在 at 及之前的最后收盘价，并按意图叠加点差。
func (s *Store) GetLastPrice(ctx context.Context, symbol string, at *time.Time, intent repository.Intent) (float64, error) {
	keys, err := s.ListCharts(ctx)
	if err != nil {
		return 0, err
	}
	c, ok := repository.ResolvePriceChart(keys, symbol)
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, repository.ErrDataGap)
	}
	ov := chart.Overrides{}
	if at != nil {
		ov = chart.Last(1, *at)
	} else {
		one := 1
		ov.Count = &one
	}
	rows, err := s.ReadChart(ctx, c, ov)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%s at %v: %w", symbol, at, repository.ErrDataGap)
	}
	price, ok := repository.PriceFromRow(c, rows[0], s.GetSpread(symbol), intent)
	if !ok {
		return 0, fmt.Errorf("%s at %v: %w", symbol, at, repository.ErrDataGap)
	}
	return price, nil
}
