package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "Nexus-Chain/internal/errors"
)

const memoryJournalCapacity = 512

// CompletionRecord 记录监听器对一个补全请求事件的处理结果。
type CompletionRecord struct {
	ID          string `json:"id"`
	TxDigest    string `json:"tx_digest"`
	EventSeq    string `json:"event_seq"`
	ExecutionID string `json:"execution_id"`
	ModelName   string `json:"model_name"`
	Tool        string `json:"tool,omitempty"`
	Outcome     string `json:"outcome"`
	Digest      string `json:"digest,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Journal 抽象补全记录的持久化接口。
type Journal interface {
	Record(ctx context.Context, record CompletionRecord) error
	ListLatest(ctx context.Context, limit int) ([]CompletionRecord, error)
	Close() error
}

// prepare 填充缺省的 ID 与时间戳。
func (r *CompletionRecord) prepare() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
}

// Open 根据驱动名创建日志实现：memory 写入 dataDir 下的 completions.log，mysql 连接数据库并执行迁移。
func Open(ctx context.Context, driver string, dataDir string, cfg Config) (Journal, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory", "file":
		journal, err := NewFileJournal(dataDir)
		if err != nil {
			return nil, err
		}
		return journal, nil
	case "mysql":
		journal, err := NewSQLJournal(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return journal, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, "暂不支持的日志存储驱动",
			xerrors.WithMetadata("driver", driver))
	}
}

// FileJournal 以 JSON 行追加写本地文件，并在内存中保留最近的记录。
type FileJournal struct {
	mu       sync.RWMutex
	dataFile string
	records  []CompletionRecord
}

// NewFileJournal 创建文件日志并恢复已有记录。
func NewFileJournal(dataDir string) (*FileJournal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	journal := &FileJournal{dataFile: filepath.Join(dataDir, "completions.log")}
	if err := journal.loadFromDisk(); err != nil {
		return nil, err
	}
	return journal, nil
}

// Record 追加一条记录。
func (m *FileJournal) Record(_ context.Context, record CompletionRecord) error {
	record.prepare()

	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开补全日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化补全记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入补全日志失败")
	}

	m.records = append([]CompletionRecord{record}, m.records...)
	if len(m.records) > memoryJournalCapacity {
		m.records = m.records[:memoryJournalCapacity]
	}
	return nil
}

// ListLatest 按写入时间倒序返回记录。
func (m *FileJournal) ListLatest(_ context.Context, limit int) ([]CompletionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]CompletionRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 文件日志无需释放资源。
func (m *FileJournal) Close() error { return nil }

func (m *FileJournal) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取补全日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []CompletionRecord
	for scanner.Scan() {
		var record CompletionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]CompletionRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析补全日志失败")
	}
	if len(restored) > memoryJournalCapacity {
		restored = restored[:memoryJournalCapacity]
	}
	m.records = restored
	return nil
}

// SQLJournal 使用 MySQL 保存补全记录。
type SQLJournal struct {
	db *sql.DB
}

// NewSQLJournal 建立连接池并执行嵌入的迁移。
func NewSQLJournal(ctx context.Context, cfg Config) (*SQLJournal, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化补全日志失败")
	}
	journal := &SQLJournal{db: db}
	if err := journal.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return journal, nil
}

const insertCompletionSQL = `INSERT INTO completions
        (id, tx_digest, event_seq, execution_id, model_name, tool, outcome, digest, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectCompletionsSQL = `SELECT id, tx_digest, event_seq, execution_id, model_name, tool, outcome, digest, error, created_at
        FROM completions ORDER BY created_at DESC, id DESC LIMIT ?`

// Record 写入一条记录。
func (s *SQLJournal) Record(ctx context.Context, record CompletionRecord) error {
	record.prepare()
	if _, err := s.db.ExecContext(ctx, insertCompletionSQL,
		record.ID,
		record.TxDigest,
		record.EventSeq,
		record.ExecutionID,
		record.ModelName,
		record.Tool,
		record.Outcome,
		record.Digest,
		record.Error,
		record.CreatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入补全记录失败")
	}
	return nil
}

// ListLatest 查询最近的若干条记录。
func (s *SQLJournal) ListLatest(ctx context.Context, limit int) ([]CompletionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, selectCompletionsSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询补全记录失败")
	}
	defer rows.Close()

	var records []CompletionRecord
	for rows.Next() {
		var (
			record  CompletionRecord
			errText sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.TxDigest, &record.EventSeq, &record.ExecutionID,
			&record.ModelName, &record.Tool, &record.Outcome, &record.Digest, &errText, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析补全记录失败")
		}
		record.Error = errText.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历补全记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLJournal) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
