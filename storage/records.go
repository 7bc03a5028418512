package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/auditmos/devlogger/logging"
)

// ErrorTypeStorage classifies database failures returned by this package.
const ErrorTypeStorage = "StorageError"

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return logging.WrapErrorWithType(op, err, ErrorTypeStorage)
}

var (
	ErrNotFound      = errors.New("log record not found")
	ErrInvalidLevel  = errors.New("invalid log level")
	ErrInvalidStatus = errors.New("invalid log status")
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusClosed
}

// LogRecord is one persisted log entry.
type LogRecord struct {
	ID             int64      `json:"id"`
	Level          string     `json:"level"`
	Queue          *string    `json:"queue"`
	Message        string     `json:"message"`
	Context        JSONMap    `json:"context"`
	FilePath       *string    `json:"file_path"`
	LineNumber     *int       `json:"line_number"`
	ExceptionClass *string    `json:"exception_class"`
	StackTrace     *string    `json:"stack_trace"`
	RequestURL     *string    `json:"request_url"`
	RequestMethod  *string    `json:"request_method"`
	UserID         *int64     `json:"user_id"`
	IPAddress      *string    `json:"ip_address"`
	UserAgent      *string    `json:"user_agent"`
	Status         Status     `json:"status"`
	Tags           Tags       `json:"tags"`
	UpdatedBy      *int64     `json:"updated_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at"`
}

// ListFilter narrows List and Count. Zero values mean "any".
type ListFilter struct {
	Level          string
	Status         Status
	Queue          string
	ExceptionClass string
	Tag            string
	UserID         *int64
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	WithDeleted    bool
	Limit          int
	Offset         int
}

type RecordRepo interface {
	Insert(ctx context.Context, rec *LogRecord) error
	Get(ctx context.Context, id int64) (*LogRecord, error)
	GetWithDeleted(ctx context.Context, id int64) (*LogRecord, error)
	List(ctx context.Context, filter ListFilter) ([]*LogRecord, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
	MarkClosed(ctx context.Context, id, actorID int64) error
	MarkOpen(ctx context.Context, id int64) error
	AddTags(ctx context.Context, id int64, tags ...string) (Tags, error)
	RemoveTags(ctx context.Context, id int64, tags ...string) (Tags, error)
	Delete(ctx context.Context, id int64) error
	ForceDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
	Prune(ctx context.Context, olderThan time.Time, hard bool) (int64, error)
}

var _ RecordRepo = (*SQLiteRecordRepo)(nil)

// dbRecord is a LogRecord as stored: nullable columns and unix-ms times.
type dbRecord struct {
	ID             int64          `db:"id"`
	Level          string         `db:"level"`
	Queue          sql.NullString `db:"queue"`
	Message        string         `db:"message"`
	Context        JSONMap        `db:"context"`
	FilePath       sql.NullString `db:"file_path"`
	LineNumber     sql.NullInt64  `db:"line_number"`
	ExceptionClass sql.NullString `db:"exception_class"`
	StackTrace     sql.NullString `db:"stack_trace"`
	RequestURL     sql.NullString `db:"request_url"`
	RequestMethod  sql.NullString `db:"request_method"`
	UserID         sql.NullInt64  `db:"user_id"`
	IPAddress      sql.NullString `db:"ip_address"`
	UserAgent      sql.NullString `db:"user_agent"`
	Status         string         `db:"status"`
	Tags           Tags           `db:"tags"`
	UpdatedBy      sql.NullInt64  `db:"updated_by"`
	CreatedAt      int64          `db:"created_at"`
	UpdatedAt      int64          `db:"updated_at"`
	DeletedAt      sql.NullInt64  `db:"deleted_at"`
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromDomainRecord(rec *LogRecord) *dbRecord {
	row := &dbRecord{
		ID:             rec.ID,
		Level:          rec.Level,
		Queue:          nullString(rec.Queue),
		Message:        rec.Message,
		Context:        rec.Context,
		FilePath:       nullString(rec.FilePath),
		ExceptionClass: nullString(rec.ExceptionClass),
		StackTrace:     nullString(rec.StackTrace),
		RequestURL:     nullString(rec.RequestURL),
		RequestMethod:  nullString(rec.RequestMethod),
		UserID:         nullInt64(rec.UserID),
		IPAddress:      nullString(rec.IPAddress),
		UserAgent:      nullString(rec.UserAgent),
		Status:         string(rec.Status),
		Tags:           rec.Tags,
		UpdatedBy:      nullInt64(rec.UpdatedBy),
		CreatedAt:      rec.CreatedAt.UnixMilli(),
		UpdatedAt:      rec.UpdatedAt.UnixMilli(),
	}
	if rec.LineNumber != nil {
		row.LineNumber = sql.NullInt64{Int64: int64(*rec.LineNumber), Valid: true}
	}
	if rec.DeletedAt != nil {
		row.DeletedAt = sql.NullInt64{Int64: rec.DeletedAt.UnixMilli(), Valid: true}
	}
	return row
}

func toDomainRecord(row *dbRecord) *LogRecord {
	rec := &LogRecord{
		ID:             row.ID,
		Level:          row.Level,
		Queue:          stringPtr(row.Queue),
		Message:        row.Message,
		Context:        row.Context,
		FilePath:       stringPtr(row.FilePath),
		ExceptionClass: stringPtr(row.ExceptionClass),
		StackTrace:     stringPtr(row.StackTrace),
		RequestURL:     stringPtr(row.RequestURL),
		RequestMethod:  stringPtr(row.RequestMethod),
		UserID:         int64Ptr(row.UserID),
		IPAddress:      stringPtr(row.IPAddress),
		UserAgent:      stringPtr(row.UserAgent),
		Status:         Status(row.Status),
		Tags:           row.Tags,
		UpdatedBy:      int64Ptr(row.UpdatedBy),
		CreatedAt:      fromMillis(row.CreatedAt),
		UpdatedAt:      fromMillis(row.UpdatedAt),
	}
	if row.LineNumber.Valid {
		n := int(row.LineNumber.Int64)
		rec.LineNumber = &n
	}
	if row.DeletedAt.Valid {
		t := fromMillis(row.DeletedAt.Int64)
		rec.DeletedAt = &t
	}
	return rec
}

type SQLiteRecordRepo struct {
	db    *sqlx.DB
	table string
	now   func() time.Time
}

// NewSQLiteRecordRepo returns a repo over table, which must already be
// migrated (see OpenDB). An empty table means DefaultTable.
func NewSQLiteRecordRepo(db *sqlx.DB, table string) *SQLiteRecordRepo {
	if table == "" {
		table = DefaultTable
	}
	return &SQLiteRecordRepo{db: db, table: table, now: time.Now}
}

// Insert validates and stores rec, filling in ID, status and timestamps.
// A preset CreatedAt is kept.
func (r *SQLiteRecordRepo) Insert(ctx context.Context, rec *LogRecord) error {
	if l, ok := logging.LookupLevel(rec.Level); !ok || l.String() != rec.Level {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, rec.Level)
	}
	if rec.Status == "" {
		rec.Status = StatusOpen
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, rec.Status)
	}

	now := r.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	query := fmt.Sprintf(`INSERT INTO %s (level, queue, message, context, file_path, line_number,
		exception_class, stack_trace, request_url, request_method, user_id, ip_address, user_agent,
		status, tags, updated_by, created_at, updated_at, deleted_at)
		VALUES (:level, :queue, :message, :context, :file_path, :line_number,
		:exception_class, :stack_trace, :request_url, :request_method, :user_id, :ip_address, :user_agent,
		:status, :tags, :updated_by, :created_at, :updated_at, :deleted_at)`, r.table)

	res, err := r.db.NamedExecContext(ctx, query, fromDomainRecord(rec))
	if err != nil {
		return storageError("insert log record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageError("insert log record id", err)
	}
	rec.ID = id
	rec.CreatedAt = fromMillis(rec.CreatedAt.UnixMilli())
	rec.UpdatedAt = fromMillis(rec.UpdatedAt.UnixMilli())
	return nil
}

func (r *SQLiteRecordRepo) get(ctx context.Context, id int64, withDeleted bool) (*LogRecord, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = ?`, r.table)
	if !withDeleted {
		query += ` AND deleted_at IS NULL`
	}

	var row dbRecord
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError(fmt.Sprintf("get log record %d", id), err)
	}
	return toDomainRecord(&row), nil
}

// Get returns a live record; soft-deleted records are ErrNotFound.
func (r *SQLiteRecordRepo) Get(ctx context.Context, id int64) (*LogRecord, error) {
	return r.get(ctx, id, false)
}

func (r *SQLiteRecordRepo) GetWithDeleted(ctx context.Context, id int64) (*LogRecord, error) {
	return r.get(ctx, id, true)
}

func (f ListFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if !f.WithDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if f.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, f.Level)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Queue != "" {
		conds = append(conds, "queue = ?")
		args = append(args, f.Queue)
	}
	if f.ExceptionClass != "" {
		conds = append(conds, "exception_class = ?")
		args = append(args, f.ExceptionClass)
	}
	if f.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(tags) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}
	if f.UserID != nil {
		conds = append(conds, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if !f.CreatedAfter.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.CreatedAfter.UnixMilli())
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, f.CreatedBefore.UnixMilli())
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns matching records, newest first.
func (r *SQLiteRecordRepo) List(ctx context.Context, filter ListFilter) ([]*LogRecord, error) {
	where, args := filter.where()
	query := fmt.Sprintf(`SELECT * FROM %s%s ORDER BY created_at DESC, id DESC`, r.table, where)

	limit := filter.Limit
	if limit <= 0 && filter.Offset > 0 {
		limit = -1
	}
	if limit != 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	var rows []dbRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageError("list log records", err)
	}

	records := make([]*LogRecord, len(rows))
	for i := range rows {
		records[i] = toDomainRecord(&rows[i])
	}
	return records, nil
}

func (r *SQLiteRecordRepo) Count(ctx context.Context, filter ListFilter) (int64, error) {
	where, args := filter.where()
	var n int64
	err := r.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, r.table, where), args...)
	if err != nil {
		return 0, storageError("count log records", err)
	}
	return n, nil
}

// update runs a single-row UPDATE on a live record and maps "no row" to
// ErrNotFound.
func (r *SQLiteRecordRepo) update(ctx context.Context, op string, id int64, set string, args ...interface{}) error {
	query := fmt.Sprintf(`UPDATE %s SET %s, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, r.table, set)
	args = append(args, r.now().UnixMilli(), id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageError(fmt.Sprintf("%s %d", op, id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageError(fmt.Sprintf("%s %d", op, id), err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRecordRepo) MarkClosed(ctx context.Context, id, actorID int64) error {
	return r.update(ctx, "close log record", id, "status = ?, updated_by = ?", string(StatusClosed), actorID)
}

func (r *SQLiteRecordRepo) MarkOpen(ctx context.Context, id int64) error {
	return r.update(ctx, "open log record", id, "status = ?, updated_by = NULL", string(StatusOpen))
}

func (r *SQLiteRecordRepo) AddTags(ctx context.Context, id int64, tags ...string) (Tags, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := rec.Tags.Add(tags...)
	if err := r.update(ctx, "tag log record", id, "tags = ?", next); err != nil {
		return nil, err
	}
	return next, nil
}

func (r *SQLiteRecordRepo) RemoveTags(ctx context.Context, id int64, tags ...string) (Tags, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := rec.Tags.Remove(tags...)
	if err := r.update(ctx, "untag log record", id, "tags = ?", next); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete soft-deletes a record.
func (r *SQLiteRecordRepo) Delete(ctx context.Context, id int64) error {
	return r.update(ctx, "delete log record", id, "deleted_at = ?", r.now().UnixMilli())
}

func (r *SQLiteRecordRepo) ForceDelete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, r.table), id)
	if err != nil {
		return storageError(fmt.Sprintf("force delete log record %d", id), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRecordRepo) Restore(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = NULL, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL`, r.table)
	res, err := r.db.ExecContext(ctx, query, r.now().UnixMilli(), id)
	if err != nil {
		return storageError(fmt.Sprintf("restore log record %d", id), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune removes live records created strictly before olderThan and returns
// how many were removed. Soft-deleted records are not counted again, so a
// second run over the same data removes nothing. With hard set, rows are
// deleted outright, including ones soft-deleted earlier.
func (r *SQLiteRecordRepo) Prune(ctx context.Context, olderThan time.Time, hard bool) (int64, error) {
	var (
		res sql.Result
		err error
	)
	cutoff := olderThan.UnixMilli()
	if hard {
		res, err = r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, r.table), cutoff)
	} else {
		query := fmt.Sprintf(`UPDATE %s SET deleted_at = ? WHERE created_at < ? AND deleted_at IS NULL`, r.table)
		res, err = r.db.ExecContext(ctx, query, r.now().UnixMilli(), cutoff)
	}
	if err != nil {
		return 0, storageError("prune log records", err)
	}
	return res.RowsAffected()
}
