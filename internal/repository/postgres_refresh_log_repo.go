package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/feedreader/internal/model"
)

// refreshLogRow はrefresh_logsテーブルの1行。errorsはJSONBとして保存する。
type refreshLogRow struct {
	ID           string    `db:"id"`
	JobName      string    `db:"job_name"`
	Status       string    `db:"status"`
	TotalFeeds   int       `db:"total_feeds"`
	SuccessCount int       `db:"success_count"`
	ErrorCount   int       `db:"error_count"`
	Errors       []byte    `db:"errors"`
	ExecutedAt   time.Time `db:"executed_at"`
}

// PostgresRefreshLogRepo はPostgreSQLを使用したリフレッシュ監査ログリポジトリ。
type PostgresRefreshLogRepo struct {
	db *sqlx.DB
}

// NewPostgresRefreshLogRepo はPostgresRefreshLogRepoを生成する。
func NewPostgresRefreshLogRepo(db *sql.DB) *PostgresRefreshLogRepo {
	return &PostgresRefreshLogRepo{db: sqlx.NewDb(db, "postgres")}
}

// Record は監査ログを1件追加する。IDと実行日時が未設定の場合は補完する。
func (r *PostgresRefreshLogRepo) Record(ctx context.Context, log *model.RefreshLog) error {
	row, err := toRefreshLogRow(log)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx,
		`INSERT INTO refresh_logs
		 (id, job_name, status, total_feeds, success_count, error_count, errors, executed_at)
		 VALUES (:id, :job_name, :status, :total_feeds, :success_count, :error_count, :errors, :executed_at)`,
		row,
	)
	if err != nil {
		return fmt.Errorf("failed to record refresh log: %w", err)
	}
	log.ID = row.ID
	log.ExecutedAt = row.ExecutedAt
	return nil
}

// toRefreshLogRow はモデルをテーブル行に変換する。
func toRefreshLogRow(log *model.RefreshLog) (refreshLogRow, error) {
	errs := log.Errors
	if errs == nil {
		errs = []model.FeedError{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return refreshLogRow{}, fmt.Errorf("failed to encode refresh errors: %w", err)
	}

	row := refreshLogRow{
		ID:           log.ID,
		JobName:      log.JobName,
		Status:       string(log.Status),
		TotalFeeds:   log.TotalFeeds,
		SuccessCount: log.SuccessCount,
		ErrorCount:   log.ErrorCount,
		Errors:       data,
		ExecutedAt:   log.ExecutedAt,
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.ExecutedAt.IsZero() {
		row.ExecutedAt = time.Now()
	}
	return row, nil
}

// compile-time interface check
var _ RefreshLogRepository = (*PostgresRefreshLogRepo)(nil)
