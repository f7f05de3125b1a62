// Package cleanup は期限切れの認証データの自動削除ジョブを提供する。
// 期限切れのセッションは削除と同時にwarren_authチャネルへ失効を通知し、
// 稼働中の全サーバーのセッションストアからキャッシュを取り除かせる。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/warren/internal/metrics"
	"github.com/hitoshi/warren/internal/repository"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// 削除したセッションごとにpg_notifyを発行する。通知は文のコミット時に配信される。
const deleteExpiredSessionsQuery = `
WITH deleted AS (
    DELETE FROM sessions WHERE expires_at < $1 RETURNING id
)
SELECT pg_notify($2, 'session:' || id) FROM deleted`

const deleteExpiredConfirmationsQuery = `DELETE FROM email_confirmations WHERE expires_at < $1`

// CleanupJob は期限切れのセッションとメールアドレス確認トークンの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		db:      db,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run は期限切れのセッションと確認トークンを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now().UTC()

	sessions, err := j.exec(ctx, deleteExpiredSessionsQuery, now, repository.AuthEventsChannel)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	confirmations, err := j.exec(ctx, deleteExpiredConfirmationsQuery, now)
	if err != nil {
		j.logger.Error("期限切れ確認トークンの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired confirmations: %w", err)
	}

	j.metrics.RecordCleanup(sessions, confirmations)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_confirmations", confirmations),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxが終了するまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
