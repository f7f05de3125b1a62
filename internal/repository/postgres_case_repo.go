package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresCaseRepo はPostgreSQLを使用したケースリポジトリ。
type PostgresCaseRepo struct {
	db *sql.DB
}

// NewPostgresCaseRepo はPostgresCaseRepoを生成する。
func NewPostgresCaseRepo(db *sql.DB) *PostgresCaseRepo {
	return &PostgresCaseRepo{db: db}
}

// caseSelect は投稿者プロフィールをLEFT JOINしたケース取得クエリ。
// プロフィールが存在しない行も返すため、投稿者列はNULLになり得る。
const caseSelect = `SELECT c.id, c.category, c.title, c.summary, c.tags, c.content,
		c.author_id, c.created_at, p.username, p.avatar_url
	 FROM cases c
	 LEFT JOIN profiles p ON p.user_id = c.author_id`

func scanCaseRow(row interface{ Scan(...any) error }) (*CaseRow, error) {
	r := &CaseRow{}
	err := row.Scan(
		&r.ID, &r.Category, &r.Title, &r.Summary, pq.Array(&r.Tags), &r.Content,
		&r.AuthorID, &r.CreatedAt, &r.AuthorUsername, &r.AuthorAvatarURL,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// List は全ケースをcreated_at降順で返す。
func (r *PostgresCaseRepo) List(ctx context.Context) ([]CaseRow, error) {
	return r.query(ctx, caseSelect+` ORDER BY c.created_at DESC, c.id`)
}

// ListByAuthor は指定ユーザーのケースをcreated_at降順で返す。
func (r *PostgresCaseRepo) ListByAuthor(ctx context.Context, authorID string) ([]CaseRow, error) {
	return r.query(ctx, caseSelect+` WHERE c.author_id = $1 ORDER BY c.created_at DESC, c.id`, authorID)
}

func (r *PostgresCaseRepo) query(ctx context.Context, query string, args ...any) ([]CaseRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var out []CaseRow
	for rows.Next() {
		row, err := scanCaseRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cases: %w", err)
	}
	return out, nil
}

// FindByID は指定IDのケースを取得する。見つからない場合はnilを返す。
func (r *PostgresCaseRepo) FindByID(ctx context.Context, id string) (*CaseRow, error) {
	row, err := scanCaseRow(r.db.QueryRowContext(ctx, caseSelect+` WHERE c.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find case: %w", err)
	}
	return row, nil
}

// Create はケースを作成し、投稿者情報を結合した保存済みの行を返す。
// 投稿者のプロフィールは同一クエリ内で解決する。
func (r *PostgresCaseRepo) Create(ctx context.Context, in *CaseRow) (*CaseRow, error) {
	row, err := scanCaseRow(r.db.QueryRowContext(ctx,
		`WITH inserted AS (
			INSERT INTO cases (id, category, title, summary, tags, content, author_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, category, title, summary, tags, content, author_id, created_at
		 )
		 SELECT c.id, c.category, c.title, c.summary, c.tags, c.content,
			c.author_id, c.created_at, p.username, p.avatar_url
		 FROM inserted c
		 LEFT JOIN profiles p ON p.user_id = c.author_id`,
		in.ID, in.Category, in.Title, in.Summary, pq.Array(in.Tags), in.Content, in.AuthorID, in.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}
	return row, nil
}

// compile-time interface check
var _ CaseRepository = (*PostgresCaseRepo)(nil)
