// Package cases はケースの取得・作成を行うリポジトリアダプタを提供する。
//
// 永続化層から取得した行（repository.CaseRow）は取得直後にここで1回だけ
// model.Caseへ変換し、ビュー層はmodel.Caseだけを扱う。
package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/warren/internal/metrics"
	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/repository"
	"github.com/hitoshi/warren/internal/security"
)

// 入力値の上限
const (
	MaxTitleLength = 200
	MaxValueLength = 10000
	MaxTags        = 10
	MaxTagLength   = 40
)

// networkErrorMessage はデータベースがメッセージを返さなかった場合に表示するメッセージ。
const networkErrorMessage = "Network error: could not reach the case database"

// Service はケースの取得と作成を提供する。
type Service struct {
	repo      repository.CaseRepository
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.CaseRepository, sanitizer security.TextSanitizer, m metrics.MetricsCollector) *Service {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   m,
		now:       time.Now,
	}
}

// ListCases は全ケースを新しい順に返す。
func (s *Service) ListCases(ctx context.Context) ([]model.Case, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, repositoryError("list cases", err)
	}
	return convertRows(rows), nil
}

// GetCasesByAuthor は指定ユーザーのケースを新しい順に返す。
func (s *Service) GetCasesByAuthor(ctx context.Context, authorID string) ([]model.Case, error) {
	if _, err := uuid.Parse(authorID); err != nil {
		return []model.Case{}, nil
	}
	rows, err := s.repo.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, repositoryError("list cases by author", err)
	}
	return convertRows(rows), nil
}

// GetCase は指定IDのケースを返す。存在しない場合や形式が不正なIDの場合はnilを返す。
func (s *Service) GetCase(ctx context.Context, id string) (*model.Case, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, repositoryError("get case", err)
	}
	if row == nil {
		return nil, nil
	}
	c, err := toCase(*row)
	if err != nil {
		slog.Error("failed to convert case",
			slog.String("case_id", id),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return &c, nil
}

// CreateCase はケースを作成する。
// 投稿者がいない場合はストレージに触れずにPermissionErrorを返す。
// 入力が不正な場合はValidationError、保存に失敗した場合はデータベースが報告した
// メッセージをそのまま持つRepositoryErrorを返す。
func (s *Service) CreateCase(ctx context.Context, authorID string, draft model.Draft) (*model.Case, error) {
	if authorID == "" {
		s.metrics.RecordCaseCreateFailure("permission")
		return nil, model.NewPermissionError()
	}

	clean := s.sanitizeDraft(draft)
	if err := validateDraft(clean); err != nil {
		s.metrics.RecordCaseCreateFailure("validation")
		return nil, err
	}

	content, err := encodeContent(clean.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}

	row := &repository.CaseRow{
		ID:        uuid.New().String(),
		Category:  clean.Category.String(),
		Title:     clean.Title,
		Summary:   clean.Summary,
		Tags:      clean.Tags,
		Content:   content,
		AuthorID:  authorID,
		CreatedAt: s.now().UTC(),
	}

	saved, err := s.repo.Create(ctx, row)
	if err != nil {
		s.metrics.RecordCaseCreateFailure("repository")
		return nil, repositoryError("create case", err)
	}

	c, err := toCase(*saved)
	if err != nil {
		return nil, fmt.Errorf("failed to convert created case: %w", err)
	}
	s.metrics.RecordCaseCreated(c.Category.String())
	slog.Info("case created",
		slog.String("case_id", c.ID),
		slog.String("user_id", authorID),
		slog.String("category", c.Category.String()),
	)
	return &c, nil
}

// sanitizeDraft はユーザー入力からマークアップを取り除いた下書きを返す。
// 空になったタグは取り除く。
func (s *Service) sanitizeDraft(d model.Draft) model.Draft {
	out := model.Draft{
		Category: d.Category,
		Title:    s.sanitizer.Sanitize(d.Title),
		Summary:  s.sanitizer.Sanitize(d.Summary),
		Tags:     make([]string, 0, len(d.Tags)),
		Content:  make([]model.ContentEntry, len(d.Content)),
		AuthorID: d.AuthorID,
	}
	for _, tag := range d.Tags {
		if t := s.sanitizer.Sanitize(tag); t != "" {
			out.Tags = append(out.Tags, t)
		}
	}
	for i, e := range d.Content {
		out.Content[i] = model.ContentEntry{Label: e.Label, Value: s.sanitizer.Sanitize(e.Value)}
	}
	return out
}

// validateDraft は下書きを検証し、全ての問題をまとめたValidationErrorを返す。
// 本文のラベルはカテゴリのテンプレートの項目と順序まで一致しなければならない。
func validateDraft(d model.Draft) error {
	var reasons []string

	if !d.Category.Valid() {
		return model.NewValidationError("Unknown case category")
	}
	tmpl := d.Category.Template()

	if strings.TrimSpace(d.Title) == "" {
		reasons = append(reasons, "Title is required")
	} else if utf8.RuneCountInString(d.Title) > MaxTitleLength {
		reasons = append(reasons, fmt.Sprintf("Title must be at most %d characters", MaxTitleLength))
	}
	if utf8.RuneCountInString(d.Summary) > MaxValueLength {
		reasons = append(reasons, fmt.Sprintf("Summary must be at most %d characters", MaxValueLength))
	}

	if len(d.Tags) > MaxTags {
		reasons = append(reasons, fmt.Sprintf("At most %d tags are allowed", MaxTags))
	}
	for _, tag := range d.Tags {
		if utf8.RuneCountInString(tag) > MaxTagLength {
			reasons = append(reasons, fmt.Sprintf("Tag %q must be at most %d characters", tag, MaxTagLength))
		}
	}

	if !contentMatchesTemplate(d.Content, tmpl) {
		reasons = append(reasons, fmt.Sprintf("Content fields do not match the %s template", tmpl.Label))
	}
	for _, e := range d.Content {
		if utf8.RuneCountInString(e.Value) > MaxValueLength {
			reasons = append(reasons, fmt.Sprintf("%s must be at most %d characters", e.Label, MaxValueLength))
		}
	}

	if len(reasons) > 0 {
		return model.NewValidationError(reasons...)
	}
	return nil
}

func contentMatchesTemplate(content []model.ContentEntry, tmpl model.Template) bool {
	if len(content) != len(tmpl.Fields) {
		return false
	}
	for i, f := range tmpl.Fields {
		if content[i].Label != f.Label {
			return false
		}
	}
	return true
}

// convertRows は行をドメインモデルに変換する。変換できない行はログに残して除外し、
// 一部のデータ不備で一覧全体の表示を妨げない。
func convertRows(rows []repository.CaseRow) []model.Case {
	out := make([]model.Case, 0, len(rows))
	for _, row := range rows {
		c, err := toCase(row)
		if err != nil {
			slog.Error("skipping malformed case",
				slog.String("case_id", row.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, c)
	}
	return out
}

// repositoryError はストレージのエラーをRepositoryErrorに変換する。
// PostgreSQLが返したメッセージはそのまま利用者に表示する。
func repositoryError(op string, err error) error {
	slog.Error("case repository failure",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return model.NewRepositoryError(pqErr.Message)
	}
	return model.NewRepositoryError(networkErrorMessage)
}
