package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lib/pq"

	"github.com/hitoshi/warren/internal/model"
	"github.com/hitoshi/warren/internal/repository"
)

// --- モック定義 ---

type mockCaseRepo struct {
	listFn         func(ctx context.Context) ([]repository.CaseRow, error)
	listByAuthorFn func(ctx context.Context, authorID string) ([]repository.CaseRow, error)
	findByIDFn     func(ctx context.Context, id string) (*repository.CaseRow, error)
	createFn       func(ctx context.Context, row *repository.CaseRow) (*repository.CaseRow, error)

	createCalls int
}

func (m *mockCaseRepo) List(ctx context.Context) ([]repository.CaseRow, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockCaseRepo) ListByAuthor(ctx context.Context, authorID string) ([]repository.CaseRow, error) {
	if m.listByAuthorFn != nil {
		return m.listByAuthorFn(ctx, authorID)
	}
	return nil, nil
}

func (m *mockCaseRepo) FindByID(ctx context.Context, id string) (*repository.CaseRow, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockCaseRepo) Create(ctx context.Context, row *repository.CaseRow) (*repository.CaseRow, error) {
	m.createCalls++
	if m.createFn != nil {
		return m.createFn(ctx, row)
	}
	saved := *row
	return &saved, nil
}

var _ repository.CaseRepository = (*mockCaseRepo)(nil)

const (
	authorID = "6f1c1a52-3b1e-4c55-9f4e-0a2b1c3d4e5f"
	caseID   = "0d7e4a8b-1111-4222-8333-944455566677"
)

func loreDraft() model.Draft {
	tmpl := model.CategoryLore.Template()
	content := make([]model.ContentEntry, len(tmpl.Fields))
	for i, f := range tmpl.Fields {
		content[i] = model.ContentEntry{Label: f.Label, Value: "value of " + f.Label}
	}
	return model.Draft{
		Category: model.CategoryLore,
		Title:    "The Bell Witch",
		Summary:  "A haunting in Tennessee",
		Tags:     []string{"tennessee", "haunting"},
		Content:  content,
	}
}

// --- テスト ---

func TestListCases_FillsMissingAuthor(t *testing.T) {
	repo := &mockCaseRepo{
		listFn: func(ctx context.Context) ([]repository.CaseRow, error) {
			return []repository.CaseRow{
				{
					ID: "a", Category: "lore", Title: "With author", AuthorID: "u1",
					Content:         []byte(`[{"label":"Title","value":"x"}]`),
					AuthorUsername:  sql.NullString{String: "nightowl", Valid: true},
					AuthorAvatarURL: sql.NullString{String: "https://example.com/n.png", Valid: true},
				},
				{ID: "b", Category: "conspiracy", Title: "Orphan", AuthorID: "u2", Content: []byte(`[]`)},
			}, nil
		},
	}
	svc := NewService(repo, nil, nil)

	got, err := svc.ListCases(context.Background())
	if err != nil {
		t.Fatalf("ListCases() error: %v", err)
	}

	wantAuthors := []model.CaseAuthor{
		{ID: "u1", DisplayName: "nightowl", AvatarURL: "https://example.com/n.png"},
		{ID: "u2", DisplayName: "Unknown", AvatarURL: "https://api.dicebear.com/7.x/avataaars/svg?seed=u2"},
	}
	var gotAuthors []model.CaseAuthor
	for _, c := range got {
		gotAuthors = append(gotAuthors, c.Author)
	}
	if diff := cmp.Diff(wantAuthors, gotAuthors); diff != "" {
		t.Errorf("authors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]model.ContentEntry{{Label: "Title", Value: "x"}}, got[0].Content); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}
	if got[1].Tags == nil {
		t.Error("Tags should be an empty slice, not nil")
	}
}

func TestListCases_SkipsMalformedRows(t *testing.T) {
	repo := &mockCaseRepo{
		listFn: func(ctx context.Context) ([]repository.CaseRow, error) {
			return []repository.CaseRow{
				{ID: "bad-category", Category: "ghost", Content: []byte(`[]`)},
				{ID: "bad-content", Category: "lore", Content: []byte(`{not json`)},
				{ID: "ok", Category: "lore", Content: []byte(`[]`)},
			}, nil
		},
	}
	got, err := NewService(repo, nil, nil).ListCases(context.Background())
	if err != nil {
		t.Fatalf("ListCases() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ok" {
		t.Errorf("ListCases() = %+v, want only the well-formed row", got)
	}
}

func TestListCases_RepositoryFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"postgres message verbatim", &pq.Error{Code: "42P01", Message: `relation "cases" does not exist`}, `relation "cases" does not exist`},
		{"wrapped postgres error", fmt.Errorf("failed to list cases: %w", &pq.Error{Message: "permission denied for table cases"}), "permission denied for table cases"},
		{"network failure", errors.New("dial tcp: connection refused"), networkErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCaseRepo{
				listFn: func(ctx context.Context) ([]repository.CaseRow, error) { return nil, tt.err },
			}
			_, err := NewService(repo, nil, nil).ListCases(context.Background())
			apiErr, ok := model.AsAPIError(err)
			if !ok || apiErr.Category != model.ErrCategoryRepository {
				t.Fatalf("error = %v, want repository error", err)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestGetCase_AbsentAndMalformed(t *testing.T) {
	var lookups int
	repo := &mockCaseRepo{
		findByIDFn: func(ctx context.Context, id string) (*repository.CaseRow, error) {
			lookups++
			return nil, nil
		},
	}
	svc := NewService(repo, nil, nil)

	got, err := svc.GetCase(context.Background(), "does-not-exist")
	if err != nil || got != nil {
		t.Errorf("GetCase(malformed) = %v, %v; want nil, nil", got, err)
	}
	if lookups != 0 {
		t.Error("malformed id should not reach the repository")
	}

	got, err = svc.GetCase(context.Background(), caseID)
	if err != nil || got != nil {
		t.Errorf("GetCase(absent) = %v, %v; want nil, nil", got, err)
	}
}

func TestGetCasesByAuthor_PassesAuthor(t *testing.T) {
	var gotAuthor string
	repo := &mockCaseRepo{
		listByAuthorFn: func(ctx context.Context, id string) ([]repository.CaseRow, error) {
			gotAuthor = id
			return []repository.CaseRow{{ID: "x", Category: "true-crime", AuthorID: id, Content: []byte(`[]`)}}, nil
		},
	}
	got, err := NewService(repo, nil, nil).GetCasesByAuthor(context.Background(), authorID)
	if err != nil || len(got) != 1 {
		t.Fatalf("GetCasesByAuthor() = %v, %v", got, err)
	}
	if gotAuthor != authorID {
		t.Errorf("author = %q, want %q", gotAuthor, authorID)
	}
}

func TestCreateCase_NoAuthorIsPermissionError(t *testing.T) {
	repo := &mockCaseRepo{}
	_, err := NewService(repo, nil, nil).CreateCase(context.Background(), "", loreDraft())

	if !model.IsCategory(err, model.ErrCategoryPermission) {
		t.Errorf("error = %v, want permission error", err)
	}
	if repo.createCalls != 0 {
		t.Error("repository must not be called without an author")
	}
}

func TestCreateCase_Success(t *testing.T) {
	var stored *repository.CaseRow
	repo := &mockCaseRepo{
		createFn: func(ctx context.Context, row *repository.CaseRow) (*repository.CaseRow, error) {
			stored = row
			saved := *row
			saved.AuthorUsername = sql.NullString{String: "alice", Valid: true}
			return &saved, nil
		},
	}
	svc := NewService(repo, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	draft := loreDraft()
	draft.Title = "<b>The Bell Witch</b>"
	draft.Tags = []string{"tennessee", "<i></i>", "haunting"}

	got, err := svc.CreateCase(context.Background(), authorID, draft)
	if err != nil {
		t.Fatalf("CreateCase() error: %v", err)
	}

	if stored.Category != "lore" || stored.AuthorID != authorID {
		t.Errorf("stored row = %+v", stored)
	}
	if got.Title != "The Bell Witch" {
		t.Errorf("Title = %q, want markup stripped", got.Title)
	}
	if diff := cmp.Diff([]string{"tennessee", "haunting"}, got.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(loreDraft().Content, got.Content); diff != "" {
		t.Errorf("content order mismatch (-want +got):\n%s", diff)
	}
	if got.Author.DisplayName != "alice" || !got.CreatedAt.Equal(svc.now()) {
		t.Errorf("created case = %+v", got)
	}
}

func TestCreateCase_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Draft)
		want   string
	}{
		{"unknown category", func(d *model.Draft) { d.Category = model.Category(42) }, "Unknown case category"},
		{"blank title", func(d *model.Draft) { d.Title = "   " }, "Title is required"},
		{"markup-only title", func(d *model.Draft) { d.Title = "<script>x</script>" }, "Title is required"},
		{"missing field", func(d *model.Draft) { d.Content = d.Content[:3] }, "Content fields do not match"},
		{"wrong template", func(d *model.Draft) { d.Category = model.CategoryConspiracy }, "Content fields do not match the Conspiracy template"},
		{"too many tags", func(d *model.Draft) {
			d.Tags = strings.Split("a,b,c,d,e,f,g,h,i,j,k", ",")
		}, "At most 10 tags"},
		{"long tag", func(d *model.Draft) { d.Tags = []string{strings.Repeat("x", MaxTagLength+1)} }, "must be at most 40 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCaseRepo{}
			draft := loreDraft()
			tt.mutate(&draft)

			_, err := NewService(repo, nil, nil).CreateCase(context.Background(), authorID, draft)
			apiErr, ok := model.AsAPIError(err)
			if !ok || apiErr.Category != model.ErrCategoryValidation {
				t.Fatalf("error = %v, want validation error", err)
			}
			if !strings.Contains(apiErr.Message, tt.want) {
				t.Errorf("Message = %q, want to contain %q", apiErr.Message, tt.want)
			}
			if repo.createCalls != 0 {
				t.Error("repository must not be called for invalid drafts")
			}
		})
	}
}

func TestCreateCase_RepositoryMessageVerbatim(t *testing.T) {
	repo := &mockCaseRepo{
		createFn: func(ctx context.Context, row *repository.CaseRow) (*repository.CaseRow, error) {
			return nil, fmt.Errorf("failed to create case: %w", &pq.Error{
				Code:    "23503",
				Message: `insert or update on table "cases" violates foreign key constraint "cases_author_id_fkey"`,
			})
		},
	}
	_, err := NewService(repo, nil, nil).CreateCase(context.Background(), authorID, loreDraft())
	apiErr, ok := model.AsAPIError(err)
	if !ok || apiErr.Category != model.ErrCategoryRepository {
		t.Fatalf("error = %v, want repository error", err)
	}
	if !strings.HasPrefix(apiErr.Message, `insert or update on table "cases"`) {
		t.Errorf("Message = %q", apiErr.Message)
	}
}
