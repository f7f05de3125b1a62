package detail

import (
	"context"
	"net/url"
	"testing"

	"github.com/hitoshi/warren/internal/feed"
	"github.com/hitoshi/warren/internal/model"
)

// --- モック定義 ---

type mockGetter struct {
	calls     int
	getCaseFn func(ctx context.Context, id string) (*model.Case, error)
}

func (m *mockGetter) GetCase(ctx context.Context, id string) (*model.Case, error) {
	m.calls++
	if m.getCaseFn != nil {
		return m.getCaseFn(ctx, id)
	}
	return nil, nil
}

type mockViews struct {
	views map[string]feed.View
}

func (m *mockViews) Get(owner, id string) (feed.View, bool) {
	v, ok := m.views[owner+"/"+id]
	return v, ok
}

var (
	_ Getter     = (*mockGetter)(nil)
	_ ViewSource = (*mockViews)(nil)
)

func TestResolver_PrefersReadyView(t *testing.T) {
	getter := &mockGetter{}
	views := &mockViews{views: map[string]feed.View{
		"u1/v1": {ID: "v1", State: feed.StateReady, Cases: []model.Case{{ID: "c1", Title: "From view"}}},
	}}
	r := NewResolver(getter, views)

	got, err := r.Resolve(context.Background(), "u1", "v1", "c1")
	if err != nil || got == nil || got.Title != "From view" {
		t.Fatalf("Resolve() = %v, %v", got, err)
	}
	if getter.calls != 0 {
		t.Error("repository should not be called when the view has the case")
	}
}

func TestResolver_FallsBackToRepository(t *testing.T) {
	tests := []struct {
		name   string
		owner  string
		viewID string
	}{
		{"no view id", "u1", ""},
		{"unknown view", "u1", "missing"},
		{"loading view", "u1", "loading"},
		{"case not in view", "u1", "v1"},
		{"other owner", "u2", "v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := &mockGetter{
				getCaseFn: func(ctx context.Context, id string) (*model.Case, error) {
					return &model.Case{ID: id, Title: "From repository"}, nil
				},
			}
			views := &mockViews{views: map[string]feed.View{
				"u1/v1":      {ID: "v1", State: feed.StateReady, Cases: []model.Case{{ID: "other"}}},
				"u1/loading": {ID: "loading", State: feed.StateLoading},
			}}
			got, err := NewResolver(getter, views).Resolve(context.Background(), tt.owner, tt.viewID, "c1")
			if err != nil || got == nil || got.Title != "From repository" {
				t.Fatalf("Resolve() = %v, %v", got, err)
			}
			if getter.calls != 1 {
				t.Errorf("GetCase called %d times, want 1", getter.calls)
			}
		})
	}
}

func TestResolver_NotFound(t *testing.T) {
	got, err := NewResolver(&mockGetter{}, nil).Resolve(context.Background(), "u1", "", "does-not-exist")
	if err != nil || got != nil {
		t.Errorf("Resolve() = %v, %v; want nil, nil", got, err)
	}
}

func TestInteraction_ToggleTwiceRestoresCount(t *testing.T) {
	for _, initial := range []bool{false, true} {
		c := model.Case{LikeCount: 7, SaveCount: 3, Liked: initial, Saved: initial}
		i := NewInteraction(c)

		i.ToggleLike()
		wantOnce := 8
		if initial {
			wantOnce = 6
		}
		if i.LikeCount() != wantOnce {
			t.Errorf("initial=%v: LikeCount() after one toggle = %d, want %d", initial, i.LikeCount(), wantOnce)
		}

		i.ToggleLike()
		if i.LikeCount() != 7 || i.Liked() != initial {
			t.Errorf("initial=%v: after two toggles = %d/%v, want 7/%v", initial, i.LikeCount(), i.Liked(), initial)
		}

		i.ToggleSave()
		i.ToggleSave()
		if i.SaveCount() != 3 {
			t.Errorf("initial=%v: SaveCount() = %d, want 3", initial, i.SaveCount())
		}
	}
}

func TestParseInteraction(t *testing.T) {
	c := model.Case{LikeCount: 0, SaveCount: 0}

	i := ParseInteraction(c, url.Values{"liked": {"1"}})
	if !i.Liked() || i.Saved() || i.LikeCount() != 1 || i.SaveCount() != 0 {
		t.Errorf("ParseInteraction() = liked %v (%d), saved %v (%d)", i.Liked(), i.LikeCount(), i.Saved(), i.SaveCount())
	}

	i.ToggleSave()
	got := ParseInteraction(c, i.Values())
	if !got.Liked() || !got.Saved() || got.SaveCount() != 1 {
		t.Errorf("round trip through Values() lost state: %v", i.Values())
	}

	// クエリが無ければ初期状態
	if none := ParseInteraction(model.Case{Liked: true, LikeCount: 4}, url.Values{}); !none.Liked() || none.LikeCount() != 4 {
		t.Errorf("ParseInteraction(empty) = %v/%d", none.Liked(), none.LikeCount())
	}
}

func TestMarks_TogglePerCard(t *testing.T) {
	c1 := model.Case{ID: "c1", LikeCount: 2, SaveCount: 1}
	c2 := model.Case{ID: "c2", LikeCount: 5, SaveCount: 0, Liked: true}

	m := ParseMarks(url.Values{})
	liked := m.ToggleLike("c1")

	// 元のMarksは変更されない
	if m.Changed("c1") {
		t.Error("ToggleLike() must not modify the receiver")
	}
	if i := liked.Interaction(c1); !i.Liked() || i.LikeCount() != 3 {
		t.Errorf("c1 after like = %v/%d, want true/3", i.Liked(), i.LikeCount())
	}
	// 他のカードには影響しない
	if i := liked.Interaction(c2); !i.Liked() || i.LikeCount() != 5 {
		t.Errorf("c2 = %v/%d, want true/5", i.Liked(), i.LikeCount())
	}

	both := liked.ToggleLike("c2").ToggleSave("c1")
	q := url.Values{"v": {"view-1"}}
	both.Encode(q)
	if got, want := q.Encode(), "liked=c1&liked=c2&saved=c1&v=view-1"; got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}

	restored := ParseMarks(q)
	if i := restored.Interaction(c2); i.Liked() || i.LikeCount() != 4 {
		t.Errorf("c2 after unlike = %v/%d, want false/4", i.Liked(), i.LikeCount())
	}
	if i := restored.Interaction(c1); !i.Saved() || i.SaveCount() != 2 {
		t.Errorf("c1 after save = %v/%d, want true/2", i.Saved(), i.SaveCount())
	}

	// 2回切り替えると元に戻り、クエリからも消える
	back := restored.ToggleLike("c1").ToggleSave("c1")
	if back.Changed("c1") {
		t.Error("toggling twice should restore c1")
	}
	q = url.Values{}
	back.Encode(q)
	if got := q.Encode(); got != "liked=c2" {
		t.Errorf("Encode() after restore = %q, want liked=c2", got)
	}
}

func TestShareURL(t *testing.T) {
	got, err := ShareURL("https://warren.example.com/", "abc-123")
	if err != nil {
		t.Fatalf("ShareURL() error: %v", err)
	}
	if got != "https://warren.example.com/case/abc-123" {
		t.Errorf("ShareURL() = %q", got)
	}
}
