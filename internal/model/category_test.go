package model

import (
	"errors"
	"testing"
)

func TestCategories_EveryCategoryHasTemplate(t *testing.T) {
	cats := Categories()
	if len(cats) != 3 {
		t.Fatalf("len(Categories()) = %d, want 3", len(cats))
	}
	for _, c := range cats {
		tmpl := c.Template()
		if tmpl.Slug == "" || tmpl.Label == "" {
			t.Errorf("category %d has empty template metadata", int(c))
		}
		if len(tmpl.Fields) != 7 {
			t.Errorf("%s: len(Fields) = %d, want 7", c, len(tmpl.Fields))
		}
		if len(tmpl.TitleFields) == 0 || len(tmpl.SummaryFields) == 0 {
			t.Errorf("%s: missing title/summary candidates", c)
		}
	}
}

func TestParseCategory_RoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"true-crime", CategoryTrueCrime},
		{"lore", CategoryLore},
		{"conspiracy", CategoryConspiracy},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if err != nil {
			t.Fatalf("ParseCategory(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestParseCategory_Unknown(t *testing.T) {
	for _, in := range []string{"", "all", "True-Crime", "ghost"} {
		if _, err := ParseCategory(in); err == nil {
			t.Errorf("ParseCategory(%q) expected error", in)
		}
	}
}

func TestCategory_InvalidTemplateIsZero(t *testing.T) {
	c := Category(99)
	if c.Valid() {
		t.Fatal("Category(99) should be invalid")
	}
	if c.Template().Slug != "" {
		t.Error("invalid category should have zero template")
	}
}

func TestTemplate_LongFields(t *testing.T) {
	tmpl := CategoryTrueCrime.Template()
	long := map[string]bool{}
	for _, f := range tmpl.Fields {
		if f.Long {
			long[f.Label] = true
		}
	}
	if !long["What Happened"] || !long["Evidence"] {
		t.Errorf("true-crime long fields = %v", long)
	}
	if !tmpl.HasField("Victim(s)") || tmpl.HasField("The Theory") {
		t.Error("HasField mismatch")
	}
}

func TestAsAPIError_WrappedChain(t *testing.T) {
	base := NewPermissionError()
	wrapped := errors.Join(errors.New("context"), base)

	got, ok := AsAPIError(wrapped)
	if !ok || got != base {
		t.Fatalf("AsAPIError() = %v, %v", got, ok)
	}
	if !IsCategory(wrapped, ErrCategoryPermission) {
		t.Error("IsCategory(permission) = false")
	}
	if IsCategory(errors.New("plain"), ErrCategoryPermission) {
		t.Error("plain error should not match")
	}
}

func TestNewValidationError_JoinsReasons(t *testing.T) {
	err := NewValidationError("a", "b")
	if err.Message != "a; b" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Category != ErrCategoryValidation {
		t.Errorf("Category = %q", err.Category)
	}
}
