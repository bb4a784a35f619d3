package suite_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/graymantle/crucible/internal/suite"
)

const sampleSuite = `{
  "tests": [
    {"id": "t2", "name": "Alpha two", "category": "alpha", "prompt": "two", "parameters": {"max_tokens": 50}},
    {"id": "t1", "name": "Alpha one", "category": "Alpha", "prompt": "one", "parameters": {"max_tokens": 50, "temperature": 0.2}},
    {"id": "t3", "name": "Beta one", "category": "beta", "messages": [{"role": "user", "content": "hi"}], "parameters": {"max_tokens": 10}}
  ]
}`

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	c, err := suite.Load(writeSuite(t, sampleSuite))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 tests, got %d", c.Len())
	}
	tc, ok := c.Get("t3")
	if !ok {
		t.Fatal("t3 not found")
	}
	if len(tc.Messages) != 1 || tc.Messages[0].Role != "user" {
		t.Errorf("t3 messages: got %+v", tc.Messages)
	}
	if tc.Params.MaxTokens != 10 {
		t.Errorf("t3 max_tokens: got %d, want 10", tc.Params.MaxTokens)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := suite.Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, suite.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    error
	}{
		{"bad json", `{"tests": [`, suite.ErrMalformed},
		{"no tests key", `{"cases": []}`, suite.ErrMalformed},
		{"missing id", `{"tests": [{"name": "x", "category": "c"}]}`, suite.ErrMissingField},
		{"missing name", `{"tests": [{"id": "a", "category": "c"}]}`, suite.ErrMissingField},
		{"missing category", `{"tests": [{"id": "a", "name": "x"}]}`, suite.ErrMissingField},
		{
			"duplicate id",
			`{"tests": [{"id": "a", "name": "x", "category": "c"}, {"id": "a", "name": "y", "category": "c"}]}`,
			suite.ErrDuplicateID,
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := suite.Load(writeSuite(t, tt.content))
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIDsByCategory(t *testing.T) {
	c, err := suite.Load(writeSuite(t, sampleSuite))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	alpha := c.IDsByCategory("alpha")
	if len(alpha) != 2 || alpha[0] != "t1" || alpha[1] != "t2" {
		t.Errorf(`IDsByCategory("alpha"): got %v, want [t1 t2]`, alpha)
	}
	// Category matching is case-insensitive.
	if upper := c.IDsByCategory("ALPHA"); len(upper) != 2 {
		t.Errorf(`IDsByCategory("ALPHA"): got %v`, upper)
	}
	if unknown := c.IDsByCategory("gamma"); unknown == nil || len(unknown) != 0 {
		t.Errorf("unknown category: got %v, want empty slice", unknown)
	}
}

func TestIDsAndCategoriesSorted(t *testing.T) {
	c, err := suite.Load(writeSuite(t, sampleSuite))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ids := c.IDs()
	if len(ids) != 3 || ids[0] != "t1" || ids[2] != "t3" {
		t.Errorf("IDs: got %v", ids)
	}
	cats := c.Categories()
	if len(cats) != 2 {
		t.Errorf("Categories: got %v, want 2 entries", cats)
	}
}
