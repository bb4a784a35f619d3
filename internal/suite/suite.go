package suite

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Load error kinds. Callers distinguish them with errors.Is.
var (
	ErrNotFound     = errors.New("suite file not found")
	ErrMalformed    = errors.New("malformed suite document")
	ErrMissingField = errors.New("test case missing required field")
	ErrDuplicateID  = errors.New("duplicate test id")
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params holds the sampling parameters of a test case.
type Params struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// TestCase is a single benchmark test. Either Prompt (completion-style)
// or Messages (chat-style) is set; both loaded read-only.
type TestCase struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	ReasoningType string    `json:"reasoning_type,omitempty"`
	Prompt        string    `json:"prompt,omitempty"`
	Messages      []Message `json:"messages,omitempty"`
	Params        Params    `json:"parameters"`
}

// Catalog indexes a loaded test suite by id and by category.
type Catalog struct {
	tests      map[string]*TestCase
	byCategory map[string][]string // lowercased category -> sorted ids
}

type document struct {
	Tests []*TestCase `json:"tests"`
}

// Load parses a suite document. Partial catalogs are never returned:
// any malformed or incomplete test case fails the whole load.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading suite %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw suite JSON.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Tests == nil {
		return nil, fmt.Errorf("%w: missing \"tests\" list", ErrMalformed)
	}

	c := &Catalog{
		tests:      make(map[string]*TestCase, len(doc.Tests)),
		byCategory: make(map[string][]string),
	}
	for i, tc := range doc.Tests {
		if tc == nil {
			return nil, fmt.Errorf("%w: test %d is null", ErrMalformed, i)
		}
		switch {
		case tc.ID == "":
			return nil, fmt.Errorf("%w: test %d: id", ErrMissingField, i)
		case tc.Name == "":
			return nil, fmt.Errorf("%w: test %q: name", ErrMissingField, tc.ID)
		case tc.Category == "":
			return nil, fmt.Errorf("%w: test %q: category", ErrMissingField, tc.ID)
		}
		if _, ok := c.tests[tc.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, tc.ID)
		}
		c.tests[tc.ID] = tc

		key := strings.ToLower(tc.Category)
		c.byCategory[key] = append(c.byCategory[key], tc.ID)
	}
	for _, ids := range c.byCategory {
		sort.Strings(ids)
	}
	return c, nil
}

// Get returns the test case with the given id.
func (c *Catalog) Get(id string) (*TestCase, bool) {
	tc, ok := c.tests[id]
	return tc, ok
}

// Len returns the number of tests in the catalog.
func (c *Catalog) Len() int {
	return len(c.tests)
}

// IDs returns all test ids, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.tests))
	for id := range c.tests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Categories returns the distinct category names, sorted. Names keep
// the casing of the first test that declared them.
func (c *Catalog) Categories() []string {
	seen := make(map[string]string, len(c.byCategory))
	for _, tc := range c.tests {
		key := strings.ToLower(tc.Category)
		if _, ok := seen[key]; !ok {
			seen[key] = tc.Category
		}
	}
	names := make([]string, 0, len(seen))
	for _, name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IDsByCategory returns the sorted ids of the category, matched
// case-insensitively. An unknown or empty category yields an empty
// slice, not an error.
func (c *Catalog) IDsByCategory(name string) []string {
	ids := c.byCategory[strings.ToLower(name)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
