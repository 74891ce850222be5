package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter_Defaults(t *testing.T) {
	opts := NewTextAsserter(t).Options()

	assert.True(t, opts.TrimSpace)
	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.True(t, opts.StripANSI)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "identical",
			actual:   "a\nb",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "trailing whitespace and surrounding blank lines",
			actual:   "\na  \nb\t\n\n",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "ansi colors stripped",
			actual:   "\x1b[36;1mBattery Service\x1b[0m (180f)",
			expected: "Battery Service (180f)",
			match:    true,
		},
		{
			name:     "ansi colors kept",
			opts:     []TextOption{WithStripANSI(false)},
			actual:   "\x1b[36mX\x1b[0m",
			expected: "X",
			match:    false,
		},
		{
			name:     "empty lines ignored",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\nb",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "column padding collapsed",
			opts:     []TextOption{WithCollapseWhitespace(true)},
			actual:   "  2a19  Battery Level      read,notify",
			expected: "2a19 Battery Level read,notify",
			match:    true,
		},
		{
			name:     "different line",
			actual:   "a\nc",
			expected: "a\nb",
			match:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewTextAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.match, ok)
			assert.Equal(t, tt.match, len(rec.errors) == 0)
		})
	}
}

func TestTextAsserter_DiffIsUnified(t *testing.T) {
	d := NewTextAsserter(t).Diff("a\nc", "a\nb")

	assert.Contains(t, d, "--- expected")
	assert.Contains(t, d, "+++ actual")
	assert.Contains(t, d, "-b")
	assert.Contains(t, d, "+c")

	colored := NewTextAsserter(t, WithEnableColors(true)).Diff("a\nc d", "a\nb")
	assert.Contains(t, colored, "\x1b[", "colored diff MUST contain escape sequences")
	assert.Contains(t, StripANSI(colored), "+c·d", "spaces in changed lines MUST be made visible")
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "key order does not matter",
			actual:   `{"a":1,"b":2}`,
			expected: `{"b":2,"a":1}`,
			match:    true,
		},
		{
			name:     "extra keys ignored by default",
			actual:   `{"a":1,"b":{"c":2,"d":3}}`,
			expected: `{"b":{"c":2}}`,
			match:    true,
		},
		{
			name:     "extra keys reported when not ignored",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"a":1,"b":2}`,
			expected: `{"a":1}`,
			match:    false,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []Option{WithIgnoreExtraKeys(false), WithIgnoredFields("value")},
			actual:   `{"services":[{"uuid":"180f","value":"64"}]}`,
			expected: `{"services":[{"uuid":"180f","value":"00"}]}`,
			match:    true,
		},
		{
			name:     "root arrays",
			actual:   `[1,2]`,
			expected: `[1,2]`,
			match:    true,
		},
		{
			name:     "value mismatch",
			actual:   `{"a":1}`,
			expected: `{"a":2}`,
			match:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewJSONAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.match, ok, strings.Join(rec.errors, "\n"))
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(t)

	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.Diff(`{}`, `{`), "invalid expected JSON")
}

func TestTestHelper(t *testing.T) {
	h := NewTestHelper(t)

	h.Logger.WithField("service", "180f").Debug("registered")
	assert.Contains(t, h.Logs(), "service=180f")

	path := h.WriteFile("cfg.yaml", "backend: sim\n")
	assert.FileExists(t, path)

	data, err := ReadProjectFile("go.mod")
	require.NoError(t, err)
	assert.Contains(t, data, "module github.com/srg/blesvc")

	_, err = ReadProjectFile("does/not/exist")
	assert.Error(t, err)
}
