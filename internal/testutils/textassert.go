package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T the asserters report through.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextAssertOptions controls how command output is normalized before comparison.
type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	// CollapseWhitespace reduces every run of blanks to one space, for column-aligned output.
	CollapseWhitespace       bool `default:"false"`
	StripANSI                bool `default:"true"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares multi-line text and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with default options.
func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TextAsserter{t: t, options: o}
}

// Options returns a copy of the current options.
func (ta *TextAsserter) Options() TextAssertOptions {
	return ta.options
}

// Assert reports an error when actual differs from expected after normalization.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	if d := ta.Diff(actual, expected); d != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", d)
		return false
	}
	return true
}

// Diff returns the unified diff from expected to actual, or "" when they match.
func (ta *TextAsserter) Diff(actual, expected string) string {
	a := ta.normalize(actual)
	e := ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !ta.options.EnableColors {
		return unified
	}
	return colorize(unified)
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.StripANSI {
		text = StripANSI(text)
	}
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if ta.options.CollapseWhitespace {
			line = strings.Join(strings.Fields(line), " ")
		}
		if ta.options.IgnoreEmptyLines && line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	for _, c := range []*color.Color{red, green, cyan} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(strings.ReplaceAll(line, " ", "·"))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(strings.ReplaceAll(line, " ", "·"))
		}
	}
	return strings.Join(lines, "\n")
}

// StripANSI removes CSI escape sequences such as color codes.
func StripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// WithTrimSpace sets whether the whole text is trimmed.
func WithTrimSpace(trim bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = trim }
}

// WithIgnoreTrailingWhitespace sets whether trailing blanks on each line are ignored.
func WithIgnoreTrailingWhitespace(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreTrailingWhitespace = ignore }
}

// WithIgnoreEmptyLines sets whether empty lines are ignored.
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = ignore }
}

// WithCollapseWhitespace sets whether runs of blanks compare equal to one space.
func WithCollapseWhitespace(collapse bool) TextOption {
	return func(o *TextAssertOptions) { o.CollapseWhitespace = collapse }
}

// WithStripANSI sets whether ANSI escape sequences are removed.
func WithStripANSI(strip bool) TextOption {
	return func(o *TextAssertOptions) { o.StripANSI = strip }
}

// WithEnableColors sets whether the reported diff is colored.
func WithEnableColors(enable bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = enable }
}
