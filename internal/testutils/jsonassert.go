package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// JSONAssertOptions controls JSON comparison.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys present only in the actual document.
	IgnoreExtraKeys bool     `default:"true"`
	IgnoredFields   []string `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t TestingT, opts ...Option) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// Options returns a copy of the current options.
func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert reports an error when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if d := ja.Diff(actualJSON, expectedJSON); d != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", d)
		return false
	}
	return true
}

// Diff returns a readable difference, or "" when the documents match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := expected.([]interface{}); ok {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	for _, f := range ja.options.IgnoredFields {
		removeField(expected, f)
		removeField(actual, f)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	var left map[string]interface{}
	_ = json.Unmarshal(expectedBytes, &left)
	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
			}
		}
		for k, v := range exp {
			pruneExtraKeys(act[k], v)
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func removeField(doc interface{}, field string) {
	switch v := doc.(type) {
	case map[string]interface{}:
		delete(v, field)
		for _, child := range v {
			removeField(child, field)
		}
	case []interface{}:
		for _, child := range v {
			removeField(child, field)
		}
	}
}

// WithIgnoreExtraKeys sets whether keys only present in the actual document are ignored.
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoredFields removes the named keys at every depth before comparing.
func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}
