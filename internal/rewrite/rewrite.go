// Package rewrite implements topic rewriting: an ordered list of
// (pattern, template) rules that broker.Router.Publish applies to a
// published topic after topic-alias resolution. The transport's publish
// ACL check runs before Router.Publish, so it sees the topic unrewritten.
package rewrite

import (
	"regexp"

	"github.com/pyr33x/goqtt/pkg/er"
)

// Rule is one compiled (pattern, template) pair. Template may reference
// capture groups from pattern using `$1`..`$9` as accepted by
// regexp.Regexp.ReplaceAllString.
type Rule struct {
	pattern  *regexp.Regexp
	template string
}

// Compile builds a Rule from a regular expression pattern anchored to the
// whole topic and a replacement template.
func Compile(pattern, template string) (*Rule, error) {
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil, &er.Err{Context: "rewrite.Compile", Message: err, Reason: er.ReasonUnspecifiedError}
	}
	return &Rule{pattern: re, template: template}, nil
}

// Table is an ordered set of rewrite rules; the first rule whose pattern
// matches a topic wins (spec.md §4.7), and a topic matching no rule
// passes through unchanged.
type Table struct {
	rules []*Rule
}

// NewTable builds a Table from (pattern, template) pairs in priority order.
func NewTable(specs [][2]string) (*Table, error) {
	t := &Table{}
	for _, spec := range specs {
		r, err := Compile(spec[0], spec[1])
		if err != nil {
			return nil, err
		}
		t.rules = append(t.rules, r)
	}
	return t, nil
}

// Apply runs the first matching rule against topic and returns the
// rewritten topic, or topic unchanged if no rule matches. Applying Apply
// to its own output again is a no-op once the output itself matches no
// further rule in the table (idempotency holds as long as rule templates
// don't reintroduce a pattern earlier in the table).
func (t *Table) Apply(topic string) string {
	for _, r := range t.rules {
		if r.pattern.MatchString(topic) {
			return r.pattern.ReplaceAllString(topic, r.template)
		}
	}
	return topic
}

func (t *Table) Len() int { return len(t.rules) }
