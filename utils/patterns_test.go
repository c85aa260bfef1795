package utils

import "testing"

func TestPatternMatcherExcludes(t *testing.T) {
	m := NewPatternMatcher(nil, []string{"*.tmp", "*.swp"})

	if m.ShouldInclude("/home/user/notes.tmp") {
		t.Error("excluded glob should not be included")
	}
	if !m.ShouldInclude("/home/user/notes.txt") {
		t.Error("non-matching path should be included")
	}
}

func TestPatternMatcherIncludes(t *testing.T) {
	m := NewPatternMatcher([]string{"*.docx"}, nil)

	if !m.ShouldInclude("/srv/share/report.docx") {
		t.Error("matching include should pass")
	}
	if m.ShouldInclude("/srv/share/report.xlsx") {
		t.Error("non-matching path should fail closed when includes are set")
	}
}

func TestPatternMatcherExcludeWins(t *testing.T) {
	m := NewPatternMatcher([]string{"*.docx"}, []string{"~$*"})

	if m.ShouldInclude("/srv/share/~$report.docx") {
		t.Error("exclude should override include")
	}
}

func TestPatternMatcherNil(t *testing.T) {
	var m *PatternMatcher
	if !m.ShouldInclude("/anything") {
		t.Error("nil matcher admits everything")
	}
}

func TestPatternMatcherRegex(t *testing.T) {
	m := NewPatternMatcher(nil, []string{`(?i)/node_modules/`})

	if m.ShouldInclude("/repo/node_modules/pkg/index.js") {
		t.Error("regex exclude should match full path")
	}
}
