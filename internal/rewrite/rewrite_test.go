package rewrite

import "testing"

func TestTableApplyFirstMatchWins(t *testing.T) {
	table, err := NewTable([][2]string{
		{`legacy/(.+)`, `v2/$1`},
		{`v2/(.+)`, `v3/$1`},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if got := table.Apply("legacy/sensors/temp"); got != "v2/sensors/temp" {
		t.Errorf("Apply(legacy/sensors/temp) = %q, want v2/sensors/temp", got)
	}
	if got := table.Apply("other/topic"); got != "other/topic" {
		t.Errorf("Apply(other/topic) = %q, want it unchanged", got)
	}
}

func TestTableApplyNoRulesPassesThrough(t *testing.T) {
	table, err := NewTable(nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if got := table.Apply("a/b/c"); got != "a/b/c" {
		t.Errorf("Apply() with no rules = %q, want unchanged", got)
	}
}

func TestTableApplyIdempotentOnOutput(t *testing.T) {
	table, err := NewTable([][2]string{
		{`legacy/(.+)`, `v2/$1`},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	once := table.Apply("legacy/a/b")
	twice := table.Apply(once)
	if once != twice {
		t.Errorf("Apply is not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestCompileInvalidPattern(t *testing.T) {
	if _, err := Compile("(unclosed", "x"); err == nil {
		t.Fatal("expected an error for an invalid regular expression")
	}
}

func TestTableLen(t *testing.T) {
	table, _ := NewTable([][2]string{{"a", "b"}, {"c", "d"}})
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}
