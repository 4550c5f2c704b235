package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_StringOperators(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		field     any
		comparand string
		expected  bool
	}{
		{"equals match", OpEquals, "won", "won", true},
		{"equals mismatch", OpEquals, "won", "lost", false},
		{"equals numeric coercion", OpEquals, 100, "100", true},
		{"not_equals match", OpNotEquals, "won", "lost", true},
		{"not_equals mismatch", OpNotEquals, "won", "won", false},
		{"contains match", OpContains, "hello world", "lo wo", true},
		{"contains mismatch", OpContains, "hello world", "mars", false},
		{"not_contains match", OpNotContains, "hello world", "mars", true},
		{"not_contains mismatch", OpNotContains, "hello world", "world", false},
		{"starts_with match", OpStartsWith, "INV-2024-001", "INV-", true},
		{"starts_with mismatch", OpStartsWith, "INV-2024-001", "PO-", false},
		{"ends_with match", OpEndsWith, "report.pdf", ".pdf", true},
		{"ends_with mismatch", OpEndsWith, "report.pdf", ".csv", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Evaluate(tt.op, tt.field, tt.comparand))
		})
	}
}

func TestEvaluate_NumericOperators(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		field     any
		comparand string
		expected  bool
	}{
		{"greater_than true", OpGreaterThan, 150.5, "100", true},
		{"greater_than false", OpGreaterThan, 99, "100", false},
		{"greater_than equal is false", OpGreaterThan, 100, "100", false},
		{"greater_than string field", OpGreaterThan, "250", "100", true},
		{"less_than true", OpLessThan, 50, "100", true},
		{"less_than false", OpLessThan, 150, "100", false},
		{"greater_or_equal at boundary", OpGreaterOrEqual, 100, "100", true},
		{"greater_or_equal below", OpGreaterOrEqual, 99.9, "100", false},
		{"less_or_equal at boundary", OpLessOrEqual, 100, "100", true},
		{"less_or_equal above", OpLessOrEqual, 100.1, "100", false},
		{"whitespace tolerated", OpGreaterThan, " 150 ", " 100 ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Evaluate(tt.op, tt.field, tt.comparand))
		})
	}
}

func TestEvaluate_FailsClosed(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		field     any
		comparand string
	}{
		{"non-numeric field on greater_than", OpGreaterThan, "abc", "100"},
		{"non-numeric comparand on less_than", OpLessThan, 50, "lots"},
		{"malformed regex", OpRegex, "anything", "([invalid"},
		{"unknown operator", Operator("approximately"), "a", "a"},
		{"empty operator", Operator(""), "a", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Evaluate(tt.op, tt.field, tt.comparand))
		})
	}
}

func TestEvaluate_EmptyAndNull(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		field     any
		expected  bool
	}{
		{"is_empty on empty string", OpIsEmpty, "", true},
		{"is_empty on missing value", OpIsEmpty, Missing, true},
		{"is_empty on nil", OpIsEmpty, nil, true},
		{"is_empty on value", OpIsEmpty, "x", false},
		{"is_not_empty on value", OpIsNotEmpty, "x", true},
		{"is_not_empty on empty string", OpIsNotEmpty, "", false},
		{"is_null on missing value", OpIsNull, Missing, true},
		{"is_null on nil", OpIsNull, nil, true},
		{"is_null on empty string", OpIsNull, "", false},
		{"is_not_null on empty string", OpIsNotNull, "", true},
		{"is_not_null on missing value", OpIsNotNull, Missing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Evaluate(tt.op, tt.field, ""))
		})
	}
}

func TestEvaluate_InList(t *testing.T) {
	assert.True(t, Evaluate(OpInList, "won", "open, won, lost"))
	assert.True(t, Evaluate(OpInList, "lost", "open,won,lost"))
	assert.False(t, Evaluate(OpInList, "archived", "open, won, lost"))
	assert.False(t, Evaluate(OpInList, "won", ""))
}

func TestEvaluate_Regex(t *testing.T) {
	assert.True(t, Evaluate(OpRegex, "INV-2024-001", `^INV-\d{4}-\d+$`))
	assert.False(t, Evaluate(OpRegex, "PO-2024-001", `^INV-\d{4}-\d+$`))
	assert.True(t, Evaluate(OpRegex, Missing, `^$`))
}

func TestOperator_IsValid(t *testing.T) {
	valid := []Operator{
		OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith,
		OpEndsWith, OpGreaterThan, OpLessThan, OpGreaterOrEqual,
		OpLessOrEqual, OpIsEmpty, OpIsNotEmpty, OpIsNull, OpIsNotNull,
		OpInList, OpRegex,
	}
	for _, op := range valid {
		assert.True(t, op.IsValid(), string(op))
	}

	assert.False(t, Operator("between").IsValid())
	assert.False(t, Operator("").IsValid())
}

func TestOperator_ChecksPresence(t *testing.T) {
	for _, op := range []Operator{OpIsEmpty, OpIsNotEmpty, OpIsNull, OpIsNotNull} {
		assert.True(t, op.ChecksPresence(), string(op))
	}

	for _, op := range []Operator{OpEquals, OpGreaterThan, OpInList, OpRegex} {
		assert.False(t, op.ChecksPresence(), string(op))
	}
}
