// Package condition evaluates single predicates (operator + operand) against
// resolved variable values. Every failure mode fails closed to false; a bad
// predicate must never abort a run.
package condition

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/praxishq/automation/pkg/template"
)

// Operator identifies a predicate operator.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpIsEmpty        Operator = "is_empty"
	OpIsNotEmpty     Operator = "is_not_empty"
	OpIsNull         Operator = "is_null"
	OpIsNotNull      Operator = "is_not_null"
	OpInList         Operator = "in_list"
	OpRegex          Operator = "regex"
)

// Missing marks a token that did not resolve at all, as opposed to one that
// resolved to an empty string. is_null/is_not_null test this distinction.
var Missing = missing{}

type missing struct{}

// IsValid reports whether the operator is one of the supported predicates.
func (op Operator) IsValid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith,
		OpEndsWith, OpGreaterThan, OpLessThan, OpGreaterOrEqual,
		OpLessOrEqual, OpIsEmpty, OpIsNotEmpty, OpIsNull, OpIsNotNull,
		OpInList, OpRegex:
		return true
	}

	return false
}

// ChecksPresence reports whether the operator tests the value's absence or
// emptiness instead of comparing it to the comparand.
func (op Operator) ChecksPresence() bool {
	switch op {
	case OpIsEmpty, OpIsNotEmpty, OpIsNull, OpIsNotNull:
		return true
	}

	return false
}

// Evaluate applies the operator to a resolved field value and a comparand.
// Unknown operators, non-numeric operands on numeric comparisons and
// malformed regex patterns all evaluate to false.
func Evaluate(op Operator, fieldValue any, comparand string) bool {
	switch op {
	case OpIsNull:
		return isNull(fieldValue)
	case OpIsNotNull:
		return !isNull(fieldValue)
	case OpIsEmpty:
		return stringify(fieldValue) == ""
	case OpIsNotEmpty:
		return stringify(fieldValue) != ""
	}

	field := stringify(fieldValue)

	switch op {
	case OpEquals:
		return field == comparand
	case OpNotEquals:
		return field != comparand
	case OpContains:
		return strings.Contains(field, comparand)
	case OpNotContains:
		return !strings.Contains(field, comparand)
	case OpStartsWith:
		return strings.HasPrefix(field, comparand)
	case OpEndsWith:
		return strings.HasSuffix(field, comparand)
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		return compareNumeric(op, field, comparand)
	case OpInList:
		for _, item := range strings.Split(comparand, ",") {
			if strings.TrimSpace(item) == field {
				return true
			}
		}

		return false
	case OpRegex:
		pattern, err := regexp.Compile(comparand)
		if err != nil {
			return false
		}

		return pattern.MatchString(field)
	}

	return false
}

func compareNumeric(op Operator, field, comparand string) bool {
	left, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return false
	}

	right, err := strconv.ParseFloat(strings.TrimSpace(comparand), 64)
	if err != nil {
		return false
	}

	switch op {
	case OpGreaterThan:
		return left > right
	case OpLessThan:
		return left < right
	case OpGreaterOrEqual:
		return left >= right
	case OpLessOrEqual:
		return left <= right
	}

	return false
}

func isNull(value any) bool {
	if value == nil {
		return true
	}

	_, ok := value.(missing)

	return ok
}

func stringify(value any) string {
	if isNull(value) {
		return ""
	}

	return template.Stringify(value)
}
