package db

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Filter builds parameterized WHERE conditions for deletes and retrievals.
//
// SECURITY WARNING:
// Field names are NOT escaped. Only pass validated, trusted identifiers as
// fields; user input belongs in condition values, which are always bound as
// parameters. ParseCondition enforces identifier syntax on the field it reads.

// Operator represents SQL comparison operators
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	NotLike            Operator = "NOT LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
	Between            Operator = "BETWEEN"
	NotBetween         Operator = "NOT BETWEEN"
)

// LogicalOperator for combining conditions
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Condition represents a single WHERE condition
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ConditionGroup represents grouped conditions with logical operators
type ConditionGroup struct {
	Conditions []any // Condition or nested *ConditionGroup
	Operator   LogicalOperator
}

// Filter is a root condition group
type Filter struct {
	root *ConditionGroup
}

// NewFilter creates an empty AND filter
func NewFilter() *Filter {
	return &Filter{root: &ConditionGroup{Operator: And}}
}

// Where adds a condition
func (f *Filter) Where(field string, operator Operator, value any) *Filter {
	f.root.Where(field, operator, value)
	return f
}

// WhereGroup adds a grouped condition
func (f *Filter) WhereGroup(operator LogicalOperator, fn func(*ConditionGroup)) *Filter {
	f.root.Group(operator, fn)
	return f
}

// OrWhere adds an OR condition. Existing AND conditions are wrapped in a
// group first so their semantics are preserved.
func (f *Filter) OrWhere(field string, operator Operator, value any) *Filter {
	if len(f.root.Conditions) == 0 {
		return f.Where(field, operator, value)
	}

	cond := Condition{Field: field, Operator: operator, Value: value}
	if f.root.Operator == Or {
		f.root.Conditions = append(f.root.Conditions, cond)
		return f
	}

	f.root = &ConditionGroup{
		Conditions: []any{&ConditionGroup{Conditions: f.root.Conditions, Operator: And}, cond},
		Operator:   Or,
	}
	return f
}

// Empty reports whether the filter has no conditions
func (f *Filter) Empty() bool {
	return f == nil || len(f.root.Conditions) == 0
}

// Build renders the filter as a condition string with "?" placeholders
func (f *Filter) Build() (string, []any) {
	if f.Empty() {
		return "", nil
	}
	return buildConditionGroup(f.root)
}

// Where adds a condition to the group
func (g *ConditionGroup) Where(field string, operator Operator, value any) *ConditionGroup {
	g.Conditions = append(g.Conditions, Condition{Field: field, Operator: operator, Value: value})
	return g
}

// Group adds a nested group
func (g *ConditionGroup) Group(operator LogicalOperator, fn func(*ConditionGroup)) *ConditionGroup {
	sub := &ConditionGroup{Operator: operator}
	fn(sub)
	g.Conditions = append(g.Conditions, sub)
	return g
}

func buildConditionGroup(group *ConditionGroup) (string, []any) {
	var conditions []string
	var args []any

	for _, item := range group.Conditions {
		switch cond := item.(type) {
		case Condition:
			condSQL, condArgs := buildCondition(cond)
			conditions = append(conditions, condSQL)
			args = append(args, condArgs...)
		case *ConditionGroup:
			if len(cond.Conditions) > 0 {
				groupSQL, groupArgs := buildConditionGroup(cond)
				conditions = append(conditions, "("+groupSQL+")")
				args = append(args, groupArgs...)
			}
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " "+string(group.Operator)+" "), args
}

func buildCondition(cond Condition) (string, []any) {
	switch cond.Operator {
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s %s", cond.Field, cond.Operator), nil
	case In, NotIn:
		return buildInCondition(cond)
	case Between, NotBetween:
		return buildBetweenCondition(cond)
	default:
		return fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), []any{cond.Value}
	}
}

// buildInCondition expands one placeholder per element. An empty IN never
// matches; an empty NOT IN always does.
func buildInCondition(cond Condition) (string, []any) {
	never, always := "1 = 0", "1 = 1"
	if cond.Operator == NotIn {
		never, always = always, never
	}
	if cond.Value == nil {
		return never, nil
	}

	v := reflect.ValueOf(cond.Value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return fmt.Sprintf("%s %s (?)", cond.Field, cond.Operator), []any{cond.Value}
	}
	if v.Len() == 0 {
		return never, nil
	}

	placeholders := make([]string, v.Len())
	args := make([]any, v.Len())
	for i := range placeholders {
		placeholders[i] = "?"
		args[i] = v.Index(i).Interface()
	}
	return fmt.Sprintf("%s %s (%s)", cond.Field, cond.Operator, strings.Join(placeholders, ", ")), args
}

// buildBetweenCondition expects a two element slice; anything else never matches
func buildBetweenCondition(cond Condition) (string, []any) {
	if cond.Value == nil {
		return "1 = 0", nil
	}
	v := reflect.ValueOf(cond.Value)
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Len() != 2 {
		return "1 = 0", nil
	}
	return fmt.Sprintf("%s %s ? AND ?", cond.Field, cond.Operator),
		[]any{v.Index(0).Interface(), v.Index(1).Interface()}
}

// symbolic operators, longest first so ">=" wins over ">"
var symbolOperators = []Operator{NotEqual, GreaterThanOrEqual, LessThanOrEqual, Equal, GreaterThan, LessThan}

// ParseCondition reads a command-line condition such as "id=3",
// "status != archived", "id in 1,2,3", "name like a%" or "deleted_at is null".
// Integer-looking values are bound as int64.
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Condition{}, fmt.Errorf("empty condition")
	}

	if cond, ok, err := parseKeywordCondition(expr); ok || err != nil {
		return cond, err
	}

	for _, op := range symbolOperators {
		i := strings.Index(expr, string(op))
		if i <= 0 {
			continue
		}
		field := strings.TrimSpace(expr[:i])
		if !isIdentifier(field) {
			return Condition{}, fmt.Errorf("invalid column %q in condition %q", field, expr)
		}
		return Condition{Field: field, Operator: op, Value: parseValue(strings.TrimSpace(expr[i+len(op):]))}, nil
	}

	return Condition{}, fmt.Errorf("no operator in condition %q", expr)
}

func parseKeywordCondition(expr string) (Condition, bool, error) {
	parts := strings.Fields(expr)
	if len(parts) < 2 || !isIdentifier(parts[0]) {
		return Condition{}, false, nil
	}
	field := parts[0]
	rest := strings.ToUpper(strings.Join(parts[1:], " "))

	switch {
	case rest == string(IsNull):
		return Condition{Field: field, Operator: IsNull}, true, nil
	case rest == string(IsNotNull):
		return Condition{Field: field, Operator: IsNotNull}, true, nil
	}

	for _, op := range []Operator{NotIn, In, NotLike, Like} {
		prefix := string(op) + " "
		if !strings.HasPrefix(rest, prefix) {
			continue
		}
		// slice the original text to keep the value's case
		n := len(strings.Fields(string(op)))
		raw := strings.Join(parts[1+n:], " ")
		if raw == "" {
			return Condition{}, true, fmt.Errorf("missing value in condition %q", expr)
		}
		if op == In || op == NotIn {
			raw = strings.Trim(raw, "()")
			var values []any
			for _, v := range strings.Split(raw, ",") {
				if v = strings.TrimSpace(v); v != "" {
					values = append(values, parseValue(v))
				}
			}
			return Condition{Field: field, Operator: op, Value: values}, true, nil
		}
		return Condition{Field: field, Operator: op, Value: raw}, true, nil
	}

	return Condition{}, false, nil
}

// ParseFilter ANDs together the parsed conditions
func ParseFilter(exprs []string) (*Filter, error) {
	f := NewFilter()
	for _, expr := range exprs {
		cond, err := ParseCondition(expr)
		if err != nil {
			return nil, err
		}
		f.Where(cond.Field, cond.Operator, cond.Value)
	}
	return f, nil
}

func parseValue(s string) any {
	s = strings.Trim(s, `'"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
