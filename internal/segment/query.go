// Package segment evaluates attribute queries that narrow the team members
// eligible for an assignment. A query is a tree of and/or/not nodes whose
// leaves compare one user attribute against literal values.
package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Kind discriminates query nodes.
type Kind string

const (
	KindAnd  Kind = "and"
	KindOr   Kind = "or"
	KindNot  Kind = "not"
	KindRule Kind = "rule"
)

// Operator is the comparison applied by a rule node.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContainsAny Operator = "contains_any"
	OpContainsAll Operator = "contains_all"
	OpGTE         Operator = "gte"
	OpLTE         Operator = "lte"
	OpExists      Operator = "exists"
)

var (
	// ErrUnknownOperator indicates a rule uses an operator the evaluator does not know.
	ErrUnknownOperator = errors.New("segment: unknown operator")
	// ErrInvalidQuery indicates a structurally malformed query tree.
	ErrInvalidQuery = errors.New("segment: invalid query")
)

// Node is one element of a query tree.
type Node struct {
	Kind      Kind     `json:"kind"`
	Children  []Node   `json:"children,omitempty"`
	Attribute string   `json:"attribute,omitempty"`
	Operator  Operator `json:"operator,omitempty"`
	Values    []string `json:"values,omitempty"`
}

// Attributes is the flat attribute map of one user. Single-valued attributes
// hold one element; multi-select attributes hold several.
type Attributes map[string][]string

// And, Or, Not and Rule build query trees in code.
func And(children ...Node) Node { return Node{Kind: KindAnd, Children: children} }

func Or(children ...Node) Node { return Node{Kind: KindOr, Children: children} }

func Not(child Node) Node { return Node{Kind: KindNot, Children: []Node{child}} }

func Rule(attribute string, op Operator, values ...string) Node {
	return Node{Kind: KindRule, Attribute: attribute, Operator: op, Values: values}
}

// Parse decodes a JSON query tree and validates its structure.
func Parse(data []byte) (Node, error) {
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := Validate(node); err != nil {
		return Node{}, err
	}
	return node, nil
}

// Validate checks node arity and operator arguments without evaluating.
func Validate(node Node) error {
	switch node.Kind {
	case KindAnd, KindOr:
		for _, child := range node.Children {
			if err := Validate(child); err != nil {
				return err
			}
		}
		return nil
	case KindNot:
		if len(node.Children) != 1 {
			return fmt.Errorf("%w: not expects exactly one child, got %d", ErrInvalidQuery, len(node.Children))
		}
		return Validate(node.Children[0])
	case KindRule:
		if node.Attribute == "" {
			return fmt.Errorf("%w: rule without attribute", ErrInvalidQuery)
		}
		switch node.Operator {
		case OpEquals, OpNotEquals:
			if len(node.Values) != 1 {
				return fmt.Errorf("%w: %s expects one value", ErrInvalidQuery, node.Operator)
			}
		case OpGTE, OpLTE:
			if len(node.Values) != 1 {
				return fmt.Errorf("%w: %s expects one value", ErrInvalidQuery, node.Operator)
			}
			if _, err := strconv.ParseFloat(node.Values[0], 64); err != nil {
				return fmt.Errorf("%w: %s expects a number, got %q", ErrInvalidQuery, node.Operator, node.Values[0])
			}
		case OpIn, OpNotIn, OpContainsAny, OpContainsAll:
			if len(node.Values) == 0 {
				return fmt.Errorf("%w: %s expects values", ErrInvalidQuery, node.Operator)
			}
		case OpExists:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownOperator, node.Operator)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalidQuery, node.Kind)
	}
}

// Evaluate reports whether attrs satisfy the query.
func Evaluate(node Node, attrs Attributes) (bool, error) {
	if err := Validate(node); err != nil {
		return false, err
	}
	return evaluate(node, attrs), nil
}

func evaluate(node Node, attrs Attributes) bool {
	switch node.Kind {
	case KindAnd:
		for _, child := range node.Children {
			if !evaluate(child, attrs) {
				return false
			}
		}
		return true
	case KindOr:
		for _, child := range node.Children {
			if evaluate(child, attrs) {
				return true
			}
		}
		return false
	case KindNot:
		return !evaluate(node.Children[0], attrs)
	default:
		return evaluateRule(node, attrs[node.Attribute])
	}
}

func evaluateRule(node Node, actual []string) bool {
	switch node.Operator {
	case OpExists:
		return len(actual) > 0
	case OpEquals:
		return containsNormalized(actual, node.Values[0])
	case OpNotEquals:
		return !containsNormalized(actual, node.Values[0])
	case OpIn, OpContainsAny:
		return anyIn(actual, node.Values)
	case OpNotIn:
		return !anyIn(actual, node.Values)
	case OpContainsAll:
		for _, want := range node.Values {
			if !containsNormalized(actual, want) {
				return false
			}
		}
		return true
	case OpGTE, OpLTE:
		if len(actual) == 0 {
			return false
		}
		got, err := strconv.ParseFloat(actual[0], 64)
		if err != nil {
			return false
		}
		want, _ := strconv.ParseFloat(node.Values[0], 64)
		if node.Operator == OpGTE {
			return got >= want
		}
		return got <= want
	default:
		return false
	}
}

func anyIn(actual, candidates []string) bool {
	for _, c := range candidates {
		if containsNormalized(actual, c) {
			return true
		}
	}
	return false
}

func containsNormalized(values []string, want string) bool {
	target := normalize(want)
	for _, v := range values {
		if normalize(v) == target {
			return true
		}
	}
	return false
}

// normalize composes and case-folds a value. Casers hold state, so a fresh
// one is created per call.
func normalize(value string) string {
	return cases.Fold().String(norm.NFC.String(value))
}
