package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/pkg/apperror"
)

const propertiesPrefix = "properties."

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
	kindTime
	kindList
	kindDynamic
)

// filterFields are the node attributes addressable by filters and groupBy.
var filterFields = map[string]fieldKind{
	"label":             kindString,
	"description":       kindString,
	"node_type":         kindString,
	"source_system":     kindString,
	"cluster_id":        kindString,
	"confidence_score":  kindNumber,
	"degree_centrality": kindNumber,
	"pagerank_score":    kindNumber,
	"is_active":         kindBool,
	"created_at":        kindTime,
	"updated_at":        kindTime,
	"tags":              kindList,
	"categories":        kindList,
}

type nodePredicate func(*Node) bool

// compileFilters validates every expression and returns their conjunction.
func compileFilters(exprs []FilterExpr) (nodePredicate, error) {
	preds := make([]nodePredicate, 0, len(exprs))
	for i, expr := range exprs {
		p, err := compileFilter(expr)
		if err != nil {
			return nil, apperror.NewValidation(fmt.Sprintf("filter %d: %s", i, err.Error())).
				WithDetails(map[string]any{"field": expr.Field, "operator": expr.Operator})
		}
		preds = append(preds, p)
	}
	return func(n *Node) bool {
		for _, p := range preds {
			if !p(n) {
				return false
			}
		}
		return true
	}, nil
}

func compileFilter(expr FilterExpr) (nodePredicate, error) {
	kind, err := resolveField(expr.Field)
	if err != nil {
		return nil, err
	}
	get := func(n *Node) any { return fieldValue(n, expr.Field) }

	switch expr.Operator {
	case OpEquals, OpNotEquals:
		if isComposite(expr.Value) {
			return nil, fmt.Errorf("%s needs a scalar value", expr.Operator)
		}
		want := expr.Value
		if kind == kindTime {
			t, err := parseTime(want)
			if err != nil {
				return nil, err
			}
			want = t
		}
		if expr.Field == "node_type" {
			if err := checkNodeType(want); err != nil {
				return nil, err
			}
		}
		negate := expr.Operator == OpNotEquals
		return func(n *Node) bool {
			return matches(get(n), want) != negate
		}, nil

	case OpContains:
		s, ok := expr.Value.(string)
		if !ok {
			return nil, fmt.Errorf("contains needs a string value")
		}
		needle := strings.ToLower(s)
		return func(n *Node) bool {
			switch v := get(n).(type) {
			case string:
				return strings.Contains(strings.ToLower(v), needle)
			case []any:
				for _, item := range v {
					if str, ok := item.(string); ok && strings.EqualFold(str, s) {
						return true
					}
				}
			}
			return false
		}, nil

	case OpGreaterThan, OpLessThan:
		if kind == kindBool || kind == kindList {
			return nil, fmt.Errorf("%s is not ordered", expr.Field)
		}
		want := expr.Value
		if kind == kindTime {
			t, err := parseTime(want)
			if err != nil {
				return nil, err
			}
			want = t
		} else if isComposite(want) || want == nil {
			return nil, fmt.Errorf("%s needs a scalar value", expr.Operator)
		}
		sign := 1
		if expr.Operator == OpLessThan {
			sign = -1
		}
		return func(n *Node) bool {
			c, ok := compare(get(n), want)
			return ok && c == sign
		}, nil

	case OpIn:
		items, ok := expr.Value.([]any)
		if !ok {
			if strs, isStrs := expr.Value.([]string); isStrs {
				items = make([]any, len(strs))
				for i, s := range strs {
					items[i] = s
				}
				ok = true
			}
		}
		if !ok {
			return nil, fmt.Errorf("in needs an array value")
		}
		if expr.Field == "node_type" {
			for _, item := range items {
				if err := checkNodeType(item); err != nil {
					return nil, err
				}
			}
		}
		return func(n *Node) bool {
			v := get(n)
			for _, item := range items {
				if matches(v, item) {
					return true
				}
			}
			return false
		}, nil
	}

	return nil, fmt.Errorf("unknown operator %q", expr.Operator)
}

// checkNodeType rejects node_type filter values outside the enum.
func checkNodeType(v any) error {
	if s, ok := v.(string); ok && NodeType(s).Valid() {
		return nil
	}
	if t, ok := v.(NodeType); ok && t.Valid() {
		return nil
	}
	return fmt.Errorf("unknown node type %v", v)
}

func resolveField(field string) (fieldKind, error) {
	if key, ok := strings.CutPrefix(field, propertiesPrefix); ok {
		if key == "" {
			return 0, fmt.Errorf("empty property key")
		}
		return kindDynamic, nil
	}
	kind, ok := filterFields[field]
	if !ok {
		return 0, fmt.Errorf("unknown field %q", field)
	}
	return kind, nil
}

// fieldValue returns the attribute normalized to JSON-like Go values:
// string, float64, bool, time.Time, []any or nil.
func fieldValue(n *Node, field string) any {
	if key, ok := strings.CutPrefix(field, propertiesPrefix); ok {
		return normalize(n.Properties[key])
	}
	switch field {
	case "label":
		return n.Label
	case "description":
		return derefString(n.Description)
	case "node_type":
		return string(n.NodeType)
	case "source_system":
		return derefString(n.SourceSystem)
	case "cluster_id":
		if n.ClusterID == nil {
			return nil
		}
		return n.ClusterID.String()
	case "confidence_score":
		return derefFloat(n.ConfidenceScore)
	case "degree_centrality":
		return derefFloat(n.DegreeCentrality)
	case "pagerank_score":
		return derefFloat(n.PagerankScore)
	case "is_active":
		return n.IsActive
	case "created_at":
		return n.CreatedAt
	case "updated_at":
		return n.UpdatedAt
	case "tags":
		return stringsToAny(n.Tags)
	case "categories":
		return stringsToAny(n.Categories)
	}
	return nil
}

// matches is equality, or membership when the attribute is a list.
func matches(v, want any) bool {
	want = normalize(want)
	if list, ok := v.([]any); ok {
		if _, wantList := want.([]any); !wantList {
			for _, item := range list {
				if c, ok := compare(item, want); ok && c == 0 {
					return true
				}
			}
			return false
		}
	}
	if v == nil || want == nil {
		return v == nil && want == nil
	}
	if c, ok := compare(v, want); ok {
		return c == 0
	}
	a, _ := json.Marshal(v)
	b, _ := json.Marshal(want)
	return string(a) == string(b)
}

// compare orders two scalars of the same kind. ok is false when they
// are not comparable.
func compare(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		return cmpOrdered(av, bv), true
	case string:
		switch bv := b.(type) {
		case string:
			return strings.Compare(av, bv), true
		case time.Time:
			t, err := time.Parse(time.RFC3339, av)
			if err != nil {
				return 0, false
			}
			return t.Compare(bv), true
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return av.Compare(bv), true
		case string:
			t, err := time.Parse(time.RFC3339, bv)
			if err != nil {
				return 0, false
			}
			return av.Compare(t), true
		}
	}
	return 0, false
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// normalize maps Go numeric and identifier types onto their JSON forms.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case uuid.UUID:
		return x.String()
	case NodeType:
		return string(x)
	case []string:
		return stringsToAny(x)
	}
	return v
}

func isComposite(v any) bool {
	switch v.(type) {
	case []any, []string, map[string]any:
		return true
	}
	return false
}

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		t, err := time.Parse(time.RFC3339, x)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", x)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("timestamp must be an RFC 3339 string")
}

// groupKey renders the groupBy value of n.
func groupKey(n *Node, field string) string {
	switch v := fieldValue(n, field).(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func validateGroupBy(field string) error {
	kind, err := resolveField(field)
	if err != nil {
		return apperror.NewValidation("groupBy: " + err.Error())
	}
	if kind == kindList {
		return apperror.NewValidation(fmt.Sprintf("groupBy: %s is not a scalar field", field))
	}
	return nil
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
