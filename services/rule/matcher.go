package rule

import (
	"encoding/json"

	"growth-pipeline/pkg/celengine"
	"growth-pipeline/services/growthevent"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// Matcher filters rules by their optional CEL condition.
type Matcher struct {
	engine *celengine.Engine
}

func NewMatcher() (*Matcher, error) {
	engine, err := celengine.New(map[string]*cel.Type{
		"business":  cel.StringType,
		"event_key": cel.StringType,
		"user_id":   cel.IntType,
		"target_id": cel.StringType,
		"ip":        cel.StringType,
		"device_id": cel.StringType,
		"context":   cel.DynType,
	})
	if err != nil {
		return nil, err
	}
	return &Matcher{engine: engine}, nil
}

// Validate compiles a rule condition.
func (m *Matcher) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	return m.engine.Validate(expr)
}

func attributes(e *growthevent.GrowthEvent) map[string]any {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}

	var ctx any = map[string]any{}
	if len(e.Context) > 0 {
		var v any
		if err := json.Unmarshal(e.Context, &v); err == nil && v != nil {
			ctx = v
		}
	}

	return map[string]any{
		"business":  e.Business,
		"event_key": e.EventKey,
		"user_id":   e.UserID,
		"target_id": deref(e.TargetID),
		"ip":        deref(e.IP),
		"device_id": deref(e.DeviceID),
		"context":   ctx,
	}
}

func (m *Matcher) match(ruleID int64, expr string, attrs map[string]any) bool {
	if expr == "" {
		return true
	}
	ok, err := m.engine.Evaluate(expr, attrs)
	if err != nil {
		zap.L().Warn("rule condition failed, skipping rule",
			zap.Int64("rule_id", ruleID),
			zap.String("expression", expr),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// Filter keeps the rules whose condition holds for e.
func (m *Matcher) Filter(e *growthevent.GrowthEvent, set RuleSet) RuleSet {
	attrs := attributes(e)

	var out RuleSet
	for _, r := range set.Points {
		if m.match(r.ID, r.Expression, attrs) {
			out.Points = append(out.Points, r)
		}
	}
	for _, r := range set.Experience {
		if m.match(r.ID, r.Expression, attrs) {
			out.Experience = append(out.Experience, r)
		}
	}
	for _, r := range set.Badges {
		if m.match(r.ID, r.Expression, attrs) {
			out.Badges = append(out.Badges, r)
		}
	}
	return out
}
