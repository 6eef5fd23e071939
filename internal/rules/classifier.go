package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// NoSignalReasoning is reported when no level matched.
const NoSignalReasoning = "Không phát hiện dấu hiệu bất thường"

// Classifier evaluates a rule table in fixed severity order.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	table  *Table
	levels []compiledLevel
}

type compiledLevel struct {
	rule       LevelRule
	conditions []compiledCondition
}

type compiledCondition struct {
	name    string
	program cel.Program
}

// NewClassifier compiles the CEL conditions of a rule table.
func NewClassifier(table *Table) (*Classifier, error) {
	if table == nil {
		table = DefaultTable()
	}

	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("percent", cel.IntType),
		cel.Variable("has_percent", cel.BoolType),
		cel.Variable("has_context", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Classifier{table: table}
	for _, rule := range table.Levels {
		level := compiledLevel{rule: rule}
		for _, cond := range rule.Conditions {
			program, err := compileCondition(env, cond)
			if err != nil {
				return nil, fmt.Errorf("level %s: %w", rule.Level, err)
			}
			level.conditions = append(level.conditions, compiledCondition{name: cond.Name, program: program})
		}
		c.levels = append(c.levels, level)
	}
	return c, nil
}

// Table returns the rule table the classifier was built from.
func (c *Classifier) Table() *Table {
	return c.table
}

// Classify returns the most severe level whose rule matches text.
// Evaluation stops at the first level that matches.
func (c *Classifier) Classify(text string) domain.DetectionResult {
	normalized := Normalize(text)

	var activation map[string]any
	for _, level := range c.levels {
		matched := matchKeywords(normalized, level.rule)
		if len(level.conditions) > 0 {
			if activation == nil {
				activation = conditionVars(normalized)
			}
			matched = append(matched, evalConditions(level, activation)...)
		}

		if m := buildMatch(matched); m.Found {
			return domain.DetectionResult{
				Level:           level.rule.Level,
				MatchedKeywords: m.Matched,
				Reasoning:       m.Reasoning,
			}
		}
	}

	return domain.DetectionResult{
		Level:           domain.SeverityLow,
		MatchedKeywords: []string{},
		Reasoning:       NoSignalReasoning,
	}
}

func conditionVars(text string) map[string]any {
	p, ok := ExtractPercent(text)
	return map[string]any{
		"text":        text,
		"percent":     int64(p),
		"has_percent": ok,
		"has_context": strings.Contains(text, ContextTerm),
	}
}

func evalConditions(level compiledLevel, activation map[string]any) []string {
	var matched []string
	for _, cond := range level.conditions {
		out, _, err := cond.program.Eval(activation)
		if err != nil {
			slog.Warn("rule condition failed",
				"level", level.rule.Level,
				"condition", cond.name,
				"error", err,
			)
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			matched = append(matched, cond.name)
		}
	}
	return matched
}

func compileCondition(env *cel.Env, cond Condition) (cel.Program, error) {
	ast, issues := env.Compile(cond.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition %s: %w", cond.Name, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition %s: expression must return bool, got %s", cond.Name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for condition %s: %w", cond.Name, err)
	}
	return program, nil
}
