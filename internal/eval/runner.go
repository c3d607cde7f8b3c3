// Copyright 2025 Apify Technologies s.r.o.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/itchyny/gojq"

	"github.com/apify/actors-mcp-server-go/internal/tools"
)

// CallFunc executes one tool call. The harness stays decoupled from the
// dispatcher so tests can plug in canned results.
type CallFunc func(ctx context.Context, tool string, args map[string]any) (*tools.Result, error)

// Outcome is the result of one case.
type Outcome struct {
	Case     Case
	Passed   bool
	Detail   string
	Duration time.Duration
}

// Runner executes cases sequentially.
type Runner struct {
	Call   CallFunc
	Logger *slog.Logger
}

// Run executes every case and returns the outcomes in case order. A
// failing case never stops the run; ctx cancellation does.
func (r *Runner) Run(ctx context.Context, cases []Case) ([]Outcome, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]Outcome, 0, len(cases))
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		outcome := r.runCase(ctx, c)
		logger.Info("eval case finished",
			"case", c.ID,
			"tool", c.Tool,
			"passed", outcome.Passed,
			"duration_ms", outcome.Duration.Milliseconds(),
		)
		out = append(out, outcome)
	}
	return out, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) Outcome {
	start := time.Now()
	outcome := Outcome{Case: c}

	result, err := r.Call(ctx, c.Tool, c.Arguments)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Detail = fmt.Sprintf("call failed: %v", err)
		return outcome
	}

	text := joinText(result)
	output := parseOutput(result, text)

	if c.Extract != "" {
		extracted, err := applyExtract(c.Extract, output)
		if err != nil {
			outcome.Detail = fmt.Sprintf("extract failed: %v", err)
			return outcome
		}
		output = extracted
	}

	if c.Expect == "" {
		outcome.Passed = !result.IsError
		if result.IsError {
			outcome.Detail = "tool returned an error result"
		}
		return outcome
	}

	passed, err := evalExpect(c.Expect, map[string]any{
		"isError":   result.IsError,
		"text":      text,
		"output":    output,
		"itemCount": itemCount(output),
	})
	if err != nil {
		outcome.Detail = fmt.Sprintf("expectation failed to evaluate: %v", err)
		return outcome
	}
	outcome.Passed = passed
	if !passed {
		outcome.Detail = fmt.Sprintf("expectation %q not met", c.Expect)
	}
	return outcome
}

// joinText concatenates the text content blocks.
func joinText(result *tools.Result) string {
	var parts []string
	for _, content := range result.Content {
		if content.Text != "" {
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseOutput prefers structured content, then the text parsed as JSON,
// then the raw text.
func parseOutput(result *tools.Result, text string) any {
	if result.Structured != nil {
		return normalizeJSON(result.Structured)
	}
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	return text
}

// normalizeJSON round-trips a value through encoding/json so gojq only
// sees the types it understands.
func normalizeJSON(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// applyExtract runs a gojq expression and returns its first result.
func applyExtract(expression string, input any) (any, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expression, err)
	}
	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, err
	}
	return v, nil
}

// evalExpect compiles and runs a boolean expr expression against env.
func evalExpect(expression string, env map[string]any) (bool, error) {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", expression, err)
	}
	passed, ok := out.(bool)
	return ok && passed, nil
}

func itemCount(output any) int {
	if list, ok := output.([]any); ok {
		return len(list)
	}
	return 0
}
