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

// Package eval is the evaluation harness: it loads YAML test cases,
// drives tool calls through a caller-supplied function, checks the
// results against expressions, and keeps a JSON results database where
// the latest record per (agent model, judge model, test id) wins.
//
// The harness is a thin shell around the core; it owns no transport and
// no tool logic.
package eval

import (
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// Case is one evaluation case. A file may hold a single case or a list
// under a top-level "cases" key.
type Case struct {
	// ID identifies the case in the results database. Required and
	// unique within a run.
	ID          string `yaml:"id"`
	Description string `yaml:"description"`

	// Tool and Arguments form the call.
	Tool      string         `yaml:"tool"`
	Arguments map[string]any `yaml:"arguments"`

	// Extract is an optional gojq expression applied to the parsed tool
	// output before the expectation runs. Without it the expectation
	// sees the parsed output as-is.
	Extract string `yaml:"extract"`

	// Expect is a boolean expr expression over the environment
	// {isError, text, output, itemCount}. Empty means "call succeeds".
	Expect string `yaml:"expect"`
}

type caseFile struct {
	Case  `yaml:",inline"`
	Cases []Case `yaml:"cases"`
}

// LoadCases reads every case file matching pattern (doublestar syntax,
// e.g. "evals/**/*.yaml"). Files are visited in sorted order; case ids
// must be unique across all of them.
func LoadCases(pattern string) ([]Case, error) {
	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, &errors.ConfigError{Key: "cases", Reason: fmt.Sprintf("bad case pattern %q", pattern), Cause: err}
	}
	if len(paths) == 0 {
		return nil, &errors.NotFoundError{Resource: "eval cases", ID: pattern}
	}
	sort.Strings(paths)

	var out []Case
	seen := make(map[string]string)
	for _, path := range paths {
		cases, err := loadCaseFile(path)
		if err != nil {
			return nil, err
		}
		for _, c := range cases {
			if c.ID == "" {
				return nil, &errors.ValidationError{Field: "id", Message: fmt.Sprintf("case without id in %s", path)}
			}
			if c.Tool == "" {
				return nil, &errors.ValidationError{Field: "tool", Message: fmt.Sprintf("case %s has no tool", c.ID)}
			}
			if prev, dup := seen[c.ID]; dup {
				return nil, &errors.ValidationError{
					Field:   "id",
					Message: fmt.Sprintf("case id %q in %s already defined in %s", c.ID, path, prev),
				}
			}
			seen[c.ID] = path
			out = append(out, c)
		}
	}
	return out, nil
}

func loadCaseFile(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read case file %s", path)
	}
	var file caseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parse case file %s", path)
	}
	if len(file.Cases) > 0 {
		return file.Cases, nil
	}
	return []Case{file.Case}, nil
}
