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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// Record is one persisted evaluation result.
type Record struct {
	TestID     string    `json:"testId"`
	AgentModel string    `json:"agentModel"`
	JudgeModel string    `json:"judgeModel"`
	Passed     bool      `json:"passed"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"durationMs"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Key is the database key: {agentModel}:{judgeModel}:{testId}.
func (r Record) Key() string {
	return fmt.Sprintf("%s:%s:%s", r.AgentModel, r.JudgeModel, r.TestID)
}

// DB is the JSON results database. Writes replace the record under the
// same key, so only the latest run per key survives.
type DB struct {
	path    string
	records map[string]Record
}

// OpenDB loads the database at path, starting empty when the file does
// not exist yet.
func OpenDB(path string) (*DB, error) {
	db := &DB{path: path, records: make(map[string]Record)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return db, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read results database %s", path)
	}
	if err := json.Unmarshal(data, &db.records); err != nil {
		return nil, errors.Wrapf(err, "parse results database %s", path)
	}
	return db, nil
}

// Put stores a record, replacing any previous one under the same key.
func (db *DB) Put(rec Record) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	db.records[rec.Key()] = rec
}

// Get returns the latest record for the key triple.
func (db *DB) Get(agentModel, judgeModel, testID string) (Record, bool) {
	rec, ok := db.records[Record{TestID: testID, AgentModel: agentModel, JudgeModel: judgeModel}.Key()]
	return rec, ok
}

// Len returns the number of stored records.
func (db *DB) Len() int { return len(db.records) }

// Save writes the database back to disk, creating parent directories as
// needed.
func (db *DB) Save() error {
	if dir := filepath.Dir(db.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create results directory %s", dir)
		}
	}
	data, err := json.MarshalIndent(db.records, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal results database")
	}
	return os.WriteFile(db.path, data, 0o644)
}
