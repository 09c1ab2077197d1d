// Package beads reads work items from the beads issue tracker, through its
// CLI and through the project-local JSONL export.
package beads

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Issue statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusClosed     = "closed"
	StatusTombstone  = "tombstone"
)

// Issue is one work item. Field names follow the tracker's JSON output.
type Issue struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Status       string       `json:"status"`
	Priority     int          `json:"priority"`
	IssueType    string       `json:"issue_type,omitempty"`
	Assignee     string       `json:"assignee,omitempty"`
	Labels       []string     `json:"labels,omitempty"`
	CreatedAt    string       `json:"created_at,omitempty"`
	UpdatedAt    string       `json:"updated_at,omitempty"`
	ClosedAt     string       `json:"closed_at,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Dependents   []Dependency `json:"dependents,omitempty"`
}

// Dependency is an edge as written in the JSONL export (issue_id,
// depends_on_id) or as expanded by `show` (id, title, status).
type Dependency struct {
	IssueID        string `json:"issue_id,omitempty"`
	DependsOnID    string `json:"depends_on_id,omitempty"`
	Type           string `json:"type,omitempty"`
	ID             string `json:"id,omitempty"`
	Title          string `json:"title,omitempty"`
	Status         string `json:"status,omitempty"`
	DependencyType string `json:"dependency_type,omitempty"`
}

// IsClosed reports whether the issue is finished.
func (i Issue) IsClosed() bool {
	return i.Status == StatusClosed || i.Status == StatusTombstone
}

// Dir returns the tracker directory of a project.
func Dir(projectDir string) string {
	return filepath.Join(projectDir, ".beads")
}

// SnapshotPath returns the JSONL export of a project.
func SnapshotPath(projectDir string) string {
	return filepath.Join(Dir(projectDir), "issues.jsonl")
}

// ReadSnapshot reads the JSONL export directly. Later lines win for a
// repeated id; malformed lines and tombstones are skipped. The result is
// sorted by id.
func ReadSnapshot(projectDir string) ([]Issue, error) {
	f, err := os.Open(SnapshotPath(projectDir))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	// Descriptions can be long markdown documents.
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	latest := map[string]Issue{}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var issue Issue
		if err := json.Unmarshal([]byte(line), &issue); err != nil {
			continue
		}
		if issue.ID == "" {
			continue
		}
		latest[issue.ID] = issue
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", SnapshotPath(projectDir), err)
	}

	issues := make([]Issue, 0, len(latest))
	for _, issue := range latest {
		if issue.Status == StatusTombstone {
			continue
		}
		issues = append(issues, issue)
	}
	sortIssues(issues)
	return issues, nil
}

// decodeIssues accepts either a JSON array of issues or a single issue
// object. Anything else decodes to nil.
func decodeIssues(out string) []Issue {
	out = strings.TrimSpace(out)
	switch {
	case strings.HasPrefix(out, "["):
		var issues []Issue
		if err := json.Unmarshal([]byte(out), &issues); err != nil {
			return nil
		}
		return issues
	case strings.HasPrefix(out, "{"):
		var issue Issue
		if err := json.Unmarshal([]byte(out), &issue); err != nil || issue.ID == "" {
			return nil
		}
		return []Issue{issue}
	}
	return nil
}

func sortIssues(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
}
