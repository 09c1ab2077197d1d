package sessions

import "time"

// SchemaVersion is written into every record.
const SchemaVersion = 1

// State is the coarse activity state of a session.
type State string

const (
	StateBusy       State = "busy"
	StateIdle       State = "idle"
	StateWaiting    State = "waiting"
	StatePermission State = "permission"
)

// Screenshot is a capture produced by a screenshot tool during the session.
type Screenshot struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the persisted state of one agent session. One file per ID.
type Record struct {
	ID            string       `json:"id" jsonschema:"minLength=1"`
	PID           int          `json:"pid" jsonschema:"minimum=0,description=Owning process; 0 for a placeholder"`
	Cwd           string       `json:"cwd"`
	GitRoot       *string      `json:"git_root,omitempty"`
	TmuxTarget    *string      `json:"tmux_target,omitempty"`
	State         State        `json:"state" jsonschema:"enum=busy,enum=idle,enum=waiting,enum=permission"`
	CurrentAction *string      `json:"current_action,omitempty"`
	PromptText    *string      `json:"prompt_text,omitempty"`
	LastUpdate    time.Time    `json:"last_update"`
	LinkedTo      *string      `json:"linked_to,omitempty"`
	Screenshots   []Screenshot `json:"screenshots,omitempty"`
	SchemaVersion int          `json:"schema_version" jsonschema:"minimum=1"`
}

// Target returns the pane target or "".
func (r *Record) Target() string {
	if r == nil || r.TmuxTarget == nil {
		return ""
	}
	return *r.TmuxTarget
}

// Action returns the current action or "".
func (r *Record) Action() string {
	if r == nil || r.CurrentAction == nil {
		return ""
	}
	return *r.CurrentAction
}

// Field names a nullable record field that a Patch can reset.
type Field string

const (
	FieldGitRoot       Field = "git_root"
	FieldTmuxTarget    Field = "tmux_target"
	FieldCurrentAction Field = "current_action"
	FieldPromptText    Field = "prompt_text"
	FieldLinkedTo      Field = "linked_to"
)

// Patch is a partial update. Nil fields are left alone; fields named in
// Clear are reset before the set fields are applied.
type Patch struct {
	PID           *int
	Cwd           *string
	GitRoot       *string
	TmuxTarget    *string
	State         *State
	CurrentAction *string
	PromptText    *string
	LinkedTo      *string
	// Screenshot is appended to the record's screenshot list.
	Screenshot *Screenshot
	Clear      []Field
}

// Input is an Upsert request.
type Input struct {
	ID string
	Patch
}

func (p Patch) applyTo(r *Record) {
	for _, f := range p.Clear {
		switch f {
		case FieldGitRoot:
			r.GitRoot = nil
		case FieldTmuxTarget:
			r.TmuxTarget = nil
		case FieldCurrentAction:
			r.CurrentAction = nil
		case FieldPromptText:
			r.PromptText = nil
		case FieldLinkedTo:
			r.LinkedTo = nil
		}
	}
	if p.PID != nil {
		r.PID = *p.PID
	}
	if p.Cwd != nil {
		r.Cwd = *p.Cwd
	}
	if p.GitRoot != nil {
		r.GitRoot = strPtr(*p.GitRoot)
	}
	if p.TmuxTarget != nil {
		r.TmuxTarget = strPtr(*p.TmuxTarget)
	}
	if p.State != nil {
		r.State = *p.State
	}
	if p.CurrentAction != nil {
		r.CurrentAction = strPtr(*p.CurrentAction)
	}
	if p.PromptText != nil {
		r.PromptText = strPtr(*p.PromptText)
	}
	if p.LinkedTo != nil {
		r.LinkedTo = strPtr(*p.LinkedTo)
	}
	if p.Screenshot != nil {
		r.Screenshots = append(r.Screenshots, *p.Screenshot)
	}
}

// Dedup keeps one record per pane target, the one with the greatest
// LastUpdate. Records without a target are all kept. Order of the
// survivors follows the input.
func Dedup(records []*Record) []*Record {
	winner := make(map[string]*Record)
	for _, r := range records {
		target := r.Target()
		if target == "" {
			continue
		}
		if cur, ok := winner[target]; !ok || r.LastUpdate.After(cur.LastUpdate) {
			winner[target] = r
		}
	}

	out := make([]*Record, 0, len(records))
	for _, r := range records {
		target := r.Target()
		if target != "" && winner[target] != r {
			continue
		}
		out = append(out, r)
	}
	return out
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func statePtr(s State) *State { return &s }
