// Package resource declares the static description of every manageable entity:
// its columns, which of them clients may filter, search and sort on, and the
// state graph that status changes must follow. Schemas are registered once at
// startup in a Registry and read concurrently afterwards.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/consejo-social/veeduria/internal/db/models"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Audit action names recorded by the engines.
const (
	AuditCreate      = "create"
	AuditUpdate      = "update"
	AuditDelete      = "delete"
	AuditStateChange = "state_change"
	AuditAssign      = "assign"
)

// Names of the actions generated for soft-deletable schemas.
const (
	ActionDelete  = "eliminar"
	ActionRestore = "restaurar"
)

// StatePreviousColumn stores the state a soft-deleted record had before deletion.
const StatePreviousColumn = "estado_previo"

// Field describes one column a client can see or write.
type Field struct {
	Name string
	Kind Kind
	// Writable fields are accepted in create/update bodies.
	Writable bool
	// Required fields must be present on create.
	Required bool
	// Rules is a validator tag applied to string and integer values.
	Rules string
	// Hidden fields are never returned to clients.
	Hidden bool
	// Hash fields are stored as a bcrypt hash in HashColumn.
	Hash       bool
	HashColumn string
	// Immutable fields may be set on create but not changed afterwards.
	Immutable bool
	// Positive numeric fields must be greater than zero.
	Positive bool
}

// FilterKind selects the comparison a filter applies.
type FilterKind int

const (
	FilterEqual FilterKind = iota
	FilterPartial
	FilterRange
	FilterDateRange
	FilterSet
)

// Filter maps a query parameter to a column comparison.
type Filter struct {
	Param  string
	Column string
	Kind   FilterKind
	// ValueKind is the type query values are parsed as. Defaults to the
	// column's field kind, or KindString.
	ValueKind Kind
	// FromParam/ToParam name the bounds of date ranges. They default to
	// Param+"_desde" and Param+"_hasta".
	FromParam string
	ToParam   string
}

// MinParam and MaxParam name the bounds of a range filter.
func (f Filter) MinParam() string { return f.Param + "_min" }
func (f Filter) MaxParam() string { return f.Param + "_max" }

// Bounds returns the parameter names of a date range filter.
func (f Filter) Bounds() (from, to string) {
	from, to = f.FromParam, f.ToParam
	if from == "" {
		from = f.Param + "_desde"
	}
	if to == "" {
		to = f.Param + "_hasta"
	}
	return from, to
}

// Param is an input accepted by an action endpoint.
type Param struct {
	Name     string
	Kind     Kind
	Required bool
	Rules    string
}

// GuardFunc checks a business precondition inside the action's transaction,
// after the row has been locked. It returns a PreconditionFailed error to
// refuse the action.
type GuardFunc func(ctx context.Context, tx *sqlx.Tx, rec models.Record, params map[string]any) error

// ApplyFunc returns extra column values to write alongside the state change.
// It may run further statements on tx.
type ApplyFunc func(ctx context.Context, tx *sqlx.Tx, rec models.Record, params map[string]any) (map[string]any, error)

// Action is a named operation that moves a record between states.
type Action struct {
	Name string
	// From lists the states the action may start from.
	From []string
	// To is the fixed target state.
	To string
	// TargetParam names a param holding the target; it must be one of Targets.
	TargetParam string
	Targets     []string
	// Stay actions keep the current state and only write Apply's columns.
	Stay bool
	// Restore actions go back to the state saved in estado_previo.
	Restore bool
	// AuditAction defaults to state_change.
	AuditAction string
	Params      []Param
	// By lists the actor types allowed to run the action; empty falls back
	// to the schema's WriteBy.
	By    []string
	Guard GuardFunc
	Apply ApplyFunc
}

// Audit returns the audit action name recorded for a.
func (a *Action) Audit() string {
	if a.AuditAction != "" {
		return a.AuditAction
	}
	return AuditStateChange
}

// DeletePolicy controls DELETE on a resource.
type DeletePolicy struct {
	// Soft deletion moves the record to Schema.DeletedState.
	Soft bool
	// From restricts the states a record may be deleted from; empty means any.
	From  []string
	Guard GuardFunc
	// Disabled resources reject DELETE entirely.
	Disabled bool
}

// Schema is the static descriptor of one resource.
type Schema struct {
	// Name is the label used in messages and audit entity types.
	Name string
	// Path is the URL segment and registry key.
	Path  string
	Table string

	Fields       []Field
	Filters      []Filter
	SearchFields []string
	SortFields   []string
	DefaultSort  string
	DefaultDir   Direction

	StateColumn  string
	States       []string
	InitialState string
	DeletedState string
	// EditableFrom limits updates to records in these states; empty means any
	// state except DeletedState.
	EditableFrom []string
	Actions      []Action
	Delete       DeletePolicy

	// OwnerColumn scopes reads to the acting client and is set on create.
	OwnerColumn string
	// StorageField holds the storage key of an object owned by the row.
	StorageField string
	// Invalidates lists extra cache prefixes dropped after writes.
	Invalidates []string
	// ListCacheTTL caches list pages for this long; zero disables it. Only
	// resources written solely through the record service may set it.
	ListCacheTTL time.Duration

	// ReadBy and WriteBy list the actor types allowed to read and write;
	// empty means any authenticated actor. Administrators are always allowed.
	ReadBy  []string
	WriteBy []string
	// OwnerScopeStaff extends owner scoping from clients to operators.
	OwnerScopeStaff bool
	ReadOnly        bool
	// CreateDisabled resources are created by a dedicated endpoint only.
	CreateDisabled bool
	// AppendOnly tables have no updated_at column.
	AppendOnly bool

	fields  map[string]Field
	actions map[string]*Action
	graph   map[string][]string
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Action returns the action with the given name.
func (s *Schema) Action(name string) (*Action, bool) {
	a, ok := s.actions[name]
	return a, ok
}

func allowed(list []string, actorType string) bool {
	return actorType == models.ActorAdministrator || len(list) == 0 || slices.Contains(list, actorType)
}

// CanRead reports whether actorType may list and fetch records.
func (s *Schema) CanRead(actorType string) bool {
	return allowed(s.ReadBy, actorType)
}

// CanWrite reports whether actorType may create, update and delete records.
func (s *Schema) CanWrite(actorType string) bool {
	return !s.ReadOnly && allowed(s.WriteBy, actorType)
}

// CanRun reports whether actorType may run a.
func (s *Schema) CanRun(a *Action, actorType string) bool {
	if s.ReadOnly {
		return false
	}
	if len(a.By) > 0 {
		return allowed(a.By, actorType)
	}
	return allowed(s.WriteBy, actorType)
}

// ScopesOwner reports whether reads by actorType are limited to owned rows.
func (s *Schema) ScopesOwner(actorType string) bool {
	if s.OwnerColumn == "" {
		return false
	}
	switch actorType {
	case models.ActorClient:
		return true
	case models.ActorOperator:
		return s.OwnerScopeStaff
	}
	return false
}

// HasStates reports whether the resource has a status column.
func (s *Schema) HasStates() bool {
	return s.StateColumn != ""
}

// HasState reports whether st is a member of States.
func (s *Schema) HasState(st string) bool {
	return slices.Contains(s.States, st)
}

// SoftDeletes reports whether DELETE moves the record to DeletedState.
func (s *Schema) SoftDeletes() bool {
	return s.Delete.Soft && s.DeletedState != ""
}

// Transitions returns the allowed next states per current state.
func (s *Schema) Transitions() map[string][]string {
	return s.graph
}

// CanTransition reports whether from → to is an edge of the state graph.
func (s *Schema) CanTransition(from, to string) bool {
	return slices.Contains(s.graph[from], to)
}

// IsTerminal reports whether no action leaves st other than deletion.
func (s *Schema) IsTerminal(st string) bool {
	for _, a := range s.actions {
		if a.Name == ActionDelete || !slices.Contains(a.From, st) {
			continue
		}
		return false
	}
	return true
}

// Columns returns the column list selected for the resource.
func (s *Schema) Columns() []string {
	cols := []string{"id"}
	if s.HasStates() {
		cols = append(cols, s.StateColumn)
	}
	if s.SoftDeletes() {
		cols = append(cols, StatePreviousColumn)
	}
	for _, f := range s.Fields {
		if f.Hidden || f.Hash {
			continue
		}
		cols = append(cols, f.Name)
	}
	cols = append(cols, "created_at")
	if !s.AppendOnly {
		cols = append(cols, "updated_at")
	}
	return cols
}

// Normalize converts a scanned row into a Record: numeric columns become
// decimals, jsonb columns become raw JSON and other byte columns become text.
func (s *Schema) Normalize(row map[string]any) models.Record {
	rec := make(models.Record, len(row))
	for col, v := range row {
		b, isBytes := v.([]byte)
		if !isBytes {
			rec[col] = v
			continue
		}
		f, known := s.fields[col]
		switch {
		case known && f.Kind == KindDecimal:
			if d, err := decimal.NewFromString(string(b)); err == nil {
				rec[col] = d
			} else {
				rec[col] = string(b)
			}
		case known && f.Kind == KindJSON:
			rec[col] = json.RawMessage(slices.Clone(b))
		default:
			rec[col] = string(b)
		}
	}
	return rec
}

// ResolveTarget computes the state the action would move rec to.
func (s *Schema) ResolveTarget(a *Action, rec models.Record, params map[string]any) (string, error) {
	current := rec.String(s.StateColumn)
	switch {
	case a.Stay:
		return current, nil
	case a.Restore:
		prev := rec.String(StatePreviousColumn)
		if prev == "" {
			prev = s.InitialState
		}
		return prev, nil
	case a.TargetParam != "":
		target, _ := params[a.TargetParam].(string)
		if !slices.Contains(a.Targets, target) {
			return "", fmt.Errorf("target %q not allowed for %s", target, a.Name)
		}
		return target, nil
	default:
		return a.To, nil
	}
}

func (s *Schema) build() error {
	if s.Path == "" || s.Table == "" {
		return fmt.Errorf("schema %q: path and table are required", s.Name)
	}
	if s.Name == "" {
		s.Name = s.Path
	}
	if s.DefaultDir == "" {
		s.DefaultDir = Desc
	}
	if s.DefaultSort == "" {
		s.DefaultSort = "id"
	}

	s.fields = make(map[string]Field, len(s.Fields))
	for _, f := range s.Fields {
		if _, dup := s.fields[f.Name]; dup {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		s.fields[f.Name] = f
	}

	known := lo.SliceToMap(s.Columns(), func(c string) (string, bool) { return c, true })

	if !slices.Contains(s.SortFields, s.DefaultSort) && s.DefaultSort != "id" {
		return fmt.Errorf("schema %q: default sort %q is not sortable", s.Name, s.DefaultSort)
	}
	for _, c := range s.SortFields {
		if !known[c] {
			return fmt.Errorf("schema %q: sort field %q is not a column", s.Name, c)
		}
	}
	for _, c := range s.SearchFields {
		f, ok := s.fields[c]
		if !ok || (f.Kind != KindString && f.Kind != KindText) {
			return fmt.Errorf("schema %q: search field %q must be a text column", s.Name, c)
		}
	}
	for i := range s.Filters {
		f := &s.Filters[i]
		if f.Column == "" {
			f.Column = f.Param
		}
		if !known[f.Column] {
			return fmt.Errorf("schema %q: filter %q refers to unknown column %q", s.Name, f.Param, f.Column)
		}
		if f.ValueKind == "" {
			f.ValueKind = s.columnKind(f.Column)
		}
	}

	return s.buildStates()
}

func (s *Schema) columnKind(col string) Kind {
	switch col {
	case "id":
		return KindInt
	case "created_at", "updated_at":
		return KindTime
	}
	if f, ok := s.fields[col]; ok {
		return f.Kind
	}
	return KindString
}

func (s *Schema) buildStates() error {
	s.actions = make(map[string]*Action)
	s.graph = make(map[string][]string)
	if !s.HasStates() {
		if len(s.Actions) > 0 {
			return fmt.Errorf("schema %q: actions require a state column", s.Name)
		}
		return nil
	}
	if !s.HasState(s.InitialState) {
		return fmt.Errorf("schema %q: initial state %q is not a state", s.Name, s.InitialState)
	}
	if s.DeletedState != "" && !s.HasState(s.DeletedState) {
		return fmt.Errorf("schema %q: deleted state %q is not a state", s.Name, s.DeletedState)
	}

	actions := slices.Clone(s.Actions)
	if s.SoftDeletes() {
		from := s.Delete.From
		if len(from) == 0 {
			from = lo.Without(s.States, s.DeletedState)
		}
		actions = append(actions,
			Action{Name: ActionDelete, From: from, To: s.DeletedState, AuditAction: AuditDelete, Guard: s.Delete.Guard},
			Action{Name: ActionRestore, From: []string{s.DeletedState}, Restore: true},
		)
	}

	for i := range actions {
		a := &actions[i]
		if _, dup := s.actions[a.Name]; dup {
			return fmt.Errorf("schema %q: duplicate action %q", s.Name, a.Name)
		}
		if len(a.From) == 0 {
			return fmt.Errorf("schema %q: action %q has no source states", s.Name, a.Name)
		}
		targets := []string{a.To}
		switch {
		case a.Stay:
			targets = nil
		case a.Restore:
			targets = lo.Without(s.States, s.DeletedState)
		case a.TargetParam != "":
			targets = a.Targets
		}
		for _, from := range a.From {
			if !s.HasState(from) {
				return fmt.Errorf("schema %q: action %q starts from unknown state %q", s.Name, a.Name, from)
			}
			edges := targets
			if a.Stay {
				edges = []string{from}
			}
			for _, to := range edges {
				if !s.HasState(to) {
					return fmt.Errorf("schema %q: action %q targets unknown state %q", s.Name, a.Name, to)
				}
				if !slices.Contains(s.graph[from], to) {
					s.graph[from] = append(s.graph[from], to)
				}
			}
		}
		s.actions[a.Name] = a
	}
	s.Actions = actions
	return nil
}
