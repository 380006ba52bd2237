// Package services implements the operations behind the API. Each service
// coordinates repositories, the audit writer and the cache so that every
// mutation and its audit entry commit in one transaction, and derived data is
// dropped only after the commit.
package services

import (
	"context"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/audit"
	"github.com/consejo-social/veeduria/internal/cache"
	"github.com/consejo-social/veeduria/internal/db/models"
	"github.com/consejo-social/veeduria/internal/db/repositories"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/query"
	"github.com/consejo-social/veeduria/internal/resource"
	"github.com/consejo-social/veeduria/internal/storage"
	"github.com/consejo-social/veeduria/internal/telemetry"
	"github.com/consejo-social/veeduria/internal/validation"
)

// ActionForceState labels administrative overrides in metrics.
const ActionForceState = "forzar_estado"

// objectCleanupTimeout bounds removal of a stored object after its row is gone.
const objectCleanupTimeout = 30 * time.Second

// RecordService implements list, CRUD and state transitions for every
// registered resource.
type RecordService struct {
	db        *sqlx.DB
	registry  *resource.Registry
	records   *repositories.RecordRepository
	lists     *query.Engine
	validator *validation.Validator
	audit     *audit.Writer
	cache     cache.Cache
	storage   storage.Storage
}

// NewRecordService creates a RecordService. store may be nil when no resource
// owns stored objects.
func NewRecordService(db *sqlx.DB, registry *resource.Registry, lists *query.Engine, v *validation.Validator,
	w *audit.Writer, c cache.Cache, store storage.Storage) *RecordService {
	if c == nil {
		c = cache.Noop{}
	}
	return &RecordService{
		db:        db,
		registry:  registry,
		records:   repositories.NewRecordRepository(db),
		lists:     lists,
		validator: v,
		audit:     w,
		cache:     c,
		storage:   store,
	}
}

// Registry returns the registry the service resolves names against.
func (s *RecordService) Registry() *resource.Registry {
	return s.registry
}

func forbidden() error {
	return ierr.NewForbidden("No tiene permisos para realizar esta acción")
}

// schema resolves name and checks the actor may read it.
func (s *RecordService) schema(name string, actor models.Actor) (*resource.Schema, error) {
	schema, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !schema.CanRead(actor.Type) {
		return nil, forbidden()
	}
	return schema, nil
}

// List returns one page of records matching the query string.
func (s *RecordService) List(ctx context.Context, name string, values url.Values, actor models.Actor) (*query.Page, error) {
	schema, err := s.schema(name, actor)
	if err != nil {
		return nil, err
	}
	q, err := query.Parse(schema, values, s.lists.Limits())
	if err != nil {
		return nil, err
	}
	scope := "all"
	if schema.ScopesOwner(actor.Type) {
		q.Restrict(schema.OwnerColumn, actor.ID)
		scope = strconv.FormatInt(actor.ID, 10)
	}
	if schema.ListCacheTTL <= 0 {
		return s.lists.List(ctx, schema, q)
	}

	key := cache.GenerateKey(schema.Path, "list", scope, cache.Fingerprint(values))
	var cached query.Page
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	page, err := s.lists.List(ctx, schema, q)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, page, schema.ListCacheTTL)
	return page, nil
}

// Get fetches one record. Records owned by another client are reported as
// missing.
func (s *RecordService) Get(ctx context.Context, name string, id int64, actor models.Actor) (models.Record, error) {
	schema, err := s.schema(name, actor)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.Get(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	if !owns(schema, rec, actor) {
		return nil, ierr.NewNotFound(schema.Name, id)
	}
	return rec, nil
}

// Create validates body against the writable fields and inserts the record in
// its initial state.
func (s *RecordService) Create(ctx context.Context, name string, body map[string]any, actor models.Actor) (models.Record, error) {
	schema, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !schema.CanWrite(actor.Type) {
		return nil, forbidden()
	}
	if schema.CreateDisabled {
		return nil, ierr.NewForbidden("Este recurso se crea desde su endpoint dedicado")
	}
	values, err := s.validator.Body(schema, body, true)
	if err != nil {
		return nil, err
	}
	stampOwner(schema, values, actor)
	if schema.HasStates() {
		values[schema.StateColumn] = schema.InitialState
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ierr.WrapStore(err, "begin insert "+schema.Table)
	}
	defer tx.Rollback() // nolint:errcheck

	rec, err := s.records.Insert(ctx, tx, schema, values)
	if err != nil {
		return nil, err
	}
	entry := actor.Entry(resource.AuditCreate, schema.Name, rec.ID())
	entry.After = rec.Snapshot()
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, ierr.WrapStore(err, "commit insert "+schema.Table)
	}

	s.committed(schema, entry)
	return rec, nil
}

// Update applies a partial update to a record that is still editable.
func (s *RecordService) Update(ctx context.Context, name string, id int64, body map[string]any, actor models.Actor) (models.Record, error) {
	schema, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !schema.CanWrite(actor.Type) {
		return nil, forbidden()
	}
	values, err := s.validator.Body(schema, body, false)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ierr.WrapStore(err, "begin update "+schema.Table)
	}
	defer tx.Rollback() // nolint:errcheck

	before, err := s.lock(ctx, tx, schema, id, actor)
	if err != nil {
		return nil, err
	}
	if !editable(schema, before) {
		return nil, ierr.NewPreconditionf("El registro no puede modificarse en estado '%s'", before.String(schema.StateColumn))
	}

	after, err := s.records.Update(ctx, tx, schema, id, values)
	if err != nil {
		return nil, err
	}
	entry := actor.Entry(resource.AuditUpdate, schema.Name, id)
	entry.Before, entry.After = before.Snapshot(), after.Snapshot()
	entry.Metadata = map[string]any{"campos": sortedKeys(body)}
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, ierr.WrapStore(err, "commit update "+schema.Table)
	}

	s.committed(schema, entry)
	return after, nil
}

// Delete removes a record. Soft-deleting resources run the eliminar action
// instead, so the record stays restorable.
func (s *RecordService) Delete(ctx context.Context, name string, id int64, actor models.Actor) error {
	schema, err := s.registry.Get(name)
	if err != nil {
		return err
	}
	if !schema.CanWrite(actor.Type) || schema.Delete.Disabled {
		return forbidden()
	}
	if schema.SoftDeletes() {
		_, err := s.Transition(ctx, name, id, resource.ActionDelete, nil, actor)
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WrapStore(err, "begin delete "+schema.Table)
	}
	defer tx.Rollback() // nolint:errcheck

	before, err := s.lock(ctx, tx, schema, id, actor)
	if err != nil {
		return err
	}
	if st := before.String(schema.StateColumn); len(schema.Delete.From) > 0 && !slices.Contains(schema.Delete.From, st) {
		return deletionRefused(schema.Delete.From)
	}
	if g := schema.Delete.Guard; g != nil {
		if err := g(ctx, tx, before, nil); err != nil {
			return err
		}
	}
	var object string
	if schema.StorageField != "" {
		if object, err = s.records.StoragePath(ctx, tx, schema, id); err != nil {
			return err
		}
	}
	if err := s.records.Delete(ctx, tx, schema, id); err != nil {
		return err
	}
	entry := actor.Entry(resource.AuditDelete, schema.Name, id)
	entry.Before = before.Snapshot()
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ierr.WrapStore(err, "commit delete "+schema.Table)
	}

	s.committed(schema, entry)
	removeObject(s.storage, object)
	return nil
}

func deletionRefused(from []string) error {
	return ierr.NewPreconditionf("Solo puede eliminarse en estado: %s", strings.Join(from, ", "))
}

// Transition runs a named action on one record. The row is locked for the
// whole check-and-write, so two concurrent calls cannot both leave the same
// state.
func (s *RecordService) Transition(ctx context.Context, name string, id int64, action string, params map[string]any, actor models.Actor) (models.Record, error) {
	schema, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	a, ok := schema.Action(action)
	if !ok {
		return nil, ierr.NewUnknownAction(schema.Name, action)
	}
	if !schema.CanRun(a, actor.Type) {
		return nil, forbidden()
	}

	rec, entry, err := s.transition(ctx, schema, a, id, params, actor)
	observe(schema, a.Name, err)
	if err != nil {
		return nil, err
	}
	s.committed(schema, entry)
	return rec, nil
}

func (s *RecordService) transition(ctx context.Context, schema *resource.Schema, a *resource.Action, id int64,
	params map[string]any, actor models.Actor) (models.Record, *models.AuditEntry, error) {
	params, err := s.validator.Params(a, params)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, ierr.WrapStore(err, "begin "+a.Name)
	}
	defer tx.Rollback() // nolint:errcheck

	before, err := s.lock(ctx, tx, schema, id, actor)
	if err != nil {
		return nil, nil, err
	}
	current := before.String(schema.StateColumn)
	if !slices.Contains(a.From, current) {
		if a.Name == resource.ActionDelete && current != schema.DeletedState {
			return nil, nil, deletionRefused(a.From)
		}
		return nil, nil, ierr.NewIllegalTransition(schema.Name, a.Name, current, a.To)
	}
	target, err := schema.ResolveTarget(a, before, params)
	if err != nil {
		return nil, nil, ierr.Field(a.TargetParam, "debe ser uno de: "+strings.Join(a.Targets, ", "))
	}
	if !a.Stay && !schema.CanTransition(current, target) {
		return nil, nil, ierr.NewIllegalTransition(schema.Name, a.Name, current, target)
	}
	if a.Guard != nil {
		if err := a.Guard(ctx, tx, before, params); err != nil {
			return nil, nil, err
		}
	}

	values := map[string]any{}
	if a.Apply != nil {
		extra, err := a.Apply(ctx, tx, before, params)
		if err != nil {
			return nil, nil, err
		}
		maps.Copy(values, extra)
	}
	if !a.Stay {
		values[schema.StateColumn] = target
	}
	switch {
	case a.Name == resource.ActionDelete:
		values[resource.StatePreviousColumn] = current
	case a.Restore:
		values[resource.StatePreviousColumn] = nil
	}

	after, err := s.records.Update(ctx, tx, schema, id, values)
	if err != nil {
		return nil, nil, err
	}
	entry := actor.Entry(a.Audit(), schema.Name, id)
	entry.Before, entry.After = before.Snapshot(), after.Snapshot()
	entry.Metadata = map[string]any{"accion": a.Name, "estado_anterior": current, "estado_nuevo": target}
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, ierr.WrapStore(err, "commit "+a.Name)
	}
	return after, entry, nil
}

// ForceState sets the state of a record without consulting the graph. Only
// administrators may do so and the value must still be a declared state.
func (s *RecordService) ForceState(ctx context.Context, name string, id int64, estado string, actor models.Actor) (models.Record, error) {
	if !actor.IsAdministrator() {
		return nil, forbidden()
	}
	schema, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !schema.HasStates() || schema.ReadOnly {
		return nil, ierr.Field("estado", "el recurso no tiene estados")
	}
	if !schema.HasState(estado) {
		return nil, ierr.Field("estado", "debe ser uno de: "+strings.Join(schema.States, ", "))
	}

	rec, entry, err := s.forceState(ctx, schema, id, estado, actor)
	observe(schema, ActionForceState, err)
	if err != nil {
		return nil, err
	}
	s.committed(schema, entry)
	return rec, nil
}

func (s *RecordService) forceState(ctx context.Context, schema *resource.Schema, id int64, estado string,
	actor models.Actor) (models.Record, *models.AuditEntry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, ierr.WrapStore(err, "begin "+ActionForceState)
	}
	defer tx.Rollback() // nolint:errcheck

	before, err := s.records.Lock(ctx, tx, schema, id)
	if err != nil {
		return nil, nil, err
	}
	current := before.String(schema.StateColumn)
	values := map[string]any{schema.StateColumn: estado}
	if schema.SoftDeletes() {
		switch {
		case estado == schema.DeletedState && current != schema.DeletedState:
			values[resource.StatePreviousColumn] = current
		case current == schema.DeletedState && estado != schema.DeletedState:
			values[resource.StatePreviousColumn] = nil
		}
	}

	after, err := s.records.Update(ctx, tx, schema, id, values)
	if err != nil {
		return nil, nil, err
	}
	entry := actor.Entry(resource.AuditStateChange, schema.Name, id)
	entry.Before, entry.After = before.Snapshot(), after.Snapshot()
	entry.Metadata = map[string]any{"override": true, "estado_anterior": current, "estado_nuevo": estado}
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, ierr.WrapStore(err, "commit "+ActionForceState)
	}
	return after, entry, nil
}

// History returns the audit entries of one record the actor can see.
func (s *RecordService) History(ctx context.Context, name string, id int64, actor models.Actor) ([]*models.AuditEntry, error) {
	rec, err := s.Get(ctx, name, id, actor)
	if err != nil {
		return nil, err
	}
	schema, _ := s.registry.Get(name)
	return s.audit.QueryByEntity(ctx, schema.Name, rec.ID())
}

// lock reads the record for update and hides it from actors that do not own it.
func (s *RecordService) lock(ctx context.Context, tx *sqlx.Tx, schema *resource.Schema, id int64, actor models.Actor) (models.Record, error) {
	return lockOwned(ctx, s.records, tx, schema, id, actor)
}

func lockOwned(ctx context.Context, records *repositories.RecordRepository, tx *sqlx.Tx, schema *resource.Schema,
	id int64, actor models.Actor) (models.Record, error) {
	rec, err := records.Lock(ctx, tx, schema, id)
	if err != nil {
		return nil, err
	}
	if !owns(schema, rec, actor) {
		return nil, ierr.NewNotFound(schema.Name, id)
	}
	return rec, nil
}

// committed runs the post-commit work of a write: cached aggregates derived
// from the resource are dropped and the audit entries are shipped.
func (s *RecordService) committed(schema *resource.Schema, entries ...*models.AuditEntry) {
	invalidate(s.cache, schema)
	s.audit.Publish(entries...)
}

func invalidate(c cache.Cache, schema *resource.Schema) {
	ctx := context.Background()
	c.DeleteByPrefix(ctx, schema.Path)
	for _, p := range schema.Invalidates {
		c.DeleteByPrefix(ctx, p)
	}
}

// removeObject deletes a stored object whose row is gone. Failures leave an
// orphaned object and are only logged.
func removeObject(store storage.Storage, path string) {
	if store == nil || path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), objectCleanupTimeout)
	defer cancel()
	if err := store.Delete(ctx, path); err != nil {
		slog.Warn("failed to remove stored object", "path", path, "error", err)
	}
}

func owns(schema *resource.Schema, rec models.Record, actor models.Actor) bool {
	if !schema.ScopesOwner(actor.Type) {
		return true
	}
	owner, ok := rec.Int64(schema.OwnerColumn)
	return ok && owner == actor.ID
}

// stampOwner sets the owner column for actors that may only act on their own
// records, and for resources whose owner is never taken from the body.
func stampOwner(schema *resource.Schema, values map[string]any, actor models.Actor) {
	if schema.OwnerColumn == "" || actor.ID == 0 {
		return
	}
	f, _ := schema.Field(schema.OwnerColumn)
	if schema.ScopesOwner(actor.Type) || !f.Writable {
		values[schema.OwnerColumn] = actor.ID
	}
}

func editable(schema *resource.Schema, rec models.Record) bool {
	if !schema.HasStates() {
		return true
	}
	st := rec.String(schema.StateColumn)
	if len(schema.EditableFrom) > 0 {
		return slices.Contains(schema.EditableFrom, st)
	}
	return schema.DeletedState == "" || st != schema.DeletedState
}

func observe(schema *resource.Schema, action string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case ierr.IsValidation(err):
		result = "invalid"
	case ierr.IsIllegalTransition(err):
		result = "illegal"
	case ierr.IsPreconditionFailed(err):
		result = "precondition"
	default:
		result = "error"
	}
	telemetry.TransitionsTotal.WithLabelValues(schema.Path, action, result).Inc()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
