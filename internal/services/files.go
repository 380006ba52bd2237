package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/audit"
	"github.com/consejo-social/veeduria/internal/cache"
	"github.com/consejo-social/veeduria/internal/db/models"
	"github.com/consejo-social/veeduria/internal/db/repositories"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
	"github.com/consejo-social/veeduria/internal/resource/catalog"
	"github.com/consejo-social/veeduria/internal/storage"
	"github.com/consejo-social/veeduria/internal/telemetry"
	"github.com/consejo-social/veeduria/internal/validation"
)

// Audit actions recorded for stored files.
const (
	AuditUpload   = "upload"
	AuditDownload = "download"
)

// Storage prefixes of uploaded objects.
const (
	PrefixArchivos     = "archivos"
	PrefixComprobantes = "comprobantes"
)

// Download is an open stored file with the metadata needed to serve it.
type Download struct {
	Record   models.Record
	Filename string
	MimeType string
	Size     int64
	Body     io.ReadCloser
}

// FilesService stores uploaded files and keeps their archivos rows, the
// stored objects and the audit log consistent.
type FilesService struct {
	db        *sqlx.DB
	registry  *resource.Registry
	records   *repositories.RecordRepository
	validator *validation.Validator
	audit     *audit.Writer
	cache     cache.Cache
	storage   storage.Storage
	maxSize   int64
	now       func() time.Time
}

// NewFilesService creates a FilesService. maxSize of zero uses
// validation.DefaultMaxUploadSize.
func NewFilesService(db *sqlx.DB, registry *resource.Registry, v *validation.Validator, w *audit.Writer,
	c cache.Cache, store storage.Storage, maxSize int64) *FilesService {
	if c == nil {
		c = cache.Noop{}
	}
	return &FilesService{
		db:        db,
		registry:  registry,
		records:   repositories.NewRecordRepository(db),
		validator: v,
		audit:     w,
		cache:     c,
		storage:   store,
		maxSize:   maxSize,
		now:       time.Now,
	}
}

func (f *FilesService) archivos() *resource.Schema {
	s, _ := f.registry.Get("archivos")
	return s
}

// Upload validates and stores a file, then records its archivos row. meta may
// carry entidad_tipo and entidad_id to link the file to a record.
func (f *FilesService) Upload(ctx context.Context, filename string, content []byte, meta map[string]any, actor models.Actor) (models.Record, error) {
	schema := f.archivos()
	if !schema.CanWrite(actor.Type) {
		return nil, forbidden()
	}
	up, err := validation.ValidateUpload(filename, content, f.maxSize)
	if err != nil {
		telemetry.FileUploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	values, err := f.validator.Body(schema, meta, true)
	if err != nil {
		telemetry.FileUploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	target, err := f.linkTarget(values, actor)
	if err != nil {
		telemetry.FileUploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	res, err := f.put(ctx, PrefixArchivos, up, content)
	if err != nil {
		return nil, err
	}

	rec, entry, err := f.recordUpload(ctx, schema, target, up, res, values, actor)
	if err != nil {
		f.discard(res.Path)
		return nil, err
	}

	telemetry.FileUploadsTotal.WithLabelValues("ok").Inc()
	invalidate(f.cache, schema)
	f.audit.Publish(entry)
	return rec, nil
}

// linkTarget resolves the record an upload is linked to. entidad_tipo and
// entidad_id must be given together and name a resource the actor can read.
func (f *FilesService) linkTarget(values map[string]any, actor models.Actor) (*resource.Schema, error) {
	kind, hasKind := values["entidad_tipo"].(string)
	_, hasID := values["entidad_id"].(int64)
	switch {
	case !hasKind && !hasID:
		return nil, nil
	case !hasID:
		return nil, ierr.Field("entidad_id", "es obligatorio cuando se indica entidad_tipo")
	case !hasKind:
		return nil, ierr.Field("entidad_tipo", "es obligatorio cuando se indica entidad_id")
	}
	target, err := f.registry.ByName(kind)
	if err != nil {
		return nil, err
	}
	if !target.CanRead(actor.Type) {
		return nil, forbidden()
	}
	return target, nil
}

func (f *FilesService) recordUpload(ctx context.Context, schema, target *resource.Schema, up *validation.Upload,
	res *storage.UploadResult, values map[string]any, actor models.Actor) (models.Record, *models.AuditEntry, error) {
	tx, err := f.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, ierr.WrapStore(err, "begin upload")
	}
	defer tx.Rollback() // nolint:errcheck

	if target != nil {
		id := values["entidad_id"].(int64)
		linked, err := lockOwned(ctx, f.records, tx, target, id, actor)
		if err != nil {
			return nil, nil, err
		}
		if target.DeletedState != "" && linked.String(target.StateColumn) == target.DeletedState {
			return nil, nil, ierr.NewNotFound(target.Name, id)
		}
	}

	rec, entry, err := f.insertArchivo(ctx, tx, schema, up, res, values, actor)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, ierr.WrapStore(err, "commit upload")
	}
	return rec, entry, nil
}

// AttachReceipt stores a payment receipt and links it to a pending donation.
func (f *FilesService) AttachReceipt(ctx context.Context, donacionID int64, filename string, content []byte, actor models.Actor) (models.Record, error) {
	donaciones, err := f.registry.Get("donaciones")
	if err != nil {
		return nil, err
	}
	archivos := f.archivos()
	if !donaciones.CanWrite(actor.Type) {
		return nil, forbidden()
	}
	up, err := validation.ValidateUpload(filename, content, f.maxSize)
	if err != nil {
		telemetry.FileUploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	res, err := f.put(ctx, PrefixComprobantes, up, content)
	if err != nil {
		return nil, err
	}

	rec, entries, err := f.attach(ctx, donaciones, archivos, donacionID, up, res, actor)
	if err != nil {
		f.discard(res.Path)
		return nil, err
	}

	telemetry.FileUploadsTotal.WithLabelValues("ok").Inc()
	invalidate(f.cache, donaciones)
	invalidate(f.cache, archivos)
	f.audit.Publish(entries...)
	return rec, nil
}

func (f *FilesService) attach(ctx context.Context, donaciones, archivos *resource.Schema, id int64, up *validation.Upload,
	res *storage.UploadResult, actor models.Actor) (models.Record, []*models.AuditEntry, error) {
	tx, err := f.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, ierr.WrapStore(err, "begin attach receipt")
	}
	defer tx.Rollback() // nolint:errcheck

	before, err := lockOwned(ctx, f.records, tx, donaciones, id, actor)
	if err != nil {
		return nil, nil, err
	}
	if st := before.String(donaciones.StateColumn); st != catalog.DonacionPendiente {
		return nil, nil, ierr.NewPreconditionf("Solo se puede adjuntar un comprobante a una donación pendiente (estado actual: %s)", st)
	}

	link := map[string]any{"entidad_tipo": donaciones.Name, "entidad_id": id}
	archivo, uploaded, err := f.insertArchivo(ctx, tx, archivos, up, res, link, actor)
	if err != nil {
		return nil, nil, err
	}

	after, err := f.records.Update(ctx, tx, donaciones, id, map[string]any{"comprobante_archivo_id": archivo.ID()})
	if err != nil {
		return nil, nil, err
	}
	updated := actor.Entry(resource.AuditUpdate, donaciones.Name, id)
	updated.Before, updated.After = before.Snapshot(), after.Snapshot()
	updated.Metadata = map[string]any{"campos": []string{"comprobante_archivo_id"}}
	if err := f.audit.Record(ctx, tx, updated); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, ierr.WrapStore(err, "commit attach receipt")
	}
	return after, []*models.AuditEntry{uploaded, updated}, nil
}

// insertArchivo writes the archivos row of a stored object and its upload
// audit entry inside tx.
func (f *FilesService) insertArchivo(ctx context.Context, tx *sqlx.Tx, schema *resource.Schema, up *validation.Upload,
	res *storage.UploadResult, values map[string]any, actor models.Actor) (models.Record, *models.AuditEntry, error) {
	row := map[string]any{
		"nombre_original":  up.Filename,
		"ruta":             res.Path,
		"mime_type":        up.MimeType,
		"tamano":           res.Size,
		"checksum":         res.Checksum,
		schema.StateColumn: schema.InitialState,
	}
	for k, v := range values {
		row[k] = v
	}
	if actor.ID != 0 {
		row[schema.OwnerColumn] = actor.ID
	}

	rec, err := f.records.Insert(ctx, tx, schema, row)
	if err != nil {
		return nil, nil, err
	}
	entry := actor.Entry(AuditUpload, schema.Name, rec.ID())
	entry.After = rec.Snapshot()
	entry.Metadata = map[string]any{"mime_type": up.MimeType, "tamano": res.Size, "checksum": res.Checksum}
	if err := f.audit.Record(ctx, tx, entry); err != nil {
		return nil, nil, err
	}
	return rec, entry, nil
}

// Open returns a stored file for streaming. The caller must close Body. The
// download is audited before the file is handed out.
func (f *FilesService) Open(ctx context.Context, id int64, actor models.Actor) (*Download, error) {
	schema, rec, path, err := f.lookup(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	body, err := f.storage.Download(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ierr.NewNotFound(schema.Name, id)
	}
	if err != nil {
		return nil, ierr.WrapStore(err, "download archivo")
	}

	if err := f.recordAccess(ctx, schema, id, actor, nil); err != nil {
		body.Close()
		return nil, err
	}
	telemetry.FileDownloadsTotal.Inc()

	size, _ := rec.Int64("tamano")
	return &Download{
		Record:   rec,
		Filename: rec.String("nombre_original"),
		MimeType: rec.String("mime_type"),
		Size:     size,
		Body:     body,
	}, nil
}

// Link returns a direct URL to a stored file, valid for ttl.
func (f *FilesService) Link(ctx context.Context, id int64, ttl time.Duration, actor models.Actor) (string, error) {
	schema, _, path, err := f.lookup(ctx, id, actor)
	if err != nil {
		return "", err
	}

	link, err := f.storage.GetURL(ctx, path, ttl)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ierr.NewNotFound(schema.Name, id)
	}
	if err != nil {
		return "", ierr.WrapStore(err, "link archivo")
	}

	meta := map[string]any{"enlace": true, "expira_en": int64(ttl.Seconds())}
	if err := f.recordAccess(ctx, schema, id, actor, meta); err != nil {
		return "", err
	}
	return link, nil
}

// lookup loads an archivo the actor may read and its storage path.
func (f *FilesService) lookup(ctx context.Context, id int64, actor models.Actor) (*resource.Schema, models.Record, string, error) {
	schema := f.archivos()
	if !schema.CanRead(actor.Type) {
		return nil, nil, "", forbidden()
	}
	rec, err := f.records.Get(ctx, schema, id)
	if err != nil {
		return nil, nil, "", err
	}
	if !owns(schema, rec, actor) {
		return nil, nil, "", ierr.NewNotFound(schema.Name, id)
	}
	path, err := f.records.StoragePath(ctx, f.db, schema, id)
	if err != nil {
		return nil, nil, "", err
	}
	return schema, rec, path, nil
}

func (f *FilesService) recordAccess(ctx context.Context, schema *resource.Schema, id int64, actor models.Actor, meta map[string]any) error {
	entry := actor.Entry(AuditDownload, schema.Name, id)
	entry.Metadata = meta
	if err := f.audit.Record(ctx, f.db, entry); err != nil {
		return err
	}
	f.audit.Publish(entry)
	return nil
}

func (f *FilesService) put(ctx context.Context, prefix string, up *validation.Upload, content []byte) (*storage.UploadResult, error) {
	key := storage.ObjectKey(prefix, f.now(), up.Filename)
	res, err := f.storage.Upload(ctx, key, bytes.NewReader(content), up.Size)
	if err != nil {
		telemetry.FileUploadsTotal.WithLabelValues("error").Inc()
		return nil, ierr.WrapStore(err, "store "+prefix)
	}
	return res, nil
}

// discard removes an object whose row could not be committed.
func (f *FilesService) discard(path string) {
	telemetry.FileUploadsTotal.WithLabelValues("error").Inc()
	removeObject(f.storage, path)
}
