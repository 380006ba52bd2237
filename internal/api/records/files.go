package records

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consejo-social/veeduria/internal/api/response"
	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/middleware"
	"github.com/consejo-social/veeduria/internal/services"
	"github.com/consejo-social/veeduria/internal/validation"
)

// FormFileField is the multipart field carrying an uploaded file.
const FormFileField = "archivo"

const (
	defaultLinkTTL = 15 * time.Minute
	maxLinkTTL     = 24 * time.Hour
)

// FileHandlers handles uploads, downloads and donation receipts
type FileHandlers struct {
	files   *services.FilesService
	maxSize int64
}

// NewFileHandlers creates a new FileHandlers. maxSize of zero uses
// validation.DefaultMaxUploadSize.
func NewFileHandlers(files *services.FilesService, maxSize int64) *FileHandlers {
	if maxSize <= 0 {
		maxSize = validation.DefaultMaxUploadSize
	}
	return &FileHandlers{files: files, maxSize: maxSize}
}

// Upload handles POST /archivos/upload. The optional form fields entidad_tipo
// and entidad_id link the file to a record.
func (h *FileHandlers) Upload(c *gin.Context) {
	name, content, ok := h.readFile(c)
	if !ok {
		return
	}
	meta := map[string]any{}
	for _, key := range []string{"entidad_tipo", "entidad_id"} {
		if v := c.PostForm(key); v != "" {
			meta[key] = v
		}
	}

	rec, err := h.files.Upload(c.Request.Context(), name, content, meta, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec, "Archivo subido exitosamente")
}

// AttachReceipt handles POST /donaciones/:id/comprobante
func (h *FileHandlers) AttachReceipt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	name, content, ok := h.readFile(c)
	if !ok {
		return
	}

	rec, err := h.files.AttachReceipt(c.Request.Context(), id, name, content, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rec, "Comprobante adjuntado exitosamente")
}

// Download handles GET /archivos/:id/descargar and streams the stored file.
func (h *FileHandlers) Download(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	dl, err := h.files.Open(c.Request.Context(), id, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer dl.Body.Close()

	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", dl.Filename),
	}
	c.DataFromReader(http.StatusOK, dl.Size, dl.MimeType, dl.Body, headers)
}

// Link handles GET /archivos/:id/enlace. minutos sets the link lifetime.
func (h *FileHandlers) Link(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ttl := defaultLinkTTL
	if raw := c.Query("minutos"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || time.Duration(m)*time.Minute > maxLinkTTL {
			response.Error(c, ierr.Field("minutos", fmt.Sprintf("debe ser un entero entre 1 y %d", int(maxLinkTTL.Minutes()))))
			return
		}
		ttl = time.Duration(m) * time.Minute
	}

	link, err := h.files.Link(c.Request.Context(), id, ttl, middleware.ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"url": link, "expira_en": time.Now().Add(ttl).UTC()}, "Enlace generado exitosamente")
}

// readFile reads the uploaded file, refusing it once it exceeds maxSize.
func (h *FileHandlers) readFile(c *gin.Context) (string, []byte, bool) {
	header, err := c.FormFile(FormFileField)
	if err != nil {
		response.Error(c, ierr.Field(FormFileField, "es obligatorio"))
		return "", nil, false
	}
	if header.Size > h.maxSize {
		response.Error(c, tooLarge(h.maxSize))
		return "", nil, false
	}
	content, err := readAll(header, h.maxSize)
	if err != nil {
		response.Error(c, err)
		return "", nil, false
	}
	return header.Filename, content, true
}

func readAll(header *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, ierr.Field(FormFileField, "no se pudo leer el archivo")
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, ierr.Field(FormFileField, "no se pudo leer el archivo")
	}
	if int64(len(content)) > limit {
		return nil, tooLarge(limit)
	}
	return content, nil
}

func tooLarge(limit int64) error {
	return ierr.Field(FormFileField, fmt.Sprintf("no puede superar %d MB", limit>>20))
}
