package validation

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	ierr "github.com/consejo-social/veeduria/internal/errors"
)

const (
	// DefaultMaxUploadSize applies when no limit is configured (10MB).
	DefaultMaxUploadSize = 10 * 1024 * 1024

	maxFilenameLength = 255
	// maxZipEntries bounds the number of members an uploaded zip may hold.
	maxZipEntries = 1000
)

// AllowedTypes lists the content types accepted for uploads, detected from
// the file's bytes and not from the client's declared type.
var AllowedTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/webp",
	"text/plain",
	"text/csv",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/zip",
}

// Upload describes a validated upload.
type Upload struct {
	Filename string
	MimeType string
	Size     int64
}

// ValidateUpload checks an uploaded file's name, size and detected content
// type. Zip archives are also checked member by member.
func ValidateUpload(filename string, content []byte, maxSize int64) (*Upload, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}

	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, ierr.Field("archivo", err.Error())
	}
	if len(content) == 0 {
		return nil, ierr.Field("archivo", "el archivo está vacío")
	}
	if int64(len(content)) > maxSize {
		return nil, ierr.Field("archivo", fmt.Sprintf("el archivo supera el tamaño máximo de %d MB", maxSize/(1024*1024)))
	}

	mime := detect(content)
	if mime == "" {
		return nil, ierr.Field("archivo", "tipo de archivo no permitido")
	}
	if mime == "application/zip" {
		if err := validateZip(content, maxSize*10); err != nil {
			return nil, ierr.Field("archivo", err.Error())
		}
	}

	return &Upload{Filename: name, MimeType: mime, Size: int64(len(content))}, nil
}

// detect returns the allowed type matching content, walking up the detected
// type's parents so that e.g. csv also matches text/plain. It returns "" when
// nothing in AllowedTypes matches.
func detect(content []byte) string {
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		for _, allowed := range AllowedTypes {
			if m.Is(allowed) {
				return allowed
			}
		}
	}
	return ""
}

// SanitizeFilename strips any directory part of a client-supplied file name
// and rejects names that could escape the storage root.
func SanitizeFilename(filename string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	if err := validatePath(name); err != nil {
		return "", err
	}
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("el nombre del archivo es obligatorio")
	}
	if !utf8.ValidString(name) || strings.ContainsAny(name, "\x00\r\n") {
		return "", fmt.Errorf("el nombre del archivo contiene caracteres no válidos")
	}
	if len(name) > maxFilenameLength {
		return "", fmt.Errorf("el nombre del archivo no puede superar %d caracteres", maxFilenameLength)
	}
	return name, nil
}

// validateZip rejects archives whose members escape the extraction root or
// whose expanded size exceeds maxExpanded.
func validateZip(content []byte, maxExpanded int64) error {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return fmt.Errorf("el archivo comprimido no es válido")
	}
	if len(zr.File) > maxZipEntries {
		return fmt.Errorf("el archivo comprimido tiene demasiados elementos")
	}

	var total uint64
	for _, f := range zr.File {
		if err := validatePath(f.Name); err != nil {
			return err
		}
		total += f.UncompressedSize64
		if total > uint64(maxExpanded) {
			return fmt.Errorf("el contenido del archivo comprimido es demasiado grande")
		}
	}
	return nil
}

// validatePath rejects absolute paths, traversal segments and VCS directories.
func validatePath(path string) error {
	path = filepath.Clean(path)

	if filepath.IsAbs(path) {
		return fmt.Errorf("no se permiten rutas absolutas: %s", path)
	}
	// Windows drive paths, checked on every host.
	if len(path) >= 3 && path[1] == ':' && (path[2] == '\\' || path[2] == '/') {
		return fmt.Errorf("no se permiten rutas absolutas: %s", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("no se permiten rutas relativas al directorio padre: %s", path)
	}
	if strings.HasPrefix(path, ".git") {
		return fmt.Errorf("no se permiten directorios .git")
	}
	return nil
}
