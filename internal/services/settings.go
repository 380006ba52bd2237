package services

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consejo-social/veeduria/internal/cache"
	ierr "github.com/consejo-social/veeduria/internal/errors"
)

// Configuration keys read by the backend itself.
const (
	SettingNombreOrganizacion  = "nombre_organizacion"
	SettingDiasRespuestaPQRSFD = "dias_respuesta_pqrsfd"
)

const settingsTTL = 10 * time.Minute

// Settings reads active configuraciones values through the cache. Writes go
// through the configuraciones resource, which drops the cached keys.
type Settings struct {
	db    *sqlx.DB
	cache cache.Cache
}

// NewSettings creates a Settings reader.
func NewSettings(db *sqlx.DB, c cache.Cache) *Settings {
	if c == nil {
		c = cache.Noop{}
	}
	return &Settings{db: db, cache: c}
}

type cachedSetting struct {
	Value string `json:"valor"`
	Found bool   `json:"encontrado"`
}

// Get returns the value of an active key and whether it exists.
func (s *Settings) Get(ctx context.Context, clave string) (string, bool, error) {
	key := cache.GenerateKey(cache.PrefixConfig, clave)
	var hit cachedSetting
	if s.cache.Get(ctx, key, &hit) {
		return hit.Value, hit.Found, nil
	}

	var valor string
	err := s.db.GetContext(ctx, &valor,
		`SELECT valor FROM configuraciones WHERE clave = $1 AND estado = 'activo'`, clave)
	found := true
	if errors.Is(err, sql.ErrNoRows) {
		found, err = false, nil
	}
	if err != nil {
		return "", false, ierr.WrapStore(err, "get configuracion")
	}

	s.cache.Set(ctx, key, cachedSetting{Value: valor, Found: found}, settingsTTL)
	return valor, found, nil
}

// Int returns a key parsed as an integer, or def when it is missing or not
// a number.
func (s *Settings) Int(ctx context.Context, clave string, def int) (int, error) {
	raw, ok, err := s.Get(ctx, clave)
	if err != nil || !ok {
		return def, err
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		slog.WarnContext(ctx, "configuracion is not an integer", "clave", clave, "valor", raw)
		return def, nil
	}
	return n, nil
}
