package validation

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ierr "github.com/consejo-social/veeduria/internal/errors"
	"github.com/consejo-social/veeduria/internal/resource"
	"github.com/consejo-social/veeduria/internal/resource/catalog"
)

func newValidator() *Validator {
	v := New()
	v.hashCost = bcrypt.MinCost
	return v
}

func schema(t *testing.T, name string) *resource.Schema {
	t.Helper()
	s, err := catalog.New().Get(name)
	require.NoError(t, err)
	return s
}

func TestBody_CreateValid(t *testing.T) {
	v := newValidator()
	out, err := v.Body(schema(t, "pqrsfd"), map[string]any{
		"tipo":        "queja",
		"asunto":      "Alumbrado público",
		"descripcion": "Las luminarias del parque están apagadas",
		"prioridad":   "alta",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "queja", out["tipo"])
	assert.Equal(t, "alta", out["prioridad"])
	assert.NotContains(t, out, "estado")
}

func TestBody_RejectsFieldsOutsideAllowList(t *testing.T) {
	v := newValidator()
	_, err := v.Body(schema(t, "pqrsfd"), map[string]any{
		"tipo":            "queja",
		"asunto":          "Alumbrado público",
		"descripcion":     "Las luminarias del parque están apagadas",
		"estado":          "Cerrado",
		"numero_radicado": "RAD-2025-000001",
		"id":              json.Number("99"),
	}, true)
	require.Error(t, err)
	fields := ierr.FieldErrors(err)
	assert.Equal(t, []string{"campo no permitido"}, fields["estado"])
	assert.Equal(t, []string{"campo no permitido"}, fields["numero_radicado"])
	assert.Equal(t, []string{"campo no permitido"}, fields["id"])
	assert.NotContains(t, fields, "tipo")
}

func TestBody_RequiredOnCreateOnly(t *testing.T) {
	v := newValidator()
	s := schema(t, "pqrsfd")

	_, err := v.Body(s, map[string]any{"asunto": "Vías"}, true)
	require.Error(t, err)
	fields := ierr.FieldErrors(err)
	assert.Contains(t, fields, "tipo")
	assert.Contains(t, fields, "descripcion")

	out, err := v.Body(s, map[string]any{"asunto": "Vías y andenes"}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"asunto": "Vías y andenes"}, out)
}

func TestBody_ImmutableOnUpdate(t *testing.T) {
	v := newValidator()
	_, err := v.Body(schema(t, "pqrsfd"), map[string]any{"tipo": "reclamo"}, false)
	require.Error(t, err)
	assert.Equal(t, []string{"no se puede modificar"}, ierr.FieldErrors(err)["tipo"])
}

func TestBody_EmptyUpdate(t *testing.T) {
	_, err := newValidator().Body(schema(t, "pqrsfd"), map[string]any{}, false)
	require.Error(t, err)
	assert.Contains(t, ierr.FieldErrors(err), "datos")
}

func TestBody_RuleMessages(t *testing.T) {
	v := newValidator()
	s := schema(t, "pqrsfd")

	tests := []struct {
		name  string
		field string
		value any
		want  string
	}{
		{"oneof", "prioridad", "urgente", "debe ser uno de: baja, media, alta"},
		{"min length", "asunto", "ab", "debe tener al menos 3 caracteres"},
		{"wrong type", "asunto", json.Number("12"), "debe ser un texto"},
		{"required blank", "asunto", "", "es obligatorio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Body(s, map[string]any{tt.field: tt.value}, false)
			require.Error(t, err)
			assert.Equal(t, []string{tt.want}, ierr.FieldErrors(err)[tt.field])
		})
	}
}

func TestBody_OptionalRulesSkipEmpty(t *testing.T) {
	v := newValidator()
	out, err := v.Body(schema(t, "donaciones"), map[string]any{"donante_email": "", "metodo_pago": nil}, false)
	require.NoError(t, err)
	assert.Equal(t, "", out["donante_email"])
	assert.Nil(t, out["metodo_pago"])
}

func TestBody_PositiveDecimal(t *testing.T) {
	v := newValidator()
	s := schema(t, "donaciones")

	_, err := v.Body(s, map[string]any{"monto": json.Number("-5")}, false)
	require.Error(t, err)
	assert.Equal(t, []string{"debe ser mayor que cero"}, ierr.FieldErrors(err)["monto"])

	out, err := v.Body(s, map[string]any{"monto": json.Number("50000.00")}, false)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50000).Equal(out["monto"].(decimal.Decimal)))
}

func TestBody_HashesPasswords(t *testing.T) {
	v := newValidator()
	out, err := v.Body(schema(t, "usuarios"), map[string]any{
		"nombre":   "Ana Pérez",
		"email":    "ana@example.com",
		"password": "secreto-largo",
		"rol":      "cliente",
	}, true)
	require.NoError(t, err)
	assert.NotContains(t, out, "password")
	hash, ok := out["password_hash"].(string)
	require.True(t, ok)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secreto-largo")))
}

func TestBody_EmailRule(t *testing.T) {
	_, err := newValidator().Body(schema(t, "usuarios"), map[string]any{"email": "no-es-correo"}, false)
	require.Error(t, err)
	assert.Equal(t, []string{"debe ser un correo electrónico válido"}, ierr.FieldErrors(err)["email"])
}

func TestParams(t *testing.T) {
	v := newValidator()
	s := schema(t, "pqrsfd")
	asignar, ok := s.Action("asignar_operador")
	require.True(t, ok)

	out, err := v.Params(asignar, map[string]any{"operador_id": json.Number("7")})
	require.NoError(t, err)
	assert.Equal(t, int64(7), out["operador_id"])

	_, err = v.Params(asignar, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, []string{"es obligatorio"}, ierr.FieldErrors(err)["operador_id"])

	_, err = v.Params(asignar, map[string]any{"operador_id": json.Number("0")})
	require.Error(t, err)
	assert.Equal(t, []string{"debe ser mayor que 0"}, ierr.FieldErrors(err)["operador_id"])

	_, err = v.Params(asignar, map[string]any{"operador_id": json.Number("7"), "estado": "Cerrado"})
	require.Error(t, err)
	assert.Equal(t, []string{"campo no permitido"}, ierr.FieldErrors(err)["estado"])
}
