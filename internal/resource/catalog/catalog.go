// Package catalog declares the schemas of every resource served by the API:
// citizen cases (PQRSFD and veedurías), tasks, donations, accounts, operators,
// files, notifications, reports, settings and the read-only audit log.
package catalog

import (
	"time"

	"github.com/consejo-social/veeduria/internal/db/models"
	"github.com/consejo-social/veeduria/internal/resource"
)

// PQRSFD states.
const (
	PQRSFDPendiente = "Pendiente"
	PQRSFDEnProceso = "EnProceso"
	PQRSFDRadicado  = "Radicado"
	PQRSFDCerrado   = "Cerrado"
	PQRSFDCancelado = "Cancelado"
)

// Donation states.
const (
	DonacionPendiente   = "pendiente"
	DonacionValidado    = "validado"
	DonacionRechazado   = "rechazado"
	DonacionCertificado = "certificado"
)

// Notification states.
const (
	NotificacionNoLeida = "no_leida"
	NotificacionLeida   = "leida"
)

// Cache prefix of the dashboard aggregates, dropped by writes on counted resources.
const DashboardCachePrefix = "dashboard"

const listCacheTTL = time.Minute

var (
	staff       = []string{models.ActorOperator, models.ActorAdministrator}
	adminOnly   = []string{models.ActorAdministrator}
	allActors   = []string{models.ActorClient, models.ActorOperator, models.ActorAdministrator}
	priorityTag = "omitempty,oneof=baja media alta"
)

// New returns a frozen registry holding every resource.
func New() *resource.Registry {
	reg := resource.NewRegistry()
	reg.MustRegister(
		PQRSFD(),
		Tareas(),
		Veedurias(),
		Donaciones(),
		Usuarios(),
		Operadores(),
		Archivos(),
		Notificaciones(),
		Reportes(),
		Configuraciones(),
		Logs(),
	)
	reg.Freeze()
	return reg
}

// PQRSFD is the citizen case intake: Pendiente → EnProceso on assignment,
// radicated once an operator holds it, then closed or cancelled.
func PQRSFD() *resource.Schema {
	return &resource.Schema{
		Name:  "pqrsfd",
		Path:  "pqrsfd",
		Table: "pqrsfd",
		Fields: []resource.Field{
			{Name: "tipo", Kind: resource.KindString, Writable: true, Required: true, Immutable: true,
				Rules: "oneof=peticion queja reclamo sugerencia felicitacion denuncia"},
			{Name: "asunto", Kind: resource.KindString, Writable: true, Required: true, Rules: "min=3,max=255"},
			{Name: "descripcion", Kind: resource.KindText, Writable: true, Required: true, Rules: "min=10"},
			{Name: "prioridad", Kind: resource.KindString, Writable: true, Rules: priorityTag},
			{Name: "cliente_id", Kind: resource.KindInt, Writable: true, Immutable: true, Rules: "omitempty,gt=0"},
			{Name: "operador_id", Kind: resource.KindInt},
			{Name: "numero_radicado", Kind: resource.KindString},
			{Name: "respuesta", Kind: resource.KindText},
			{Name: "fecha_asignacion", Kind: resource.KindTime},
			{Name: "fecha_radicacion", Kind: resource.KindTime},
			{Name: "fecha_cierre", Kind: resource.KindTime},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "tipo", Kind: resource.FilterSet},
			{Param: "prioridad", Kind: resource.FilterEqual},
			{Param: "cliente_id", Kind: resource.FilterEqual},
			{Param: "operador_id", Kind: resource.FilterEqual},
			{Param: "numero_radicado", Kind: resource.FilterPartial},
			{Param: "fecha", Column: "created_at", Kind: resource.FilterDateRange},
		},
		SearchFields: []string{"asunto", "descripcion", "numero_radicado"},
		SortFields:   []string{"id", "created_at", "updated_at", "asunto", "prioridad", "estado", "fecha_radicacion"},
		DefaultSort:  "created_at",
		DefaultDir:   resource.Desc,
		StateColumn:  "estado",
		States:       []string{PQRSFDPendiente, PQRSFDEnProceso, PQRSFDRadicado, PQRSFDCerrado, PQRSFDCancelado},
		InitialState: PQRSFDPendiente,
		EditableFrom: []string{PQRSFDPendiente, PQRSFDEnProceso},
		Actions: []resource.Action{
			{
				Name: "asignar_operador", From: []string{PQRSFDPendiente}, To: PQRSFDEnProceso,
				AuditAction: resource.AuditAssign, By: staff,
				Params: []resource.Param{{Name: "operador_id", Kind: resource.KindInt, Required: true, Rules: "gt=0"}},
				Apply:  assignOperator("la PQRSFD", true),
			},
			{
				Name: "radicar", From: []string{PQRSFDPendiente, PQRSFDEnProceso}, To: PQRSFDRadicado, By: staff,
				Guard: requireOperator("La PQRSFD debe tener un operador asignado antes de radicarse"),
				Apply: radicate("pqrsfd_radicado_seq", "RAD"),
			},
			{
				Name: "cerrar", From: []string{PQRSFDRadicado}, To: PQRSFDCerrado, By: staff,
				Params: []resource.Param{{Name: "respuesta", Kind: resource.KindText}},
				Apply:  stamp("fecha_cierre", "respuesta"),
			},
			{
				Name: "cancelar", From: []string{PQRSFDPendiente, PQRSFDEnProceso, PQRSFDRadicado}, To: PQRSFDCancelado,
				By: allActors,
			},
		},
		Delete:      resource.DeletePolicy{From: []string{PQRSFDPendiente}},
		OwnerColumn: "cliente_id",
		Invalidates: []string{DashboardCachePrefix},
	}
}

// Tareas are work items assigned to operators. Deletion is soft and allowed
// only while the task is still pendiente.
func Tareas() *resource.Schema {
	return &resource.Schema{
		Name:  "tarea",
		Path:  "tareas",
		Table: "tareas",
		Fields: []resource.Field{
			{Name: "titulo", Kind: resource.KindString, Writable: true, Required: true, Rules: "min=3,max=255"},
			{Name: "descripcion", Kind: resource.KindText, Writable: true},
			{Name: "prioridad", Kind: resource.KindString, Writable: true, Rules: priorityTag},
			{Name: "veeduria_id", Kind: resource.KindInt, Writable: true, Rules: "omitempty,gt=0"},
			{Name: "operador_id", Kind: resource.KindInt, Writable: true, Rules: "omitempty,gt=0"},
			{Name: "fecha_limite", Kind: resource.KindDate, Writable: true},
			{Name: "motivo_suspension", Kind: resource.KindText},
			{Name: "fecha_inicio", Kind: resource.KindTime},
			{Name: "fecha_completado", Kind: resource.KindTime},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "prioridad", Kind: resource.FilterSet},
			{Param: "operador_id", Kind: resource.FilterEqual},
			{Param: "veeduria_id", Kind: resource.FilterEqual},
			{Param: "fecha_limite", Kind: resource.FilterDateRange},
			{Param: "fecha", Column: "created_at", Kind: resource.FilterDateRange},
		},
		SearchFields: []string{"titulo", "descripcion"},
		SortFields:   []string{"id", "created_at", "updated_at", "titulo", "prioridad", "estado", "fecha_limite"},
		DefaultSort:  "created_at",
		DefaultDir:   resource.Desc,
		StateColumn:  "estado",
		States:       []string{"pendiente", "en_proceso", "suspendida", "completada", "cancelada", "eliminada"},
		InitialState: "pendiente",
		DeletedState: "eliminada",
		EditableFrom: openTareas,
		WriteBy:      staff,
		Actions: []resource.Action{
			{Name: "iniciar", From: []string{"pendiente"}, To: "en_proceso", Apply: stamp("fecha_inicio")},
			{
				Name: "suspender", From: []string{"en_proceso"}, To: "suspendida",
				Params: []resource.Param{{Name: "motivo_suspension", Kind: resource.KindText}},
				Apply:  stamp("", "motivo_suspension"),
			},
			{Name: "reanudar", From: []string{"suspendida"}, To: "en_proceso"},
			{Name: "completar", From: []string{"en_proceso"}, To: "completada", Apply: stamp("fecha_completado")},
			{Name: "cancelar", From: []string{"pendiente", "en_proceso", "suspendida"}, To: "cancelada"},
			{
				Name: "asignar", From: []string{"pendiente", "en_proceso", "suspendida"}, Stay: true,
				AuditAction: resource.AuditAssign,
				Params:      []resource.Param{{Name: "operador_id", Kind: resource.KindInt, Required: true, Rules: "gt=0"}},
				Apply:       assignOperator("la tarea", false),
			},
		},
		Delete:      resource.DeletePolicy{Soft: true, From: []string{"pendiente"}},
		ReadBy:      staff,
		Invalidates: []string{DashboardCachePrefix},
	}
}

// Veedurias are oversight investigations opened by citizens.
func Veedurias() *resource.Schema {
	return &resource.Schema{
		Name:  "veeduria",
		Path:  "veedurias",
		Table: "veedurias",
		Fields: []resource.Field{
			{Name: "titulo", Kind: resource.KindString, Writable: true, Required: true, Rules: "min=3,max=255"},
			{Name: "descripcion", Kind: resource.KindText, Writable: true, Required: true},
			{Name: "tipo", Kind: resource.KindString, Writable: true, Required: true,
				Rules: "oneof=obra_publica contratacion servicio_publico programa_social otro"},
			{Name: "ubicacion", Kind: resource.KindString, Writable: true, Rules: "omitempty,max=255"},
			{Name: "presupuesto", Kind: resource.KindDecimal, Writable: true, Positive: true},
			{Name: "cliente_id", Kind: resource.KindInt, Writable: true, Immutable: true, Rules: "omitempty,gt=0"},
			{Name: "operador_id", Kind: resource.KindInt},
			{Name: "numero_radicado", Kind: resource.KindString},
			{Name: "fecha_asignacion", Kind: resource.KindTime},
			{Name: "fecha_radicacion", Kind: resource.KindTime},
			{Name: "fecha_cierre", Kind: resource.KindTime},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "tipo", Kind: resource.FilterSet},
			{Param: "cliente_id", Kind: resource.FilterEqual},
			{Param: "operador_id", Kind: resource.FilterEqual},
			{Param: "ubicacion", Kind: resource.FilterPartial},
			{Param: "presupuesto", Kind: resource.FilterRange},
			{Param: "fecha", Column: "created_at", Kind: resource.FilterDateRange},
		},
		SearchFields: []string{"titulo", "descripcion", "ubicacion", "numero_radicado"},
		SortFields:   []string{"id", "created_at", "updated_at", "titulo", "estado", "presupuesto"},
		DefaultSort:  "created_at",
		DefaultDir:   resource.Desc,
		StateColumn:  "estado",
		States:       []string{"pendiente", "en_proceso", "radicado", "cerrado", "cancelada", "eliminada"},
		InitialState: "pendiente",
		DeletedState: "eliminada",
		EditableFrom: []string{"pendiente", "en_proceso"},
		Actions: []resource.Action{
			{Name: "iniciar", From: []string{"pendiente"}, To: "en_proceso", By: staff},
			{
				Name: "radicar", From: []string{"en_proceso"}, To: "radicado", By: staff,
				Guard: requireOperator("La veeduría debe tener un operador asignado antes de radicarse"),
				Apply: radicate("veeduria_radicado_seq", "VEE"),
			},
			{Name: "cerrar", From: []string{"radicado"}, To: "cerrado", By: staff, Apply: stamp("fecha_cierre")},
			{Name: "cancelar", From: openVeedurias, To: "cancelada", By: allActors},
			{
				Name: "asignar_operador", From: openVeedurias, Stay: true, By: staff,
				AuditAction: resource.AuditAssign,
				Params:      []resource.Param{{Name: "operador_id", Kind: resource.KindInt, Required: true, Rules: "gt=0"}},
				Apply:       assignOperator("la veeduría", true),
			},
		},
		Delete:       resource.DeletePolicy{Soft: true, From: []string{"pendiente", "cancelada"}},
		OwnerColumn:  "cliente_id",
		Invalidates:  []string{DashboardCachePrefix},
		ListCacheTTL: listCacheTTL,
	}
}

// Donaciones may be edited or deleted only while pendiente; validation either
// accepts or rejects them and accepted ones can be certified.
func Donaciones() *resource.Schema {
	return &resource.Schema{
		Name:  "donacion",
		Path:  "donaciones",
		Table: "donaciones",
		Fields: []resource.Field{
			{Name: "donante_nombre", Kind: resource.KindString, Writable: true, Required: true, Rules: "min=2,max=255"},
			{Name: "donante_email", Kind: resource.KindString, Writable: true, Rules: "omitempty,email,max=255"},
			{Name: "tipo", Kind: resource.KindString, Writable: true, Required: true, Rules: "oneof=monetaria especie"},
			{Name: "monto", Kind: resource.KindDecimal, Writable: true, Required: true, Positive: true},
			{Name: "metodo_pago", Kind: resource.KindString, Writable: true,
				Rules: "omitempty,oneof=efectivo transferencia tarjeta consignacion otro"},
			{Name: "descripcion", Kind: resource.KindText, Writable: true},
			{Name: "cliente_id", Kind: resource.KindInt, Writable: true, Immutable: true, Rules: "omitempty,gt=0"},
			{Name: "comprobante_archivo_id", Kind: resource.KindInt},
			{Name: "numero_certificado", Kind: resource.KindString},
			{Name: "motivo_rechazo", Kind: resource.KindText},
			{Name: "fecha_validacion", Kind: resource.KindTime},
			{Name: "fecha_certificacion", Kind: resource.KindTime},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "tipo", Kind: resource.FilterEqual},
			{Param: "metodo_pago", Kind: resource.FilterEqual},
			{Param: "cliente_id", Kind: resource.FilterEqual},
			{Param: "monto", Kind: resource.FilterRange},
			{Param: "donante_nombre", Kind: resource.FilterPartial},
			{Param: "fecha", Column: "created_at", Kind: resource.FilterDateRange},
		},
		SearchFields: []string{"donante_nombre", "donante_email", "descripcion", "numero_certificado"},
		SortFields:   []string{"id", "created_at", "updated_at", "monto", "donante_nombre", "estado"},
		DefaultSort:  "created_at",
		DefaultDir:   resource.Desc,
		StateColumn:  "estado",
		States:       []string{DonacionPendiente, DonacionValidado, DonacionRechazado, DonacionCertificado},
		InitialState: DonacionPendiente,
		EditableFrom: []string{DonacionPendiente},
		Actions: []resource.Action{
			{
				Name: "validar", From: []string{DonacionPendiente}, By: staff,
				TargetParam: "estado", Targets: []string{DonacionValidado, DonacionRechazado},
				Params: []resource.Param{
					{Name: "estado", Kind: resource.KindString, Required: true, Rules: "oneof=validado rechazado"},
					{Name: "motivo_rechazo", Kind: resource.KindText},
				},
				Guard: rejectionNeedsReason,
				Apply: stamp("fecha_validacion", "motivo_rechazo"),
			},
			{
				Name: "certificar", From: []string{DonacionValidado}, To: DonacionCertificado, By: staff,
				Apply: certify,
			},
		},
		Delete:      resource.DeletePolicy{From: []string{DonacionPendiente}},
		OwnerColumn: "cliente_id",
		Invalidates: []string{DashboardCachePrefix},
	}
}

// Usuarios are accounts. Passwords are accepted in bodies and stored hashed.
func Usuarios() *resource.Schema {
	return &resource.Schema{
		Name:  "usuario",
		Path:  "usuarios",
		Table: "usuarios",
		Fields: []resource.Field{
			{Name: "nombre", Kind: resource.KindString, Writable: true, Required: true, Rules: "min=2,max=255"},
			{Name: "email", Kind: resource.KindString, Writable: true, Required: true, Rules: "email,max=255"},
			{Name: "password", Kind: resource.KindString, Writable: true, Required: true, Rules: "min=8,max=72",
				Hash: true, HashColumn: "password_hash"},
			{Name: "rol", Kind: resource.KindString, Writable: true, Required: true,
				Rules: "oneof=cliente operador administrador"},
			{Name: "telefono", Kind: resource.KindString, Writable: true, Rules: "omitempty,max=30"},
			{Name: "documento", Kind: resource.KindString, Writable: true, Rules: "omitempty,max=30"},
			{Name: "ultimo_acceso", Kind: resource.KindTime},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "rol", Kind: resource.FilterSet},
			{Param: "email", Kind: resource.FilterPartial},
			{Param: "fecha", Column: "created_at", Kind: resource.FilterDateRange},
		},
		SearchFields: []string{"nombre", "email", "documento"},
		SortFields:   []string{"id", "created_at", "nombre", "email", "rol", "ultimo_acceso"},
		DefaultSort:  "created_at",
		DefaultDir:   resource.Desc,
		StateColumn:  "estado",
		States:       []string{"activo", "inactivo", "suspendido", "eliminado"},
		InitialState: "activo",
		DeletedState: "eliminado",
		Actions: []resource.Action{
			{Name: "activar", From: []string{"inactivo", "suspendido"}, To: "activo"},
			{Name: "desactivar", From: []string{"activo", "suspendido"}, To: "inactivo"},
			{Name: "suspender", From: []string{"activo"}, To: "suspendido"},
		},
		Delete: resource.DeletePolicy{
			Soft: true,
			Guard: noOpenChildren("El usuario tiene PQRSFD o veedurías activas",
				childCheck{"pqrsfd", "cliente_id", openPQRSFD},
				childCheck{"veedurias", "cliente_id", openVeedurias},
			),
		},
		ReadBy:  adminOnly,
		WriteBy: adminOnly,
	}
}

// Operadores are case-handling staff linked to an operator account.
func Operadores() *resource.Schema {
	return &resource.Schema{
		Name:  "operador",
		Path:  "operadores",
		Table: "operadores",
		Fields: []resource.Field{
			{Name: "usuario_id", Kind: resource.KindInt, Writable: true, Immutable: true, Rules: "omitempty,gt=0"},
			{Name: "nombre", Kind: resource.KindString, Writable: true, Required: true, Rules: "min=2,max=255"},
			{Name: "email", Kind: resource.KindString, Writable: true, Required: true, Rules: "email,max=255"},
			{Name: "telefono", Kind: resource.KindString, Writable: true, Rules: "omitempty,max=30"},
			{Name: "especialidad", Kind: resource.KindString, Writable: true, Rules: "omitempty,max=120"},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "especialidad", Kind: resource.FilterPartial},
			{Param: "usuario_id", Kind: resource.FilterEqual},
		},
		SearchFields: []string{"nombre", "email", "especialidad"},
		SortFields:   []string{"id", "created_at", "nombre", "email"},
		DefaultSort:  "nombre",
		DefaultDir:   resource.Asc,
		StateColumn:  "estado",
		States:       []string{"activo", "inactivo", "eliminado"},
		InitialState: "activo",
		DeletedState: "eliminado",
		Actions: []resource.Action{
			{Name: "activar", From: []string{"inactivo"}, To: "activo"},
			{Name: "desactivar", From: []string{"activo"}, To: "inactivo"},
		},
		Delete: resource.DeletePolicy{
			Soft: true,
			Guard: noOpenChildren("El operador tiene veedurías, tareas o PQRSFD activas",
				childCheck{"veedurias", "operador_id", openVeedurias},
				childCheck{"tareas", "operador_id", openTareas},
				childCheck{"pqrsfd", "operador_id", openPQRSFD},
			),
		},
		ReadBy:  staff,
		WriteBy: adminOnly,
	}
}

// Archivos are uploaded files. Rows are created by the upload endpoint and the
// stored object is removed when the row is deleted.
func Archivos() *resource.Schema {
	return &resource.Schema{
		Name:  "archivo",
		Path:  "archivos",
		Table: "archivos",
		Fields: []resource.Field{
			{Name: "nombre_original", Kind: resource.KindString},
			{Name: "ruta", Kind: resource.KindString, Hidden: true},
			{Name: "mime_type", Kind: resource.KindString},
			{Name: "tamano", Kind: resource.KindInt},
			{Name: "checksum", Kind: resource.KindString},
			{Name: "entidad_tipo", Kind: resource.KindString, Writable: true,
				Rules: "omitempty,oneof=pqrsfd tarea veeduria donacion reporte"},
			{Name: "entidad_id", Kind: resource.KindInt, Writable: true, Rules: "omitempty,gt=0"},
			{Name: "subido_por", Kind: resource.KindInt},
		},
		Filters: []resource.Filter{
			{Param: "entidad_tipo", Kind: resource.FilterEqual},
			{Param: "entidad_id", Kind: resource.FilterEqual},
			{Param: "mime_type", Kind: resource.FilterPartial},
			{Param: "subido_por", Kind: resource.FilterEqual},
			{Param: "fecha", Column: "created_at", Kind: resource.FilterDateRange},
		},
		SearchFields:   []string{"nombre_original"},
		SortFields:     []string{"id", "created_at", "nombre_original", "tamano"},
		DefaultSort:    "created_at",
		DefaultDir:     resource.Desc,
		StateColumn:    "estado",
		States:         []string{"activo"},
		InitialState:   "activo",
		OwnerColumn:    "subido_por",
		StorageField:   "ruta",
		CreateDisabled: true,
	}
}

// Notificaciones belong to one account and are only visible to it.
func Notificaciones() *resource.Schema {
	return &resource.Schema{
		Name:  "notificacion",
		Path:  "notificaciones",
		Table: "notificaciones",
		Fields: []resource.Field{
			{Name: "usuario_id", Kind: resource.KindInt, Writable: true, Required: true, Immutable: true, Rules: "gt=0"},
			{Name: "tipo", Kind: resource.KindString, Writable: true, Required: true, Rules: "max=60"},
			{Name: "titulo", Kind: resource.KindString, Writable: true, Required: true, Rules: "max=255"},
			{Name: "mensaje", Kind: resource.KindText, Writable: true, Required: true},
			{Name: "fecha_lectura", Kind: resource.KindTime},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "tipo", Kind: resource.FilterEqual},
			{Param: "usuario_id", Kind: resource.FilterEqual},
		},
		SearchFields: []string{"titulo", "mensaje"},
		SortFields:   []string{"id", "created_at", "estado"},
		DefaultSort:  "created_at",
		DefaultDir:   resource.Desc,
		StateColumn:  "estado",
		States:       []string{NotificacionNoLeida, NotificacionLeida},
		InitialState: NotificacionNoLeida,
		Actions: []resource.Action{
			{
				Name: "marcar_leida", From: []string{NotificacionNoLeida}, To: NotificacionLeida,
				By: allActors, Apply: stamp("fecha_lectura"),
			},
		},
		OwnerColumn:     "usuario_id",
		OwnerScopeStaff: true,
		WriteBy:         adminOnly,
	}
}

// Reportes summarize activity for a period. Only pending reports may be deleted.
func Reportes() *resource.Schema {
	return &resource.Schema{
		Name:  "reporte",
		Path:  "reportes",
		Table: "reportes",
		Fields: []resource.Field{
			{Name: "titulo", Kind: resource.KindString, Writable: true, Required: true, Rules: "min=3,max=255"},
			{Name: "tipo", Kind: resource.KindString, Writable: true, Required: true,
				Rules: "oneof=general pqrsfd veedurias donaciones tareas"},
			{Name: "periodo_inicio", Kind: resource.KindDate, Writable: true, Required: true},
			{Name: "periodo_fin", Kind: resource.KindDate, Writable: true, Required: true},
			{Name: "parametros", Kind: resource.KindJSON, Writable: true},
			{Name: "contenido", Kind: resource.KindJSON},
			{Name: "generado_por", Kind: resource.KindInt},
			{Name: "fecha_generacion", Kind: resource.KindTime},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "tipo", Kind: resource.FilterEqual},
			{Param: "periodo", Column: "periodo_inicio", Kind: resource.FilterDateRange},
		},
		SearchFields: []string{"titulo"},
		SortFields:   []string{"id", "created_at", "titulo", "periodo_inicio"},
		DefaultSort:  "created_at",
		DefaultDir:   resource.Desc,
		StateColumn:  "estado",
		States:       []string{"pendiente", "generado", "archivado"},
		InitialState: "pendiente",
		EditableFrom: []string{"pendiente"},
		Actions: []resource.Action{
			{Name: "generar", From: []string{"pendiente"}, To: "generado", Apply: generateReport},
			{Name: "archivar", From: []string{"generado"}, To: "archivado"},
		},
		Delete:      resource.DeletePolicy{From: []string{"pendiente"}},
		OwnerColumn: "generado_por",
		ReadBy:      staff,
		WriteBy:     staff,
	}
}

// Configuraciones are key/value settings read through a cached lookup.
func Configuraciones() *resource.Schema {
	return &resource.Schema{
		Name:  "configuracion",
		Path:  "configuraciones",
		Table: "configuraciones",
		Fields: []resource.Field{
			{Name: "clave", Kind: resource.KindString, Writable: true, Required: true, Immutable: true,
				Rules: "min=2,max=120"},
			{Name: "valor", Kind: resource.KindText, Writable: true, Required: true},
			{Name: "descripcion", Kind: resource.KindText, Writable: true},
		},
		Filters: []resource.Filter{
			{Param: "estado", Kind: resource.FilterSet},
			{Param: "clave", Kind: resource.FilterPartial},
		},
		SearchFields: []string{"clave", "descripcion"},
		SortFields:   []string{"id", "clave", "created_at"},
		DefaultSort:  "clave",
		DefaultDir:   resource.Asc,
		StateColumn:  "estado",
		States:       []string{"activo", "inactivo"},
		InitialState: "activo",
		Actions: []resource.Action{
			{Name: "activar", From: []string{"inactivo"}, To: "activo"},
			{Name: "desactivar", From: []string{"activo"}, To: "inactivo"},
		},
		ReadBy:       staff,
		WriteBy:      adminOnly,
		Invalidates:  []string{DashboardCachePrefix},
		ListCacheTTL: listCacheTTL,
	}
}

// Logs exposes audit_logs through the list engine. It never accepts writes.
func Logs() *resource.Schema {
	return &resource.Schema{
		Name:  "log",
		Path:  "logs",
		Table: "audit_logs",
		Fields: []resource.Field{
			{Name: "actor_id", Kind: resource.KindInt},
			{Name: "actor_type", Kind: resource.KindString},
			{Name: "action", Kind: resource.KindString},
			{Name: "entity_type", Kind: resource.KindString},
			{Name: "entity_id", Kind: resource.KindInt},
			{Name: "before_snapshot", Kind: resource.KindJSON},
			{Name: "after_snapshot", Kind: resource.KindJSON},
			{Name: "metadata", Kind: resource.KindJSON},
			{Name: "source_ip", Kind: resource.KindString},
			{Name: "user_agent", Kind: resource.KindString},
		},
		Filters: []resource.Filter{
			{Param: "entidad", Column: "entity_type", Kind: resource.FilterEqual},
			{Param: "id", Column: "entity_id", Kind: resource.FilterEqual},
			{Param: "accion", Column: "action", Kind: resource.FilterSet},
			{Param: "actor_id", Kind: resource.FilterEqual},
			{Param: "actor_type", Kind: resource.FilterEqual},
			{Param: "fecha", Column: "created_at", Kind: resource.FilterDateRange,
				FromParam: "fecha_inicio", ToParam: "fecha_fin"},
		},
		SearchFields: []string{"entity_type", "action", "source_ip"},
		SortFields:   []string{"id", "created_at", "action", "entity_type"},
		DefaultSort:  "created_at",
		DefaultDir:   resource.Desc,
		ReadOnly:     true,
		AppendOnly:   true,
		ReadBy:       adminOnly,
		Delete:       resource.DeletePolicy{Disabled: true},
	}
}
