package services

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/consejo-social/veeduria/internal/cache"
	"github.com/consejo-social/veeduria/internal/db/models"
	"github.com/consejo-social/veeduria/internal/db/repositories"
	"github.com/consejo-social/veeduria/internal/resource"
	"github.com/consejo-social/veeduria/internal/resource/catalog"
)

const (
	dashboardTTL = 5 * time.Minute

	defaultDiasRespuesta = 15
)

// Summary is the dashboard aggregate.
type Summary struct {
	PQRSFD          map[string]int64 `json:"pqrsfd"`
	Tareas          map[string]int64 `json:"tareas"`
	Veedurias       map[string]int64 `json:"veedurias"`
	Donaciones      map[string]int64 `json:"donaciones"`
	MontoDonaciones decimal.Decimal  `json:"monto_donaciones"`
	PQRSFDVencidas  int64            `json:"pqrsfd_vencidas"`
	GeneratedAt     time.Time        `json:"generado_en"`
}

// DashboardService computes staff-facing aggregates. Results are cached
// until a write on one of the counted resources drops the dashboard prefix.
type DashboardService struct {
	registry *resource.Registry
	stats    *repositories.StatsRepository
	settings *Settings
	cache    cache.Cache
	now      func() time.Time
}

// NewDashboardService creates a DashboardService.
func NewDashboardService(db *sqlx.DB, registry *resource.Registry, settings *Settings, c cache.Cache) *DashboardService {
	if c == nil {
		c = cache.Noop{}
	}
	return &DashboardService{
		registry: registry,
		stats:    repositories.NewStatsRepository(db),
		settings: settings,
		cache:    c,
		now:      time.Now,
	}
}

// Summary returns the counts per estado of the case resources, the total of
// accepted donations and the number of open PQRSFD past their response term.
func (d *DashboardService) Summary(ctx context.Context, actor models.Actor) (*Summary, error) {
	if actor.Type != models.ActorOperator && !actor.IsAdministrator() {
		return nil, forbidden()
	}

	key := cache.GenerateKey(catalog.DashboardCachePrefix, "resumen")
	var cached Summary
	if d.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	sum := &Summary{GeneratedAt: d.now().UTC()}
	targets := []struct {
		path string
		dest *map[string]int64
	}{
		{"pqrsfd", &sum.PQRSFD},
		{"tareas", &sum.Tareas},
		{"veedurias", &sum.Veedurias},
		{"donaciones", &sum.Donaciones},
	}
	for _, t := range targets {
		s, err := d.registry.Get(t.path)
		if err != nil {
			return nil, err
		}
		counts, err := d.stats.CountByState(ctx, s)
		if err != nil {
			return nil, err
		}
		*t.dest = counts
	}

	total, err := d.stats.DonationTotal(ctx, []string{catalog.DonacionValidado, catalog.DonacionCertificado})
	if err != nil {
		return nil, err
	}
	sum.MontoDonaciones = total

	dias, err := d.settings.Int(ctx, SettingDiasRespuestaPQRSFD, defaultDiasRespuesta)
	if err != nil {
		return nil, err
	}
	pqrsfd, _ := d.registry.Get("pqrsfd")
	cutoff := d.now().AddDate(0, 0, -dias)
	open := []string{catalog.PQRSFDPendiente, catalog.PQRSFDEnProceso}
	if sum.PQRSFDVencidas, err = d.stats.CountOlderThan(ctx, pqrsfd, open, cutoff); err != nil {
		return nil, err
	}

	d.cache.Set(ctx, key, sum, dashboardTTL)
	return sum, nil
}
