package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semanticallynull/bikeshare-backend/achievement"
	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/internal/auth0"
	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/internal/o11y"
	"github.com/semanticallynull/bikeshare-backend/ledger"
	"github.com/semanticallynull/bikeshare-backend/member"
	"github.com/semanticallynull/bikeshare-backend/payment"
	"github.com/semanticallynull/bikeshare-backend/ranking"
	"github.com/semanticallynull/bikeshare-backend/rental"
	"github.com/semanticallynull/bikeshare-backend/station"
	"github.com/semanticallynull/bikeshare-backend/ticket"
)

// Deps are the services the handlers drive.
type Deps struct {
	Engine       *rental.Engine
	Bikes        *bike.Repository
	Stations     *station.Repository
	Members      *member.Repository
	Tickets      *ticket.Repository
	Points       *ledger.Ledger
	Achievements *achievement.Evaluator
	Rankings     *ranking.Aggregator
	Charger      payment.Charger
	// UserInfo fills in member profiles; optional.
	UserInfo auth0.Client
	Clock    clock.Clock
}

type Config struct {
	Auth0Domain     string
	Audience        string
	MetricsUsername string
	MetricsPassword string
	// Auth replaces JWT validation when set.
	Auth gin.HandlerFunc
}

type API struct {
	r *gin.Engine
	Deps
}

func New(d Deps, obs *o11y.Observability, cfg Config) (*API, error) {
	auth := cfg.Auth
	if auth == nil {
		if cfg.Auth0Domain == "" || cfg.Audience == "" {
			return nil, errors.New("auth0 domain and audience are required")
		}
		var err error
		auth, err = middleware.JWT(cfg.Auth0Domain, cfg.Audience)
		if err != nil {
			return nil, err
		}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}

	a := &API{
		r:    gin.New(),
		Deps: d,
	}
	a.r.Use(gin.Recovery(), middleware.Tracing(), middleware.Logging(obs.Logger), middleware.Metrics(obs.Registry))

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Operator endpoints are only mounted when credentials are configured.
	if cfg.MetricsUsername != "" {
		internal := a.r.Group("/", gin.BasicAuth(gin.Accounts{cfg.MetricsUsername: cfg.MetricsPassword}))
		internal.GET("/metrics", gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})))
		internal.POST("/internal/rankings/weekly", a.runWeeklyRankingHandler)
	}

	a.r.GET("/stations", a.stationsHandler)
	a.r.GET("/stations/:id", a.stationHandler)
	a.r.GET("/bikes/:id", a.bikeHandler)
	a.r.GET("/tickets/plans", a.ticketPlansHandler)
	a.r.GET("/rankings/weekly", a.weeklyRankingHandler)
	a.r.GET("/rankings/all-time", a.allTimeRankingHandler)

	protected := a.r.Group("/", auth)
	protected.GET("/me", a.meHandler)

	protected.POST("/rentals", a.rentHandler)
	protected.POST("/rentals/return", a.returnHandler)
	protected.GET("/rentals/current", a.currentRentalHandler)
	protected.GET("/rentals/history", a.rentalHistoryHandler)

	protected.GET("/tickets", a.ticketsHandler)
	protected.POST("/tickets", a.purchaseTicketHandler)

	protected.GET("/points", a.pointsHandler)
	protected.GET("/points/history", a.pointsHistoryHandler)
	protected.POST("/points/charge", a.chargePointsHandler)

	protected.GET("/achievements", a.achievementsHandler)

	protected.POST("/payments/customer-session", a.createCustomerSession)
	protected.POST("/payments/setup-intent", a.createSetupIntent)

	return a, nil
}

func (a *API) Router() *gin.Engine {
	return a.r
}

// retryAfter is advertised on 503 responses caused by contention.
const retryAfter = time.Second
