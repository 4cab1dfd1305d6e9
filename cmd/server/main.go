package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"

	"github.com/asptrack/asp-service/internal/attendance"
	"github.com/asptrack/asp-service/internal/config"
	"github.com/asptrack/asp-service/internal/expiry"
	"github.com/asptrack/asp-service/internal/export"
	"github.com/asptrack/asp-service/internal/httpapi"
	sharedauth "github.com/asptrack/asp-service/internal/shared/auth"
	"github.com/asptrack/asp-service/internal/shared/logging"
	sharedserver "github.com/asptrack/asp-service/internal/shared/server"
	"github.com/asptrack/asp-service/internal/window"
)

const serviceName = "asp-service"

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config error: %w", err))
	}

	logger := logging.NewLogger(serviceName)
	slog.SetDefault(logger)

	stores, cleanup, err := newStores(ctx, cfg)
	if err != nil {
		panic(fmt.Errorf("repository init error: %w", err))
	}
	defer cleanup()

	cal, err := window.NewCalendar(cfg.Program.Schedule())
	if err != nil {
		panic(fmt.Errorf("calendar error: %w", err))
	}
	ledger, err := attendance.NewLedger(cal, attendance.Rules{
		NightlyCapMinutes: cfg.Program.NightlyCapMinutes,
		SessionMaxMinutes: cfg.Program.SessionMaxMinutes,
		RewardDayMinutes:  cfg.Program.RewardDayMinutes,
	})
	if err != nil {
		panic(fmt.Errorf("ledger error: %w", err))
	}

	scheduler := expiry.New(logger)

	attendanceService, err := attendance.NewService(attendance.Dependencies{
		Repo:       stores.repo,
		Identities: stores.identities,
		Ledger:     ledger,
		Scheduler:  scheduler,
		Clock:      attendance.NewSystemClock(),
		IDs:        attendance.NewUUIDGenerator(),
		Logger:     logger,
	}, attendance.Options{
		Cohorts:          cfg.Program.Cohorts,
		EnableOverrides:  cfg.Program.EnableOverrides,
		EnableNightlyCap: cfg.Program.EnableNightlyCap,
	})
	if err != nil {
		panic(fmt.Errorf("attendance service init error: %w", err))
	}

	recovered, err := attendanceService.RecoverOpenSessions(ctx)
	if err != nil {
		panic(fmt.Errorf("recover open sessions: %w", err))
	}
	logger.Info("open sessions re-armed", "count", recovered)

	authority, err := sharedauth.NewAuthority(sharedauth.Config{
		AdminKey: cfg.Admin.Key,
		Secret:   cfg.Admin.TokenSecret,
		TTL:      cfg.Admin.TokenTTL,
		Issuer:   serviceName,
	})
	if err != nil {
		panic(fmt.Errorf("admin authority error: %w", err))
	}

	publisher, closePublisher, err := newPublisher(ctx, cfg, cal)
	if err != nil {
		panic(fmt.Errorf("export init error: %w", err))
	}
	defer closePublisher()

	router := sharedserver.NewRouter(serviceName, func(r chi.Router) {
		httpapi.RegisterRoutes(r, httpapi.Dependencies{
			Service:   attendanceService,
			Admin:     authority,
			Publisher: publisher,
			Logger:    logger,
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := sharedserver.Run(ctx, srv, logger, scheduler.Stop); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}

type stores struct {
	repo       attendance.Repository
	identities attendance.IdentityStore
}

func newStores(ctx context.Context, cfg config.Config) (stores, func(), error) {
	switch cfg.DataStore {
	case config.DataStoreFirestore:
		if cfg.Firestore.EmulatorHost != "" {
			if err := os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Firestore.EmulatorHost); err != nil {
				return stores{}, nil, fmt.Errorf("set FIRESTORE_EMULATOR_HOST: %w", err)
			}
		}

		database := cfg.Firestore.Database
		if database == "" {
			database = firestore.DefaultDatabaseID
		}
		client, err := firestore.NewClientWithDatabase(ctx, cfg.GCPProjectID, database)
		if err != nil {
			return stores{}, nil, fmt.Errorf("firestore client: %w", err)
		}

		s := stores{
			repo:       attendance.NewFirestoreRepository(client),
			identities: attendance.NewFirestoreIdentityStore(client),
		}
		cleanup := func() {
			_ = client.Close()
		}
		return s, cleanup, nil
	default:
		s := stores{
			repo:       attendance.NewMemoryRepository(),
			identities: attendance.NewMemoryIdentityStore(),
		}
		return s, func() {}, nil
	}
}

// newPublisher returns a nil publisher when no export bucket is configured.
func newPublisher(ctx context.Context, cfg config.Config, cal *window.Calendar) (httpapi.SnapshotPublisher, func(), error) {
	if cfg.Export.Bucket == "" {
		return nil, func() {}, nil
	}

	writer, err := export.NewGCSWriter(ctx, cfg.Export.Bucket)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := export.NewPublisher(writer, cal.Location())
	if err != nil {
		_ = writer.Close()
		return nil, nil, err
	}
	return publisher, func() { _ = writer.Close() }, nil
}
