package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/asptrack/asp-service/internal/shared/envconfig"
	"github.com/asptrack/asp-service/internal/window"
)

// Config encapsulates the runtime configuration for the attendance service.
type Config struct {
	Port         string `validate:"required,numeric"`
	GCPProjectID string
	DataStore    DataStore `validate:"oneof=memory firestore"`
	Firestore    FirestoreConfig
	Program      ProgramConfig
	Admin        AdminConfig
	Export       ExportConfig
}

// DataStore enumerates supported persistence backends.
type DataStore string

const (
	// DataStoreMemory keeps cadets and sessions in-memory (useful for local development/testing).
	DataStoreMemory DataStore = "memory"
	// DataStoreFirestore stores records in Google Cloud Firestore.
	DataStoreFirestore DataStore = "firestore"
)

// FirestoreConfig tailors Firestore client behavior.
type FirestoreConfig struct {
	Database     string
	EmulatorHost string
}

// ProgramConfig describes the schedule and the minute rules of the program.
type ProgramConfig struct {
	Weekdays          []time.Weekday `validate:"min=1"`
	WindowStart       int            `validate:"gte=0,lt=1440"`
	WindowEnd         int            `validate:"gt=0,lte=1440,gtfield=WindowStart"`
	Location          *time.Location `validate:"required"`
	NightlyCapMinutes int            `validate:"gt=0"`
	SessionMaxMinutes int            `validate:"gt=0"`
	RewardDayMinutes  int            `validate:"gt=0"`
	Cohorts           []string       `validate:"min=1,dive,required"`
	EnableOverrides   bool
	EnableNightlyCap  bool
}

// Schedule converts the program settings into a window schedule.
func (p ProgramConfig) Schedule() window.Schedule {
	return window.Schedule{
		Weekdays:    p.Weekdays,
		StartMinute: p.WindowStart,
		EndMinute:   p.WindowEnd,
		Location:    p.Location,
	}
}

// AdminConfig stores the administrator credential and token settings.
type AdminConfig struct {
	Key         string        `validate:"required"`
	TokenSecret string        `validate:"required,min=16"`
	TokenTTL    time.Duration `validate:"gt=0"`
}

// ExportConfig contains Cloud Storage settings for leaderboard snapshots. An empty bucket
// disables snapshots.
type ExportConfig struct {
	Bucket string
}

// Load reads environment variables (and a .env file when present) into Config with validation.
func Load() (Config, error) {
	if err := envconfig.LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	program, err := loadProgram()
	if err != nil {
		return Config{}, err
	}

	ttl, err := envconfig.GetDuration("ADMIN_TOKEN_TTL", 12*time.Hour)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:         envconfig.Get("PORT", "8080"),
		GCPProjectID: envconfig.Get("GCP_PROJECT_ID", ""),
		DataStore:    DataStore(strings.ToLower(envconfig.Get("DATASTORE", string(DataStoreMemory)))),
		Firestore: FirestoreConfig{
			Database:     envconfig.Get("FIRESTORE_DATABASE", ""),
			EmulatorHost: envconfig.Get("FIRESTORE_EMULATOR_HOST", ""),
		},
		Program: program,
		Admin: AdminConfig{
			Key:         envconfig.Get("ADMIN_KEY", ""),
			TokenSecret: envconfig.Get("ADMIN_TOKEN_SECRET", ""),
			TokenTTL:    ttl,
		},
		Export: ExportConfig{
			Bucket: envconfig.Get("EXPORT_BUCKET", ""),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadProgram() (ProgramConfig, error) {
	var p ProgramConfig

	for _, name := range envconfig.GetList("ASP_WEEKDAYS", []string{"monday", "wednesday"}) {
		day, err := window.ParseWeekday(name)
		if err != nil {
			return ProgramConfig{}, fmt.Errorf("ASP_WEEKDAYS: %w", err)
		}
		p.Weekdays = append(p.Weekdays, day)
	}

	var err error
	if p.WindowStart, err = window.ParseClock(envconfig.Get("ASP_WINDOW_START", "19:30")); err != nil {
		return ProgramConfig{}, fmt.Errorf("ASP_WINDOW_START: %w", err)
	}
	if p.WindowEnd, err = window.ParseClock(envconfig.Get("ASP_WINDOW_END", "21:30")); err != nil {
		return ProgramConfig{}, fmt.Errorf("ASP_WINDOW_END: %w", err)
	}

	tz := envconfig.Get("ASP_TIMEZONE", "America/New_York")
	if p.Location, err = time.LoadLocation(tz); err != nil {
		return ProgramConfig{}, fmt.Errorf("ASP_TIMEZONE: %w", err)
	}

	if p.NightlyCapMinutes, err = envconfig.GetInt("ASP_NIGHTLY_CAP_MINUTES", 120); err != nil {
		return ProgramConfig{}, err
	}
	if p.SessionMaxMinutes, err = envconfig.GetInt("ASP_SESSION_MAX_MINUTES", 120); err != nil {
		return ProgramConfig{}, err
	}
	if p.RewardDayMinutes, err = envconfig.GetInt("ASP_REWARD_DAY_MINUTES", 240); err != nil {
		return ProgramConfig{}, err
	}

	p.Cohorts = envconfig.GetList("ASP_COHORTS", []string{"2027", "2028", "2029", "2030"})

	if p.EnableOverrides, err = envconfig.GetBool("ASP_ENABLE_OVERRIDES", true); err != nil {
		return ProgramConfig{}, err
	}
	if p.EnableNightlyCap, err = envconfig.GetBool("ASP_ENABLE_NIGHTLY_CAP", true); err != nil {
		return ProgramConfig{}, err
	}

	return p, nil
}

func validate(cfg Config) error {
	if err := envconfig.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.DataStore {
	case DataStoreMemory:
		// no-op
	case DataStoreFirestore:
		if cfg.GCPProjectID == "" {
			return fmt.Errorf("gcp project id required when datastore=firestore")
		}
	default:
		return fmt.Errorf("unsupported datastore: %s", cfg.DataStore)
	}

	return nil
}
