package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseBackend     string
	DatabaseURL         string
	DatabaseAutoMigrate bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Batch runner configuration.
	BatchSize   int
	CommitEvery int
	RunInterval time.Duration

	// Geocoding provider configuration.
	GeocoderEnabled      bool
	GeocoderURL          string
	GeocoderUserAgent    string
	GeocoderEmail        string
	GeocoderCountryCodes string
	GeocoderMinInterval  time.Duration
	GeocoderTimeout      time.Duration
	GeocoderCacheTTL     time.Duration
	GeocoderMemoSize     int
	MaxDistanceKm        float64

	// Locality appended to every normalized address.
	DefaultDistrict   string
	DefaultProvince   string
	DefaultCountry    string
	DistrictCenterLat float64
	DistrictCenterLon float64

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaHeatTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseBackend: strings.ToLower(sharedcfg.EnvOrDefault("DATABASE_BACKEND", "sqlite")),
		DatabaseURL:     sharedcfg.EnvOrDefault("DATABASE_URL", "incidents.db"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		GeocoderURL:          sharedcfg.EnvOrDefault("GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
		GeocoderUserAgent:    sharedcfg.EnvOrDefault("GEOCODER_USER_AGENT", "incident-heat-etl/1.0"),
		GeocoderEmail:        sharedcfg.EnvOrDefault("GEOCODER_EMAIL", ""),
		GeocoderCountryCodes: sharedcfg.EnvOrDefault("GEOCODER_COUNTRY_CODES", "pe"),

		DefaultDistrict: sharedcfg.EnvOrDefault("DEFAULT_DISTRICT", "José Luis Bustamante y Rivero"),
		DefaultProvince: sharedcfg.EnvOrDefault("DEFAULT_PROVINCE", "Arequipa"),
		DefaultCountry:  sharedcfg.EnvOrDefault("DEFAULT_COUNTRY", "Peru"),

		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaHeatTopic: sharedcfg.EnvOrDefault("KAFKA_HEAT_TOPIC", "incident-heat-points"),
	}

	bools := []struct {
		key  string
		def  bool
		dest *bool
	}{
		{"DATABASE_AUTO_MIGRATE", true, &cfg.DatabaseAutoMigrate},
		{"GEOCODER_ENABLED", true, &cfg.GeocoderEnabled},
		{"KAFKA_ENABLED", false, &cfg.KafkaEnabled},
	}
	for _, b := range bools {
		if *b.dest, err = parseBool(b.key, b.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		min  int
		dest *int
	}{
		{"ENRICH_BATCH_SIZE", 200, 1, &cfg.BatchSize},
		{"ENRICH_COMMIT_EVERY", 100, 1, &cfg.CommitEvery},
		{"GEOCODER_MEMO_SIZE", 0, 0, &cfg.GeocoderMemoSize},
	}
	for _, n := range ints {
		if *n.dest, err = parseInt(n.key, n.def, n.min); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		key  string
		def  string
		zero bool
		dest *time.Duration
	}{
		{"ENRICH_INTERVAL", "5m", false, &cfg.RunInterval},
		{"GEOCODER_MIN_INTERVAL", "1s", true, &cfg.GeocoderMinInterval},
		{"GEOCODER_TIMEOUT", "10s", false, &cfg.GeocoderTimeout},
		{"GEOCODER_CACHE_TTL", "4320h", false, &cfg.GeocoderCacheTTL},
	}
	for _, d := range durations {
		if *d.dest, err = parseDuration(d.key, d.def, d.zero); err != nil {
			return nil, err
		}
	}

	floats := []struct {
		key  string
		def  string
		dest *float64
	}{
		{"GEOCODER_MAX_DISTANCE_KM", "0", &cfg.MaxDistanceKm},
		{"DISTRICT_CENTER_LAT", "-16.4225", &cfg.DistrictCenterLat},
		{"DISTRICT_CENTER_LON", "-71.5230", &cfg.DistrictCenterLon},
	}
	for _, f := range floats {
		if *f.dest, err = parseFloat(f.key, f.def); err != nil {
			return nil, err
		}
	}

	if cfg.GeocoderMinInterval < publicMinInterval && isPublicNominatim(cfg.GeocoderURL) {
		cfg.GeocoderMinInterval = publicMinInterval
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// The public Nominatim usage policy allows one request per second.
const (
	publicNominatimHost = "nominatim.openstreetmap.org"
	publicMinInterval   = time.Second
)

func isPublicNominatim(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), publicNominatimHost)
}

func (c *Config) validate() error {
	switch c.DatabaseBackend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid DATABASE_BACKEND %q: want sqlite or postgres", c.DatabaseBackend)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.GeocoderEnabled && c.GeocoderURL == "" {
		return errors.New("GEOCODER_ENABLED is true but GEOCODER_URL is not set")
	}
	if c.GeocoderEnabled && c.GeocoderUserAgent == "" {
		return errors.New("GEOCODER_USER_AGENT is required when geocoding is enabled")
	}
	if c.MaxDistanceKm < 0 {
		return errors.New("GEOCODER_MAX_DISTANCE_KM must not be negative")
	}
	if c.DistrictCenterLat < -90 || c.DistrictCenterLat > 90 || c.DistrictCenterLon < -180 || c.DistrictCenterLon > 180 {
		return errors.New("DISTRICT_CENTER_LAT/DISTRICT_CENTER_LON out of range")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if c.KafkaEnabled && c.KafkaHeatTopic == "" {
		return errors.New("KAFKA_HEAT_TOPIC is required when KAFKA_ENABLED is true")
	}
	return nil
}

func parseBool(key string, def bool) (bool, error) {
	s := sharedcfg.EnvOrDefault(key, strconv.FormatBool(def))
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, s)
	}
	return v, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := sharedcfg.EnvOrDefault(key, strconv.Itoa(def))
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s %q: want an integer >= %d", key, s, minimum)
	}
	return n, nil
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func parseFloat(key, def string) (float64, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return f, nil
}
