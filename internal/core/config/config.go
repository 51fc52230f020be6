package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool

	RedisAddr    string
	OverpassURL  string
	NominatimURL string
	UserAgent    string

	CacheMaxAge    time.Duration
	CacheOpTimeout time.Duration
	H3Res          int

	FetchTimeout   time.Duration
	FetchRetries   int
	RetryBaseDelay time.Duration
	RateLimitN     int
	RateWindow     time.Duration
	GeocodeSpacing time.Duration

	MaxBoundsSpanDeg float64
	OverlapThreshold float64
	GapMinSpanDeg    float64
	LocationRadiusKm float64
	SecondaryDelay   time.Duration
	DefaultLimit     int

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),

		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		OverpassURL:  getenv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		NominatimURL: getenv("NOMINATIM_URL", "https://nominatim.openstreetmap.org/search"),
		UserAgent:    getenv("USER_AGENT", "sitecache/1.0"),

		CacheMaxAge:    getduration("CACHE_MAX_AGE", 24*time.Hour),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		H3Res:          res,

		FetchTimeout:   getduration("FETCH_TIMEOUT", 30*time.Second),
		FetchRetries:   getint("FETCH_RETRIES", 3),
		RetryBaseDelay: getduration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RateLimitN:     getint("RATE_LIMIT_N", 2),
		RateWindow:     getduration("RATE_WINDOW", time.Second),
		GeocodeSpacing: getduration("GEOCODE_SPACING", time.Second),

		MaxBoundsSpanDeg: getfloat("MAX_BOUNDS_SPAN_DEG", 2.0),
		OverlapThreshold: getfloat("OVERLAP_THRESHOLD", 0.7),
		GapMinSpanDeg:    getfloat("GAP_MIN_SPAN_DEG", 0.01),
		LocationRadiusKm: getfloat("LOCATION_RADIUS_KM", 50),
		SecondaryDelay:   getduration("SECONDARY_DELAY", 2*time.Second),
		DefaultLimit:     getint("DEFAULT_LIMIT", 200),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "site-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "sitecache-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
