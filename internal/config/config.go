package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field
// corresponds to an environment variable; required variables are
// enforced by must() and missing values abort startup.
type Config struct {
	Env            string        // application environment (e.g. "dev", "prod")
	Port           string        // HTTP port to listen on
	DBUser         string        // database username
	DBPass         string        // database password (optional)
	DBHost         string        // database host address
	DBPort         string        // database port number
	DBName         string        // database name
	JWTSecret      string        // secret used to verify access tokens
	OfferWindow    time.Duration // how long a purchase offer stays open
	SweepInterval  time.Duration // how often the sweeper pass runs
	CartTTL        time.Duration // lifetime of an untouched cart snapshot
	AMQPURL        string        // RabbitMQ URL for change notifications (optional)
	SweepQueueName string        // asynq queue the sweep tasks run on
}

// Load reads configuration from environment variables.  The offer
// window defaults to 15 minutes; deployments can override it with
// OFFER_WINDOW_MIN.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		OfferWindow:    time.Duration(envInt("OFFER_WINDOW_MIN", 15)) * time.Minute,
		SweepInterval:  time.Duration(envInt("SWEEP_INTERVAL_SEC", 30)) * time.Second,
		CartTTL:        time.Duration(envInt("CART_TTL_MIN", 60)) * time.Minute,
		AMQPURL:        os.Getenv("RABBITMQ_URL"),
		SweepQueueName: getenv("SWEEP_QUEUE", "default"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
