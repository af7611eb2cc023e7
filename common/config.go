package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
)

var (
	// Log is the configured logger
	Log *logger.Logger
)

func init() {
	godotenv.Load()

	requireLogger()
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("zkid", lvl, endpoint)
}

// EnvOrDefault returns the value of the named environment variable,
// or the given default when unset or empty
func EnvOrDefault(name, defaultValue string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return defaultValue
}

// EnvIntOrDefault returns the named environment variable parsed as an
// int, or the given default when unset or unparseable
func EnvIntOrDefault(name string, defaultValue int) int {
	val := os.Getenv(name)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		Log.Warningf("failed to parse %s as int; using default %d; %s", name, defaultValue, err.Error())
		return defaultValue
	}
	return i
}

// EnvDurationOrDefault returns the named environment variable parsed as a
// duration, or the given default when unset or unparseable
func EnvDurationOrDefault(name string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(name)
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		Log.Warningf("failed to parse %s as duration; using default %s; %s", name, defaultValue, err.Error())
		return defaultValue
	}
	return d
}
