// Package util provides small helpers every cmd/ entry point shares,
// mirroring plantd's core/util.Getenv.
package util

import "os"

// Getenv retrieves an environment variable with a fallback value.
func Getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// WorkerConfig reads the FLEET_CONFIG_<KEY> environment variables the
// spawn engine sets from a worker descriptor's Config map (§4.1), with a
// fallback for keys the descriptor didn't declare.
func WorkerConfig(key, fallback string) string {
	return Getenv("FLEET_CONFIG_"+key, fallback)
}
