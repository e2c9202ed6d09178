package config

// This file defines the Redis client constructor.  Redis serves three
// concerns here: cart snapshot storage, the rate-limit token bucket,
// and the asynq broker that drives the sweeper.  If the connection
// fails during startup the constructor returns nil and callers degrade
// gracefully (no carts, no rate limiting), except the sweeper, which
// refuses to start without its broker.

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions resolves address, password and database number from the
// environment.  Shared between the go-redis client and the asynq
// server/scheduler so both talk to the same instance.
//
// Supported variables:
//
//	REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//	REDIS_ADDR – host:port shorthand (host/port take precedence)
//	REDIS_PASSWORD – optional password
//	REDIS_DB – database number (default 0)
func RedisOptions() (addr, password string, db int) {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	addr = os.Getenv("REDIS_ADDR")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	password = os.Getenv("REDIS_PASSWORD")
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			db = n
		}
	}
	return addr, password, db
}

// NewRedisClient instantiates a Redis client from the environment.
// REDIS_TLS enables TLS when "true" or "1".  The returned client is
// nil when the server cannot be reached.
func NewRedisClient() *redis.Client {
	addr, password, db := RedisOptions()
	var tlsConf *tls.Config
	if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  password,
		DB:        db,
		TLSConfig: tlsConf,
	})
	// Ping the server with a short timeout.  Return nil on failure.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}
