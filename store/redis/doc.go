// Package redis implements store.Store on Redis using go-redis.
//
// Runs are Redis hashes indexed by a sorted set ordered on creation time.
// The running run for each key is claimed with SETNX on a dedicated key
// and released by a compare-and-delete script, so only one run per key is
// running across every process sharing the database. Each run's replay
// log is a hash from seq to a msgpack-encoded invocation record.
//
// The caller owns the client lifecycle; Close never closes it.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
