package session

import "github.com/redis/go-redis/v9"

// NewRedisClient connects to a standalone Redis, or to a Sentinel-managed
// master when masterName is set.
func NewRedisClient(addr, password string, db int, masterName string) *redis.Client {
	if masterName != "" {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    masterName,
			SentinelAddrs: []string{addr},
			Password:      password,
			DB:            db,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
