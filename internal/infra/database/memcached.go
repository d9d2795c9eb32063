package database

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// NewMemcached returns the lookup cache client. A cache slower than the
// timeout is treated as a miss.
func NewMemcached(server string) *memcache.Client {
	mc := memcache.New(server)
	mc.Timeout = 200 * time.Millisecond
	mc.MaxIdleConns = 8
	return mc
}
