// Package memory implements cache.Cache in-process sobre patrickmn/go-cache.
package memory

import (
	"sync"
	"time"

	"github.com/dropDatabas3/janus/internal/cache"
	gocache "github.com/patrickmn/go-cache"
)

type Mem struct {
	c *gocache.Cache
	// go-cache no tiene get+delete atómico; el mutex serializa GetDel
	mu sync.Mutex
}

// New crea un cache en memoria con TTL default y janitor cada minuto.
func New(defaultTTL time.Duration) cache.Cache {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	return &Mem{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *Mem) Get(k string) ([]byte, bool) {
	v, ok := m.c.Get(k)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	return b, true
}

func (m *Mem) GetDel(k string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.c.Get(k)
	if !ok {
		return nil, false
	}
	m.c.Delete(k)
	b, _ := v.([]byte)
	return b, true
}

func (m *Mem) Set(k string, v []byte, ttl time.Duration) { m.c.Set(k, v, ttl) }
func (m *Mem) Delete(k string)                           { m.c.Delete(k) }
func (m *Mem) Close() error                              { m.c.Flush(); return nil }
