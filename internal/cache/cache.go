// Package cache provee una abstracción de cache de bytes con soporte
// multi-backend:
//
//   - Memory (in-process, para desarrollo/testing)
//   - Redis (distribuido, para producción)
//
// La usan el state store (authorization requests pendientes) y cualquier
// componente que necesite TTLs con expiración server-side.
package cache

import "time"

// Cache define las operaciones mínimas que necesita el flow layer.
type Cache interface {
	// Get obtiene un valor. El segundo retorno indica si la key existe.
	Get(key string) ([]byte, bool)

	// Set guarda un valor con TTL. Si ttl es 0 usa el default del backend.
	Set(key string, value []byte, ttl time.Duration)

	// Delete elimina una key. Es no-op si no existe.
	Delete(key string)

	// GetDel obtiene y elimina una key en una sola operación atómica del
	// backend. De N llamadas concurrentes sobre la misma key, exactamente una
	// recibe el valor, incluso entre procesos que comparten el backend.
	GetDel(key string) ([]byte, bool)

	// Close libera recursos del backend.
	Close() error
}

// Config configuración para crear un cache.
type Config struct {
	Driver string // "memory" | "redis"
	Addr   string
	DB     int
	Prefix string // prefijo para todas las keys
}
