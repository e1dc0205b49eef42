package logger

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - FLUJO DE AUTENTICACIÓN
// =================================================================================

// Provider crea un campo para el id del identity provider.
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// SessionID crea un campo para el id de sesión.
func SessionID(v string) zap.Field {
	return zap.String("session_id", v)
}

// Subject crea un campo para el subject id (provider-scoped).
func Subject(v string) zap.Field {
	return zap.String("sub", v)
}

// ClientID crea un campo para el client_id OAuth.
func ClientID(v string) zap.Field {
	return zap.String("client_id", v)
}

// Kid crea un campo para el key id de un JWK.
func Kid(v string) zap.Field {
	return zap.String("kid", v)
}

// Reason crea un campo para el sub-motivo de un fallo de validación.
func Reason(v string) zap.Field {
	return zap.String("reason", v)
}

// Endpoint crea un campo para la URL de un endpoint remoto.
func Endpoint(v string) zap.Field {
	return zap.String("endpoint", v)
}

// Attempt crea un campo para el número de intento (retries).
func Attempt(v int) zap.Field {
	return zap.Int("attempt", v)
}

// TokenDigest crea un campo con sha256 truncado de un token, para correlación
// sin exponer el valor. Nunca loggear el token en claro.
func TokenDigest(tok string) zap.Field {
	sum := sha256.Sum256([]byte(tok))
	return zap.String("token_digest", base64.RawURLEncoding.EncodeToString(sum[:8]))
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer crea un campo para la capa (facade, service, store).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS GENÉRICOS
// =================================================================================

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
