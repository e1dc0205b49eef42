// Package audit emite eventos de seguridad como entradas estructuradas en el
// log principal, siempre bajo la key "audit" para poder filtrarlos aguas
// abajo.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/janus/internal/observability/logger"
)

// Event writes one security-relevant event. Los campos nunca llevan tokens ni
// secretos; ids y subjects solamente.
func Event(ctx context.Context, event string, fields ...zap.Field) {
	logger.From(ctx).Info(event,
		append([]zap.Field{zap.String("audit", event)}, fields...)...)
}
