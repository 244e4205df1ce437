package sheets

import (
	"context"
	"fmt"

	"thebox/internal/log"
	"thebox/internal/mirror"
)

// Projector appends one row per transaction event.
type Projector struct {
	appender RowAppender
	logger   *log.Logger
}

func NewProjector(appender RowAppender, logger *log.Logger) *Projector {
	return &Projector{appender: appender, logger: logger.WithComponent(log.ComponentSheets)}
}

// Handle is shaped for amqp.Client.ConsumeEvents; a returned error requeues the message.
func (p *Projector) Handle(ctx context.Context, e mirror.Event) error {
	row, ok := RowFromEvent(e)
	if !ok {
		p.logger.DebugContext(ctx, "Event has no sheet row, skipping", log.FieldEventType, e.Type)
		return nil
	}
	if err := p.appender.AppendRow(ctx, row); err != nil {
		return fmt.Errorf("append row for %s: %w", e.ID, err)
	}
	p.logger.InfoContext(ctx, "Row appended",
		log.FieldEventType, e.Type,
		log.FieldTxID, row.ID)
	return nil
}
