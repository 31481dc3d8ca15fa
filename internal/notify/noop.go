package notify

import (
	"context"

	"github.com/correlator-io/retail-analytics/internal/pipeline"
)

var _ pipeline.Publisher = Noop{}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, pipeline.Run) error { return nil }

func (Noop) Close() error { return nil }
