package bus

import (
	"context"

	"github.com/yungbote/objective-cascade/internal/realtime"
)

// Bus decouples progress publication from its transport.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	// StartForwarder delivers every message whose topic matches pattern to
	// onMsg until ctx is done.
	StartForwarder(ctx context.Context, pattern string, onMsg func(m realtime.Message)) error
	Close() error
}
