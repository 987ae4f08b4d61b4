package metrics

import (
	"context"
)

// RecordEvent records a New Relic custom event when an application is in the
// context. Attribute values must be strings, numbers or booleans.
func RecordEvent(ctx context.Context, eventName string, attributes map[string]interface{}) {
	app, ok := FromContext(ctx)
	if !ok {
		return
	}
	app.RecordCustomEvent(eventName, attributes)
}
