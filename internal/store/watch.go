package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Watch tails the messages change stream and republishes remote writes as
// the same store.* bus events local writes produce, so live feeds also see
// messages sent by the partner's client. The daemon's own writes come back
// through the stream too; the resulting extra refetch is idempotent.
//
// The pump stops when ctx is cancelled. A broken stream is logged and left
// closed; reconnection is a daemon restart concern, reported through the
// status machine by the caller.
func (s *Mongo) Watch(ctx context.Context, onError func(error)) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := s.msgs.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}

	go func() {
		defer func() { _ = cs.Close(context.Background()) }()
		for cs.Next(ctx) {
			var ev struct {
				OperationType string     `bson:"operationType"`
				FullDocument  messageDoc `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				s.logger.Warn("decode change event", zap.Error(err))
				continue
			}
			change := Change{
				ConversationID: ev.FullDocument.ConversationID,
				MessageID:      ev.FullDocument.ID,
			}
			switch ev.OperationType {
			case "insert":
				s.bus.Emit(EventMessageAppended, change)
			case "update", "replace":
				s.bus.Emit(EventMessageRead, change)
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			s.logger.Error("change stream closed", zap.Error(err))
			if onError != nil {
				onError(err)
			}
		}
	}()
	return nil
}
