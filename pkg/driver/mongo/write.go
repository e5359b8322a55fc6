package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/model"
)

// Write applies ops. More than one op runs inside a session transaction.
func (d *Driver) Write(ctx context.Context, ops ...model.WriteOp) error {
	if err := d.checkOpen(ctx); err != nil {
		return model.WrapDriverError("write", err)
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return model.WrapDriverError("write", err)
		}
	}
	if len(ops) == 0 {
		return nil
	}

	if len(ops) == 1 {
		ev, err := d.apply(ctx, ops[0])
		if err != nil {
			return model.WrapDriverError("write", err)
		}
		d.publish(ev)
		return nil
	}

	session, err := d.client.StartSession()
	if err != nil {
		return model.WrapDriverError("write", err)
	}
	defer session.EndSession(ctx)

	var events []changefeed.Event
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		events = events[:0]
		for _, op := range ops {
			ev, err := d.apply(sc, op)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		return nil, nil
	})
	if err != nil {
		return model.WrapDriverError("write", err)
	}
	for i := range events {
		d.publish(&events[i])
	}
	return nil
}

// apply runs one op and returns the change it made, nil for a no-op remove.
func (d *Driver) apply(ctx context.Context, op model.WriteOp) (*changefeed.Event, error) {
	id := CalculateID(op.Ref.String())
	now := time.Now()

	switch op.Kind {
	case model.WriteSet, model.WriteUpset:
		set := bson.M{"updated_at": now.UnixMilli(), notDeleted: false}
		for k, v := range identity(op.Ref) {
			set[k] = v
		}
		if op.Kind == model.WriteSet {
			set["data"] = op.Data
		} else {
			for k, v := range op.Data {
				set["data."+k] = v
			}
		}
		update := bson.M{
			"$set":         set,
			"$inc":         bson.M{"version": 1},
			"$setOnInsert": bson.M{"created_at": now.UnixMilli()},
			"$unset":       bson.M{"sys_expires_at": ""},
		}
		var prev storedDoc
		err := d.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
			options.FindOneAndUpdate().
				SetUpsert(true).
				SetReturnDocument(options.Before).
				SetProjection(bson.M{"version": 1, notDeleted: 1}),
		).Decode(&prev)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			ev := changefeed.NewEvent(changefeed.EventCreate, op.Ref, 1)
			return &ev, nil
		case err != nil:
			return nil, err
		}
		typ := changefeed.EventUpdate
		if prev.Deleted {
			typ = changefeed.EventCreate
		}
		ev := changefeed.NewEvent(typ, op.Ref, prev.Version+1)
		return &ev, nil

	case model.WriteUpdate:
		set := bson.M{"updated_at": now.UnixMilli()}
		for k, v := range op.Data {
			set["data."+k] = v
		}
		var after storedDoc
		err := d.coll.FindOneAndUpdate(ctx,
			bson.M{"_id": id, notDeleted: bson.M{"$ne": true}},
			bson.M{"$set": set, "$inc": bson.M{"version": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(bson.M{"version": 1}),
		).Decode(&after)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("update %s: %w", op.Ref, model.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		ev := changefeed.NewEvent(changefeed.EventUpdate, op.Ref, after.Version)
		return &ev, nil

	case model.WriteRemove:
		var after storedDoc
		err := d.coll.FindOneAndUpdate(ctx,
			bson.M{"_id": id, notDeleted: bson.M{"$ne": true}},
			bson.M{
				"$set": bson.M{
					notDeleted:       true,
					"data":           bson.M{},
					"updated_at":     now.UnixMilli(),
					"sys_expires_at": now.Add(d.retention),
				},
				"$inc": bson.M{"version": 1},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(bson.M{"version": 1}),
		).Decode(&after)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ev := changefeed.NewEvent(changefeed.EventDelete, op.Ref, after.Version)
		return &ev, nil
	}
	return nil, fmt.Errorf("unknown write kind %q: %w", op.Kind, model.ErrInvalidQuery)
}

func (d *Driver) publish(ev *changefeed.Event) {
	if ev == nil || !d.publishes {
		return
	}
	if err := d.feed.Publish(context.Background(), *ev); err != nil {
		d.logger.Warn("Failed to publish change", "collection", ev.Collection, "id", ev.ID, "error", err)
	}
}
