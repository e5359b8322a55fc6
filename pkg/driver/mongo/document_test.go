package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

func TestCalculateID(t *testing.T) {
	id := CalculateID("users/u1")
	assert.Len(t, id, 32)
	assert.Equal(t, id, CalculateID("users/u1"))
	assert.NotEqual(t, id, CalculateID("users/u2"))
}

func TestIdentity(t *testing.T) {
	ref := model.Ref{Collection: "orders/o1/updates", ID: "u1"}
	assert.Equal(t, map[string]interface{}{
		"fullpath":   "orders/o1/updates/u1",
		"collection": "orders/o1/updates",
		"name":       "updates",
		"parent":     "orders/o1",
		"doc_id":     "u1",
	}, identity(ref))

	assert.Equal(t, "", identity(model.Ref{Collection: "users", ID: "u1"})["parent"])
}

func TestStoredDoc_Raw(t *testing.T) {
	doc := storedDoc{Fullpath: "users/u1", Version: 3}
	raw := doc.raw()
	assert.Equal(t, "users", raw.Collection)
	assert.Equal(t, "u1", raw.ID)
	assert.Equal(t, int64(3), raw.Version)
	assert.Equal(t, map[string]interface{}{}, raw.Data)
}

func TestDecode(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	oid := primitive.NewObjectID()
	raw := &driver.RawDoc{Data: map[string]interface{}{
		"at":     primitive.NewDateTimeFromTime(at),
		"n":      int32(7),
		"oid":    oid,
		"nested": primitive.D{{Key: "list", Value: primitive.A{int32(1), primitive.Null{}}}},
		"m":      primitive.M{"s": "x"},
	}}
	got, err := Decode(raw)
	assert.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"at":     at,
		"n":      int64(7),
		"oid":    oid.Hex(),
		"nested": map[string]interface{}{"list": []interface{}{int64(1), nil}},
		"m":      map[string]interface{}{"s": "x"},
	}, got)

	empty, err := Decode(&driver.RawDoc{})
	assert.NoError(t, err)
	assert.Equal(t, map[string]interface{}{}, empty)
}

func TestStreamEvent(t *testing.T) {
	doc := func(version int64, deleted bool) *storedDoc {
		return &storedDoc{Collection: "books", DocID: "b1", Version: version, Deleted: deleted}
	}
	tests := []struct {
		name string
		op   string
		doc  *storedDoc
		want changefeed.EventType
		ok   bool
	}{
		{"insert", "insert", doc(1, false), changefeed.EventCreate, true},
		{"first upsert", "update", doc(1, false), changefeed.EventCreate, true},
		{"update", "update", doc(2, false), changefeed.EventUpdate, true},
		{"soft delete", "update", doc(3, true), changefeed.EventDelete, true},
		{"ttl expiry", "delete", nil, "", false},
		{"drop", "drop", doc(1, false), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := streamEvent(tt.op, tt.doc)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, ev.Type)
				assert.Equal(t, "books", ev.Collection)
				assert.Equal(t, "b1", ev.ID)
				assert.Equal(t, tt.doc.Version, ev.Version)
			}
		})
	}
}

func TestWatchPipeline(t *testing.T) {
	match := watchPipeline(model.GroupScope("updates"))[0][0].Value.(bson.D)
	assert.Equal(t, "fullDocument.name", match[1].Key)
	assert.Equal(t, "updates", match[1].Value)

	match = watchPipeline(model.CollectionScope("orders/o1/updates"))[0][0].Value.(bson.D)
	assert.Equal(t, "fullDocument.collection", match[1].Key)
}
