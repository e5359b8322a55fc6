package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/syntrixbase/typestore/pkg/driver"
)

// Decode unwraps bson scalars in raw data: dates become time.Time, arrays
// and embedded documents become plain slices and maps, object ids and
// decimals become strings and integers become int64.
func Decode(raw *driver.RawDoc) (map[string]interface{}, error) {
	out, _ := plain(raw.Data).(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

var _ driver.Decoder = Decode

func plain(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = plain(item)
		}
		return out
	case primitive.M:
		return plain(map[string]interface{}(val))
	case primitive.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		return plain([]interface{}(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return val.Data
	case primitive.Null, primitive.Undefined:
		return nil
	case int32:
		return int64(val)
	}
	return v
}
