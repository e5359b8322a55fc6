package mongo

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/model"
)

// storedDoc is the layout of one document in the data collection.
type storedDoc struct {
	// ID is the 128-bit BLAKE3 of the full path, hex encoded
	ID string `bson:"_id"`

	// Fullpath is the full document path, e.g. "orders/o1/updates/u1"
	Fullpath string `bson:"fullpath"`

	// Collection is the collection path holding the document
	Collection string `bson:"collection"`

	// Name is the last collection segment, used by collection groups
	Name string `bson:"name"`

	// Parent is the parent document path of a subcollection
	Parent string `bson:"parent,omitempty"`

	// DocID is the document id inside the collection
	DocID string `bson:"doc_id"`

	// UpdatedAt and CreatedAt are Unix milliseconds
	UpdatedAt int64 `bson:"updated_at"`
	CreatedAt int64 `bson:"created_at"`

	// Version is the optimistic concurrency control version
	Version int64 `bson:"version"`

	Data map[string]interface{} `bson:"data"`

	// Deleted marks a soft-deleted document kept until sys_expires_at
	Deleted   bool       `bson:"deleted,omitempty"`
	ExpiresAt *time.Time `bson:"sys_expires_at,omitempty"`
}

// CalculateID returns the stored _id of the document at fullpath.
func CalculateID(fullpath string) string {
	hash := blake3.Sum256([]byte(fullpath))
	return hex.EncodeToString(hash[:16])
}

// identity returns the path fields every write sets on a document.
func identity(ref model.Ref) map[string]interface{} {
	parent := ""
	if p := ref.Parent(); p != nil {
		parent = p.String()
	}
	return map[string]interface{}{
		"fullpath":   ref.String(),
		"collection": ref.Collection,
		"name":       ref.Name(),
		"parent":     parent,
		"doc_id":     ref.ID,
	}
}

func (d *storedDoc) ref() model.Ref {
	if d.Collection == "" {
		if i := strings.LastIndex(d.Fullpath, "/"); i > 0 {
			return model.Ref{Collection: d.Fullpath[:i], ID: d.Fullpath[i+1:]}
		}
	}
	return model.Ref{Collection: d.Collection, ID: d.DocID}
}

func (d *storedDoc) raw() *driver.RawDoc {
	ref := d.ref()
	data := d.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return &driver.RawDoc{
		Collection: ref.Collection,
		ID:         ref.ID,
		Data:       data,
		Version:    d.Version,
	}
}
