package transaction

import (
	"github.com/syntrixbase/typestore/pkg/client"
	"github.com/syntrixbase/typestore/pkg/model"
)

// Reads is what a read phase returns: a *Read, a ReadMap or a ReadList.
type Reads interface {
	reads()
}

// Read is one declared document read.
type Read struct {
	coll *client.Collection
	ref  model.Ref
	err  error
}

func (*Read) reads() {}

// Request describes the read.
func (r *Read) Request() model.Request {
	return model.Request{Kind: model.KindTransactionRead, Scope: model.CollectionScope(r.ref.Collection), ID: r.ref.ID}
}

// ReadMap reads documents under logical keys.
type ReadMap map[string]*Read

func (ReadMap) reads() {}

// ReadList reads documents by position.
type ReadList []*Read

func (ReadList) reads() {}

// ReadHelpers declares reads.
type ReadHelpers struct {
	db *client.DB
}

// DB returns the database the transaction runs on.
func (r *ReadHelpers) DB() *client.DB { return r.db }

// Get declares a read of document id in coll. An invalid id fails the
// attempt before anything is read.
func (r *ReadHelpers) Get(coll *client.Collection, id string) *Read {
	ref, err := model.NewRef(coll.Path(), id)
	return &Read{coll: coll, ref: ref, err: err}
}

// Doc is a document read in the transaction with writes bound to its ref.
type Doc struct {
	*model.Document
	coll *client.Collection
	w    *WriteHelpers
}

// Set queues a replacement of the document.
func (d *Doc) Set(data interface{}) error {
	return d.w.Set(d.coll, d.ID(), data)
}

// Update queues a merge into the document.
func (d *Doc) Update(data interface{}) error {
	return d.w.Update(d.coll, d.ID(), data)
}

// Upset queues a merge that creates the document when missing.
func (d *Doc) Upset(data interface{}) error {
	return d.w.Upset(d.coll, d.ID(), data)
}

// Remove queues the deletion of the document.
func (d *Doc) Remove() error {
	return d.w.Remove(d.coll, d.ID())
}

// WriteHelpers exposes read results and queues writes.
type WriteHelpers struct {
	db     *client.DB
	single *Doc
	byKey  map[string]*Doc
	list   []*Doc
	ops    []model.WriteOp
}

// Data returns the document of a single read, nil when it does not exist.
func (w *WriteHelpers) Data() *Doc { return w.single }

// Get returns the document read under key, nil when it does not exist.
func (w *WriteHelpers) Get(key string) *Doc { return w.byKey[key] }

// At returns the i-th document of a list read, nil when it does not exist.
func (w *WriteHelpers) At(i int) *Doc {
	if i < 0 || i >= len(w.list) {
		return nil
	}
	return w.list[i]
}

// Len returns the number of list reads.
func (w *WriteHelpers) Len() int { return len(w.list) }

// DB returns the database the transaction runs on.
func (w *WriteHelpers) DB() *client.DB { return w.db }

func (w *WriteHelpers) queue(coll *client.Collection, kind model.WriteKind, id string, data interface{}) error {
	op, err := coll.Op(kind, id, data)
	if err != nil {
		return err
	}
	w.ops = append(w.ops, op)
	return nil
}

// Set queues a replacement of document id in coll.
func (w *WriteHelpers) Set(coll *client.Collection, id string, data interface{}) error {
	return w.queue(coll, model.WriteSet, id, data)
}

// Update queues a merge into document id in coll.
func (w *WriteHelpers) Update(coll *client.Collection, id string, data interface{}) error {
	return w.queue(coll, model.WriteUpdate, id, data)
}

// Upset queues a merge into document id in coll, creating it when missing.
func (w *WriteHelpers) Upset(coll *client.Collection, id string, data interface{}) error {
	return w.queue(coll, model.WriteUpset, id, data)
}

// Remove queues the deletion of document id in coll.
func (w *WriteHelpers) Remove(coll *client.Collection, id string) error {
	return w.queue(coll, model.WriteRemove, id, nil)
}
