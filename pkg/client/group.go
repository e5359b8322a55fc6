package client

import (
	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/schema"
)

// GroupSet looks up collection groups of a DB.
type GroupSet struct {
	db *DB
}

// Groups returns the collection groups of db.
func Groups(db *DB) *GroupSet {
	return &GroupSet{db: db}
}

// Collection returns the group spanning every collection stored as name.
func (g *GroupSet) Collection(name string) (*Group, error) {
	decl, err := g.db.schema.Group(name)
	if err != nil {
		return nil, err
	}
	return &Group{
		reader: reader{db: g.db, scope: model.GroupScope(decl.Name()), shape: decl.Shape()},
		decl:   decl,
	}, nil
}

// Group reads across all collections sharing a name, whatever their parent.
// It supports All, Query, Build and Count.
type Group struct {
	reader
	decl *schema.Decl
}

// Name returns the group name.
func (g *Group) Name() string { return g.decl.Name() }
