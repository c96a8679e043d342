package db

import (
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Cursor iterates over every key sharing a prefix, in forward or reverse
// lexicographic order, observing uncommitted writes of the open
// transaction.
type Cursor struct {
	iter    iterator.Iterator
	prefix  []byte
	reverse bool
	valid   bool
}

// Begin returns a forward cursor positioned on the first key with the
// given prefix.
func (d *DB) Begin(prefix []byte) *Cursor {
	iter := d.transaction().NewIterator(util.BytesPrefix(prefix), nil)
	return &Cursor{iter: iter, prefix: prefix, valid: iter.First()}
}

// RBegin returns a reverse cursor positioned on the last key with the
// given prefix.
func (d *DB) RBegin(prefix []byte) *Cursor {
	iter := d.transaction().NewIterator(util.BytesPrefix(prefix), nil)
	return &Cursor{iter: iter, prefix: prefix, reverse: true, valid: iter.Last()}
}

// End reports whether the cursor has moved past the prefix range.
func (c *Cursor) End() bool {
	return !c.valid
}

// Next advances the cursor in its iteration direction.
func (c *Cursor) Next() {
	if !c.valid {
		return
	}
	if c.reverse {
		c.valid = c.iter.Prev()
	} else {
		c.valid = c.iter.Next()
	}
}

// Key returns the full key under the cursor. The slice is only valid until
// the next cursor call.
func (c *Cursor) Key() []byte {
	return c.iter.Key()
}

// Suffix returns the key under the cursor with the prefix stripped.
func (c *Cursor) Suffix() []byte {
	return c.iter.Key()[len(c.prefix):]
}

// Value returns the value under the cursor. The slice is only valid until
// the next cursor call.
func (c *Cursor) Value() []byte {
	return c.iter.Value()
}

// Close releases the cursor. It must be called once iteration is done.
func (c *Cursor) Close() {
	c.iter.Release()
	c.valid = false
}
