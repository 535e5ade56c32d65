package image

import "github.com/lumenlang/lumen/types"

// refWriter assigns a sequential id to every non-atomic value as it is first
// emitted, so later occurrences of the same pointer (shared structure, or a
// cycle through a table/abstract) can be replaced with a short tagRef
// instead of being re-encoded.
type refWriter struct {
	ids map[any]int
}

func newRefWriter() *refWriter {
	return &refWriter{ids: make(map[any]int)}
}

// seen reports whether v was already assigned an id, returning it. If not,
// it registers v under the next id and returns ok=false: the caller must
// then encode v's body (the id was reserved before the body is written, so
// a self-referential body sees a live entry in ids).
func (w *refWriter) seen(v any) (id int, ok bool) {
	if id, ok := w.ids[v]; ok {
		return id, true
	}
	id = len(w.ids)
	w.ids[v] = id
	return id, false
}

// refReader is the decode-side counterpart: every produced non-atomic value
// is appended to objs in the same order the encoder assigned ids, so a
// tagRef's id is always a valid index by construction once the referent's
// placeholder has been reserved.
type refReader struct {
	objs []types.Value
}

func newRefReader() *refReader {
	return &refReader{}
}

// reserve appends a placeholder slot and returns its id, to be filled in via
// set once the value's body has been decoded (the pointer identity of a
// *Tuple/*Array/etc is known before its elements are, for a self-referential
// structure built in two passes: reserve then set).
func (r *refReader) reserve() int {
	r.objs = append(r.objs, nil)
	return len(r.objs) - 1
}

func (r *refReader) set(id int, v types.Value) {
	r.objs[id] = v
}

func (r *refReader) get(id int) (types.Value, error) {
	if id < 0 || id >= len(r.objs) || r.objs[id] == nil {
		return nil, badFormat("ref %d not yet registered", id)
	}
	return r.objs[id], nil
}
