package segment

import "fmt"

// Directory is the ordered set of segments belonging to one journal, most
// recent at the head. Only the head accepts appends. The directory is not
// internally locked; all structural mutations happen under the journal's
// directory mutex.
type Directory struct {
	segments []*Segment // head at index 0
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// PushHead installs a newly opened segment as head. The segment's log
// number must be strictly greater than the previous head's.
func (d *Directory) PushHead(s *Segment) error {
	if head := d.Head(); head != nil && s.LogNumber() <= head.LogNumber() {
		return fmt.Errorf("log number %d not above current head %d", s.LogNumber(), head.LogNumber())
	}
	d.segments = append([]*Segment{s}, d.segments...)
	return nil
}

// PopHead removes and returns the head segment. Only used by batch
// rollback. Returns nil when the directory is empty.
func (d *Directory) PopHead() *Segment {
	if len(d.segments) == 0 {
		return nil
	}
	head := d.segments[0]
	d.segments = d.segments[1:]
	return head
}

// Head returns the current head segment, or nil when empty.
func (d *Directory) Head() *Segment {
	if len(d.segments) == 0 {
		return nil
	}
	return d.segments[0]
}

// NextLogNumber returns the log number the next segment should use.
func (d *Directory) NextLogNumber() uint64 {
	if head := d.Head(); head != nil {
		return head.LogNumber() + 1
	}
	return 0
}

// OldestToNewest returns the segments in ascending log number order.
// Used by shutdown, after the writer goroutine has drained.
func (d *Directory) OldestToNewest() []*Segment {
	out := make([]*Segment, len(d.segments))
	for i, s := range d.segments {
		out[len(d.segments)-1-i] = s
	}
	return out
}

// Len returns the number of tracked segments.
func (d *Directory) Len() int {
	return len(d.segments)
}
