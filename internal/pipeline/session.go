package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnknownFile is returned when a file name is not part of the session.
var ErrUnknownFile = errors.New("unknown file")

// File is one uploaded workbook and the sheet chosen for it.
type File struct {
	Name  string
	Data  []byte
	Sheet string
}

// Session holds uploaded files in upload order. Parsing is deferred until a
// run; a Session only stores bytes and sheet choices.
//
// A Session is not safe for concurrent use; the owner serializes access.
type Session struct {
	files  []*File
	byName map[string]*File
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{byName: map[string]*File{}}
}

// Add stores data under name. A name already in the session keeps its
// original bytes and sheet; added reports whether the file is new.
func (s *Session) Add(name string, data []byte) (f *File, added bool) {
	if existing, ok := s.byName[name]; ok {
		return existing, false
	}
	f = &File{Name: name, Data: data}
	s.files = append(s.files, f)
	s.byName[name] = f
	return f, true
}

// SelectSheet records the sheet to load for file name.
func (s *Session) SelectSheet(name, sheet string) error {
	f, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("pipeline: select sheet for %q: %w", name, ErrUnknownFile)
	}
	f.Sheet = sheet
	return nil
}

// File looks up a file by name.
func (s *Session) File(name string) (*File, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Files returns the files in upload order.
func (s *Session) Files() []*File {
	out := make([]*File, len(s.files))
	copy(out, s.files)
	return out
}

// Len is the number of files in the session.
func (s *Session) Len() int { return len(s.files) }
