package segmentation

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObjectHandle identifies an object created by an ObjectSink.
type ObjectHandle string

// An ObjectSink receives the output groups of a segmentation run. Implementations used with
// Segmenter.Segment must be safe for concurrent use.
type ObjectSink interface {
	CreateObject(pointIndices []int, name string) (ObjectHandle, error)
}

// An ObjectDeleter is an ObjectSink that can withdraw objects it created. When a chunk fails while its
// groups are being committed, the groups already created are deleted from sinks that implement it.
type ObjectDeleter interface {
	DeleteObject(handle ObjectHandle) error
}

// Object is a group of point indices stored by a MemorySink.
type Object struct {
	Handle  ObjectHandle
	Name    string
	Indices []int
}

// MemorySink keeps every created object in memory.
type MemorySink struct {
	mu      sync.Mutex
	objects []Object
	byName  map[string]int
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{byName: map[string]int{}}
}

// CreateObject stores a copy of pointIndices under name. Names must be unique.
func (s *MemorySink) CreateObject(pointIndices []int, name string) (ObjectHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return "", errors.Errorf("object %q already exists", name)
	}
	obj := Object{
		Handle:  ObjectHandle(uuid.NewString()),
		Name:    name,
		Indices: append(make([]int, 0, len(pointIndices)), pointIndices...),
	}
	s.byName[name] = len(s.objects)
	s.objects = append(s.objects, obj)
	return obj.Handle, nil
}

// DeleteObject removes the object with the given handle.
func (s *MemorySink) DeleteObject(handle ObjectHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, obj := range s.objects {
		if obj.Handle != handle {
			continue
		}
		s.objects = append(s.objects[:i], s.objects[i+1:]...)
		delete(s.byName, obj.Name)
		for j := i; j < len(s.objects); j++ {
			s.byName[s.objects[j].Name] = j
		}
		return nil
	}
	return errors.Errorf("no object with handle %q", handle)
}

// Objects returns the stored objects in creation order.
func (s *MemorySink) Objects() []Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Object(nil), s.objects...)
}

// Object returns the object with the given name.
func (s *MemorySink) Object(name string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byName[name]
	if !ok {
		return Object{}, false
	}
	return s.objects[i], true
}

// Len returns the number of stored objects.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
