package segmentation

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError reports one invalid configuration option.
type ConfigError struct {
	Option string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Option, e.Value, e.Reason)
}

// FitError reports that a shape could not be fit to a set of points.
type FitError struct {
	Points int
	Reason string
}

func (e *FitError) Error() string {
	return fmt.Sprintf("cannot fit shape to %d points: %s", e.Points, e.Reason)
}

// MembershipError reports that a cluster lost all of its members.
type MembershipError struct {
	Cluster ClusterID
}

func (e *MembershipError) Error() string {
	return fmt.Sprintf("cluster %v has no members left", e.Cluster)
}

// EmptyInputError reports a chunk too small to contain a single viable cluster.
type EmptyInputError struct {
	Points    int
	MinPoints int
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("chunk has %d candidate points, fewer than min_cluster_points (%d)", e.Points, e.MinPoints)
}

// AllocationError reports that the cluster arena is exhausted.
type AllocationError struct {
	Limit int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cluster arena exhausted (limit %d records)", e.Limit)
}

// SpatialIndexError reports a failure to index a non-empty chunk.
type SpatialIndexError struct {
	Err error
}

func (e *SpatialIndexError) Error() string {
	return fmt.Sprintf("cannot build spatial index: %v", e.Err)
}

func (e *SpatialIndexError) Unwrap() error {
	return e.Err
}

// SinkError reports that the object sink rejected an output group.
type SinkError struct {
	Name string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("cannot create object %q: %v", e.Name, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err only invalidates a single cluster.
func IsRecoverable(err error) bool {
	var fitErr *FitError
	var memErr *MembershipError
	return errors.As(err, &fitErr) || errors.As(err, &memErr)
}

// IsFatal reports whether err fails a whole chunk.
func IsFatal(err error) bool {
	var allocErr *AllocationError
	var indexErr *SpatialIndexError
	var sinkErr *SinkError
	return errors.As(err, &allocErr) || errors.As(err, &indexErr) || errors.As(err, &sinkErr)
}
