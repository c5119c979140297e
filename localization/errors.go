package localization

import (
	"fmt"
	"time"
)

// UnknownRobotError is returned when a measurement references a robot that was not provisioned.
type UnknownRobotError struct {
	ID int
}

func (e *UnknownRobotError) Error() string {
	return fmt.Sprintf("robot %d was not provisioned", e.ID)
}

// NewUnknownRobotError returns an UnknownRobotError for id.
func NewUnknownRobotError(id int) error {
	return &UnknownRobotError{ID: id}
}

// NoVertexYetError is returned when a robot has no vertex in the requested stream.
type NoVertexYetError struct {
	ID     int
	Sensor SensorType
}

func (e *NoVertexYetError) Error() string {
	return fmt.Sprintf("robot %d has no %s vertex yet", e.ID, e.Sensor)
}

// InvalidCovarianceError is returned for covariances that cannot be turned into an information
// matrix, such as ones with the wrong shape or non-finite entries.
type InvalidCovarianceError struct {
	Reason string
}

func (e *InvalidCovarianceError) Error() string {
	return "invalid covariance: " + e.Reason
}

// DegenerateTimingError is returned when a measurement is not strictly newer than the one it
// would be integrated against.
type DegenerateTimingError struct {
	ID     int
	Sensor SensorType
	Dt     time.Duration
}

func (e *DegenerateTimingError) Error() string {
	return fmt.Sprintf("non-positive elapsed time %v on robot %d %s stream", e.Dt, e.ID, e.Sensor)
}

// NonFiniteOptimizationResultError is returned when the optimized self pose is NaN or Inf. The
// inserted edges are kept and nothing is published for that event.
type NonFiniteOptimizationResultError struct {
	ID int
}

func (e *NonFiniteOptimizationResultError) Error() string {
	return fmt.Sprintf("optimization produced a non-finite pose for robot %d", e.ID)
}
