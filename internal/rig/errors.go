package rig

import "errors"

// Domain errors shared by sensors, actuators and the control loop.
var (
	// ErrZoneIndex indicates a zone index outside [0, zones).
	ErrZoneIndex = errors.New("rig: zone index out of range")

	// ErrResolution indicates a field whose shape does not match the sensor.
	ErrResolution = errors.New("rig: field resolution mismatch")

	// ErrClosed indicates use of an actuator after it was released.
	ErrClosed = errors.New("rig: actuator closed")
)
