package utils

import (
	"errors"
	"fmt"
)

// ErrorClass groups failures by how the pipeline reacts to them.
type ErrorClass int

const (
	// ClassConnection: port unavailable or lost. Surfaced, never retried.
	ClassConnection ErrorClass = iota
	// ClassConfig: rejected before any state is created.
	ClassConfig
	// ClassIO: file write/close failures, recovered per node.
	ClassIO
	// ClassState: command issued in the wrong lifecycle state.
	ClassState
)

func (c ErrorClass) String() string {
	switch c {
	case ClassConnection:
		return "connection"
	case ClassConfig:
		return "config"
	case ClassIO:
		return "io"
	case ClassState:
		return "state"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyRecording = errors.New("recording already active")
	ErrNotRecording     = errors.New("recording not active")
	ErrRecordingActive  = errors.New("operation not allowed while recording")
	ErrUnknownNode      = errors.New("unknown node")
	ErrNoData           = errors.New("no node data available")

	ErrEmptyBaseName       = errors.New("base file name is empty")
	ErrEmptyPort           = errors.New("serial port name is empty")
	ErrUnsupportedBaud     = errors.New("unsupported baud rate")
	ErrUnsupportedPlatform = errors.New("serial ports are not supported on this platform")

	// ErrDeviceGone is a tty that polls readable but reads empty: the
	// kernel hung it up, usually because the adapter was unplugged.
	ErrDeviceGone = errors.New("device reports readiness to read but returned no data (device disconnected?)")
)

// ClassifiedError tags an error with its class and the operation that failed.
type ClassifiedError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func wrap(class ErrorClass, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Op: op, Err: err}
}

func WrapConnection(op string, err error) error { return wrap(ClassConnection, op, err) }
func WrapConfig(op string, err error) error     { return wrap(ClassConfig, op, err) }
func WrapIO(op string, err error) error         { return wrap(ClassIO, op, err) }
func WrapState(op string, err error) error      { return wrap(ClassState, op, err) }

// ClassOf reports the class of err, if it carries one.
func ClassOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func isClass(err error, class ErrorClass) bool {
	c, ok := ClassOf(err)
	return ok && c == class
}

func IsConnection(err error) bool { return isClass(err, ClassConnection) }
func IsConfig(err error) bool     { return isClass(err, ClassConfig) }
func IsIO(err error) bool         { return isClass(err, ClassIO) }
func IsState(err error) bool      { return isClass(err, ClassState) }
