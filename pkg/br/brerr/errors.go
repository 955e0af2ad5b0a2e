package brerr

import "errors"

// Sentinel errors for the fatal conditions of the orchestration core.
// Callers wrap them with the offending descriptor or gallery name and
// test with errors.Is.
var (
	ErrEmptyDescriptor      = errors.New("no algorithm descriptor")
	ErrInvalidDescriptor    = errors.New("invalid algorithm format")
	ErrAbbreviationCycle    = errors.New("abbreviation cycle")
	ErrUnknownPlugin        = errors.New("unknown plugin")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnknownConfig        = errors.New("no stage accepts configuration key")
	ErrNullTransform        = errors.New("null transform")
	ErrNullDistance         = errors.New("null distance")
	ErrUnrecognizedFileType = errors.New("unrecognized file type")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrCardinalityMismatch  = errors.New("cardinality mismatch")
	ErrInvalidThreshold     = errors.New("invalid deduplication threshold")
	ErrNotSerializable      = errors.New("stage cannot be serialized")
	ErrWorker               = errors.New("worker process failure")
	ErrInvalidModel         = errors.New("invalid model file")
)
