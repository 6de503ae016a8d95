package domain

import "errors"

// Validation failures raised at the point of invalid input. Callers match
// them with errors.Is; the wrapping error carries the offending value.
var (
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrResourceNotFound  = errors.New("resource not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMissingCRS        = errors.New("raster has no coordinate reference system")
	ErrBandOutOfRange    = errors.New("band out of range")
	ErrPointOutOfBounds  = errors.New("point outside raster bounds")
	ErrInsufficientData  = errors.New("insufficient rainfall data")

	// Boundary parsing failures for request fields.
	ErrUnknownCropType = errors.New("unknown crop type")
	ErrInvalidPresence = errors.New("invalid historical presence flag")

	// ErrAssessmentNotFound is returned by assessment stores for unknown IDs.
	ErrAssessmentNotFound = errors.New("assessment not found")
)
