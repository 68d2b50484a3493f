package goplan

import "errors"

var (
	// ErrPlanNotFound is returned when a plan id does not exist.
	ErrPlanNotFound = errors.New("goplan: plan not found")

	// ErrInvalidPlan is returned when an imported document is not JSON.
	ErrInvalidPlan = errors.New("goplan: invalid plan document")

	// ErrUnsupportedFormat is returned for reference documents without a parser.
	ErrUnsupportedFormat = errors.New("goplan: unsupported document format")

	// ErrParsingFailed is returned when a reference document cannot be read.
	ErrParsingFailed = errors.New("goplan: parsing failed")

	// ErrReferenceDenied is returned for reference names outside the
	// reference directory.
	ErrReferenceDenied = errors.New("goplan: reference not allowed")

	// ErrPlanChanged is returned when a plan was edited while a generation
	// ran on it. The generation's plan is not saved.
	ErrPlanChanged = errors.New("goplan: plan changed during generation")

	// ErrGenerationFailed is returned when a run aborts.
	ErrGenerationFailed = errors.New("goplan: generation failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goplan: invalid configuration")
)
