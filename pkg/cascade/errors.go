package cascade

import "errors"

// Sentinel errors for cascade setup. Retrieval and handler failures are
// never wrapped in these; they reach the caller unchanged.
var (
	// ErrNilModel is returned when a trigger is asked to handle a nil model
	ErrNilModel = errors.New("cascade: model is nil")

	// ErrNilFinder is returned when no finder is available for retrieval
	ErrNilFinder = errors.New("cascade: finder is nil")

	// ErrModelNotRegistered is returned when a model name is not known to a host
	ErrModelNotRegistered = errors.New("cascade: model not registered")

	// ErrUnknownRelationType is returned by the schema loader for unsupported relation tags
	ErrUnknownRelationType = errors.New("cascade: unknown relation type")

	// ErrInvalidSchema is returned when a schema file cannot be turned into models
	ErrInvalidSchema = errors.New("cascade: invalid schema")
)

// IsModelNotRegistered checks if an error is ErrModelNotRegistered
func IsModelNotRegistered(err error) bool {
	return errors.Is(err, ErrModelNotRegistered)
}

// IsUnknownRelationType checks if an error is ErrUnknownRelationType
func IsUnknownRelationType(err error) bool {
	return errors.Is(err, ErrUnknownRelationType)
}

// IsInvalidSchema checks if an error is ErrInvalidSchema
func IsInvalidSchema(err error) bool {
	return errors.Is(err, ErrInvalidSchema)
}
