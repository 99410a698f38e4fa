package parser

import "errors"

// ErrUnsupportedFormat is returned by Registry.Get for an unregistered
// extension, matching spec's C1 contract: unknown extensions fail with
// UnsupportedFormat.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

// ErrEmptySource is returned when a source parses successfully but
// yields no usable content at all.
var ErrEmptySource = errors.New("parser: source produced no content")
