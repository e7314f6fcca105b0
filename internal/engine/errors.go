package engine

import "errors"

// ErrValidation marks rejected input. Callers re-prompt or report the
// message instead of aborting the interaction.
var ErrValidation = errors.New("validation failed")

// ErrPermissionDenied marks an operation the actor may not perform.
var ErrPermissionDenied = errors.New("permission denied")
