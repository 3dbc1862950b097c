package template

import "errors"

// Sentinel errors returned by the template service and its repositories.
var (
	ErrNotFound      = errors.New("template not found")
	ErrInvalidSyntax = errors.New("invalid template syntax")
	ErrInUse         = errors.New("template is referenced by a campaign")
)
