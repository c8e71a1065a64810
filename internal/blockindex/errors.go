package blockindex

import "errors"

// ErrCorruptRow is returned when a persisted row is a different length
// than its fixed layout demands.
var ErrCorruptRow = errors.New("blockindex: corrupt persisted row")

// ErrUndoMissingPrevOut is fatal: the index would be left inconsistent
// if undo proceeded without the referenced output.
var ErrUndoMissingPrevOut = errors.New("blockindex: undo referenced a prevout that no longer exists")
