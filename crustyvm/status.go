package crustyvm

import "github.com/crustyvm/crustyvm/lang/machine"

// Status mirrors machine.Status at the embedding boundary so callers never
// need to import lang/machine directly.
type Status = machine.Status

const (
	StatusReady              = machine.StatusReady
	StatusActive             = machine.StatusActive
	StatusInternalError      = machine.StatusInternalError
	StatusOutOfRange         = machine.StatusOutOfRange
	StatusInvalidInstruction = machine.StatusInvalidInstruction
	StatusStackOverflow      = machine.StatusStackOverflow
	StatusCallbackFailed     = machine.StatusCallbackFailed
	StatusFloatIndex         = machine.StatusFloatIndex
	StatusInvalid            = machine.StatusInvalid
)

// crustyStatuses is CRUSTY_STATUSES from original_source/crustyvm.c,
// reused verbatim as the string set StatusString returns.
var crustyStatuses = [...]string{
	StatusReady:              "Ready",
	StatusActive:             "Active",
	StatusInternalError:      "Internal error/VM bug",
	StatusOutOfRange:         "Array access out of range",
	StatusInvalidInstruction: "Invalid instruction",
	StatusStackOverflow:      "Stack overflow",
	StatusCallbackFailed:     "Callback returned failure",
	StatusFloatIndex:         "Float used as index",
	StatusInvalid:            "Invalid status code",
}

// StatusString implements spec.md §6.3's `status_string`, reusing the
// original crustyvm_statustostring's exact text.
func StatusString(s Status) string {
	if s < 0 || int(s) >= len(crustyStatuses) {
		return crustyStatuses[StatusInvalid]
	}
	return crustyStatuses[s]
}
