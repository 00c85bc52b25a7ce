package router

import (
	"fmt"
	"sort"
	"strings"
)

// MissingCommandError reports a routed message type with no configured agent
// command. It is returned to the consumer so the message enters the retry
// path; a configuration fix between attempts lets a later attempt succeed.
type MissingCommandError struct {
	MsgType   string
	Available []string
}

func (e *MissingCommandError) Error() string {
	names := make([]string, len(e.Available))
	copy(names, e.Available)
	sort.Strings(names)
	return fmt.Sprintf("no agent command configured for message type %q (available: %s)",
		e.MsgType, strings.Join(names, ", "))
}
