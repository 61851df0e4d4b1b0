package msgdeque

import "syscall"

// errInvalid is spec.md §4.1's EINVAL for null arguments.
var errInvalid = syscall.EINVAL
