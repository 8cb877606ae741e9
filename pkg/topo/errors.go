package topo

import (
	"errors"
	"fmt"
)

var (
	ErrSealed      = errors.New("topology is sealed")
	ErrUnknownNode = errors.New("node not in topology")
)

// DuplicateNameError is returned when a node or interface name is reused.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate name %q", e.Name)
}
