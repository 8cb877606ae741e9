package node

import (
	"errors"
	"testing"

	"github.com/docker/docker/errdefs"
	"github.com/stretchr/testify/assert"
)

var (
	_ Backend = (*NamespaceManager)(nil)
	_ Backend = (*ContainerManager)(nil)
)

func TestContainerName(t *testing.T) {
	assert.Equal(t, "netexp-h1", ContainerName("h1"))
}

func TestCreatePulling(t *testing.T) {
	missing := errdefs.NotFound(errors.New("No such image: alpine:3.20"))

	var creates, pulls int
	err := createPulling(func() error {
		creates++
		if pulls == 0 {
			return missing
		}
		return nil
	}, func() error { pulls++; return nil })
	assert.NoError(t, err)
	assert.Equal(t, 2, creates)
	assert.Equal(t, 1, pulls)

	creates, pulls = 0, 0
	err = createPulling(func() error { creates++; return errors.New("conflict") },
		func() error { pulls++; return nil })
	assert.EqualError(t, err, "conflict")
	assert.Equal(t, 1, creates)
	assert.Zero(t, pulls)

	creates = 0
	err = createPulling(func() error { creates++; return missing },
		func() error { return errors.New("unauthorized") })
	assert.EqualError(t, err, "unauthorized")
	assert.Equal(t, 1, creates)
}
