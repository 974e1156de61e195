package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "already existed", AlreadyExisted.String())
	assert.Equal(t, "unknown", Result(7).String())
}
