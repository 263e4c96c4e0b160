package main

import (
	"testing"

	"github.com/core-tools/hsu-guardian-go/pkg/supervisor"

	"github.com/stretchr/testify/assert"
)

func TestSetupFailureCode(t *testing.T) {
	assert.Equal(t, supervisor.ExitCodeOK, setupFailureCode(true))
	assert.Equal(t, supervisor.ExitCodeFailure, setupFailureCode(false))
}
