package asynqadp_test

import (
	"testing"

	asynqadp "github.com/glitchwatch/core/internal/delayqueue/asynq"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidRedisURL(t *testing.T) {
	_, err := asynqadp.New("not-a-url")
	require.Error(t, err)
}

func TestNewAcceptsRedisURL(t *testing.T) {
	q, err := asynqadp.New("redis://localhost:6379/0")
	require.NoError(t, err)
	require.NoError(t, q.Close())
}
