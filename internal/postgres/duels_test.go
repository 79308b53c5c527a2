package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelbot/internal/domain"
)

func TestParticipantLockKeys_StableOrder(t *testing.T) {
	a := participantLockKeys(9, 100, 7)
	b := participantLockKeys(9, 7, 100)
	assert.Equal(t, a, b)
	assert.Equal(t, []string{"duel:9:100", "duel:9:7"}, a)
}

func TestStatusArg(t *testing.T) {
	assert.Nil(t, statusArg(nil))

	s := domain.DuelStatusTimeout
	got := statusArg(&s)
	require.NotNil(t, got)
	assert.Equal(t, "timeout", *got)
}
