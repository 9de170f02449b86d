package share

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videopress/backend/internal/apperr"
)

func TestSignAndValidate(t *testing.T) {
	s := NewSigner("secret", 2)
	token, exp, err := s.Sign("sess", "file", 3)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, 5*time.Second)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "sess", claims.SessionID)
	assert.Equal(t, "file", claims.FileID)
	assert.Equal(t, 3, claims.Part)
}

func TestValidateRejectsForeignAndExpired(t *testing.T) {
	s := NewSigner("secret", 1)
	token, _, err := s.Sign("sess", "file", 1)
	require.NoError(t, err)

	_, err = NewSigner("other", 1).Validate(token)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Validate(token)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = s.Validate("garbage")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
