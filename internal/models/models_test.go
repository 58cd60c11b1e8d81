package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{UserID: "u1", Email: "a@b.co", AccessToken: "tok", ExpiresAt: now.Add(10 * time.Minute)}

	assert.False(t, s.IsExpired(now))
	assert.Equal(t, SessionStateActive, s.State(now))
	assert.True(t, s.IsExpired(now.Add(10*time.Minute)))
	assert.True(t, s.ExpiresWithin(now, 15*time.Minute))
	assert.False(t, s.ExpiresWithin(now, 5*time.Minute))
}

func TestSessionValidate(t *testing.T) {
	valid := Session{UserID: "u1", Email: "a@b.co", AccessToken: "tok", ExpiresAt: time.Now()}
	assert.NoError(t, valid.Validate())

	missingUser := valid
	missingUser.UserID = ""
	assert.Error(t, missingUser.Validate())

	missingToken := valid
	missingToken.AccessToken = ""
	assert.Error(t, missingToken.Validate())
}

func TestMockTestSummary(t *testing.T) {
	catalog := DefaultCatalog()
	assert.Len(t, catalog, 3)
	assert.Equal(t, "Duration: 3 hours | Questions: 77", catalog[0].Summary())
	assert.Equal(t, "Duration: 1 hour | Questions: 25", catalog[2].Summary())
	assert.Equal(t, "Duration: 45 minutes | Questions: 10", MockTest{Duration: 45 * time.Minute, Questions: 10}.Summary())
}
