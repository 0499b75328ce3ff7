package visitors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pulseboard/internal/visitors"
)

func TestHashIP(t *testing.T) {
	site := "site-a"
	ipAddress := "192.168.1.1"
	salt := "test-salt"

	t.Run("is stable for the same inputs", func(t *testing.T) {
		h1 := visitors.HashIP(site, ipAddress, salt)
		h2 := visitors.HashIP(site, ipAddress, salt)

		assert.Equal(t, h1, h2)
		assert.Len(t, h1, 64, "SHA-256 hash should be 64 hex characters")
	})

	t.Run("never contains the raw address", func(t *testing.T) {
		assert.NotContains(t, visitors.HashIP(site, ipAddress, salt), ipAddress)
	})

	t.Run("differs per input", func(t *testing.T) {
		base := visitors.HashIP(site, ipAddress, salt)

		assert.NotEqual(t, base, visitors.HashIP(site, "192.168.1.2", salt), "different IP")
		assert.NotEqual(t, base, visitors.HashIP("site-b", ipAddress, salt), "different site")
		assert.NotEqual(t, base, visitors.HashIP(site, ipAddress, "other-salt"), "different salt")
	})

	t.Run("empty address yields empty hash", func(t *testing.T) {
		assert.Empty(t, visitors.HashIP(site, "", salt))
		assert.Empty(t, visitors.HashIP(site, "   ", salt))
	})
}
