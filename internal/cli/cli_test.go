package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// resetGlobals restores the persistent flag values after a test mutates them.
func resetGlobals(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		host, port = "localhost", 8090
		user, password = "", ""
		jsonOut, verbose = false, false
		cfgFile = ""
	})
}

func TestServerURL(t *testing.T) {
	resetGlobals(t)

	host, port = "localhost", 8090
	assert.Equal(t, "http://localhost:8090", GetServerURL())

	host, port = "10.0.0.7", 9100
	assert.Equal(t, "http://10.0.0.7:9100", GetServerURL())
}

func TestGetAuth(t *testing.T) {
	resetGlobals(t)
	t.Setenv("PETMOOD_USER", "")
	t.Setenv("PETMOOD_PASSWORD", "")

	u, p := GetAuth()
	assert.Empty(t, u)
	assert.Empty(t, p)

	user, password = "trainer", "s3cret"
	u, p = GetAuth()
	assert.Equal(t, "trainer", u)
	assert.Equal(t, "s3cret", p)
}

func TestGetAuthFromEnv(t *testing.T) {
	resetGlobals(t)
	t.Setenv("PETMOOD_USER", "ops")
	t.Setenv("PETMOOD_PASSWORD", "from-env")

	u, p := GetAuth()
	assert.Equal(t, "ops", u)
	assert.Equal(t, "from-env", p)

	user = "cli"
	u, _ = GetAuth()
	assert.Equal(t, "cli", u)
}

func TestSetVersion(t *testing.T) {
	prev := Version
	t.Cleanup(func() { Version = prev })

	SetVersion("2.4.0")
	assert.Equal(t, "2.4.0", Version)
	assert.Equal(t, "2.4.0", rootCmd.Version)
}

func TestNewClientUsesGlobals(t *testing.T) {
	resetGlobals(t)
	t.Setenv("PETMOOD_USER", "")
	t.Setenv("PETMOOD_PASSWORD", "")

	host, port = "127.0.0.1", 8091
	user, password = "trainer", "s3cret"

	c := NewClient()
	assert.Equal(t, "http://127.0.0.1:8091", c.baseURL)
	assert.Equal(t, "trainer", c.user)
	assert.Equal(t, "s3cret", c.password)
}
