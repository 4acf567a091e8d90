package google

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKeyPEM generates a throwaway service-account style key and returns it
// as canonical PEM together with the parsed key.
func testKeyPEM(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, pem.Encode(&b, &pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	return b.String(), key
}

func TestNormalizePrivateKey(t *testing.T) {
	pemKey, _ := testKeyPEM(t)

	t.Run("empty key is rejected", func(t *testing.T) {
		_, err := NormalizePrivateKey("")
		assert.Error(t, err)
		_, err = NormalizePrivateKey("   \n ")
		assert.Error(t, err)
	})

	t.Run("canonical pem passes through", func(t *testing.T) {
		normalized, err := NormalizePrivateKey(pemKey)
		require.NoError(t, err)
		_, err = ParseRSAPrivateKey(normalized)
		assert.NoError(t, err)
	})

	t.Run("env-var literal newlines are restored", func(t *testing.T) {
		escaped := strings.ReplaceAll(pemKey, "\n", `\n`)
		_, err := ParseRSAPrivateKey(escaped)
		assert.NoError(t, err)
	})

	t.Run("bare body is rewrapped into pem", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		body := base64.StdEncoding.EncodeToString(der)

		normalized, err := NormalizePrivateKey(body)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(normalized, pemHeader))
		assert.Contains(t, normalized, pemFooter)

		parsed, err := ParseRSAPrivateKey(body)
		require.NoError(t, err)
		assert.Equal(t, key.N, parsed.N)
	})

	t.Run("garbage body fails to parse", func(t *testing.T) {
		_, err := ParseRSAPrivateKey("dGhpcyBpcyBub3QgYSBrZXk=")
		assert.Error(t, err)
	})
}
