package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealCookie(t *testing.T, key [32]byte, claims Claims) string {
	t.Helper()

	plaintext, err := json.Marshal(claims)
	require.NoError(t, err)

	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, gcm.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(append(ciphertext, nonce...))
}

func writeUsers(t *testing.T, home string, entries map[string]usersEntry) {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(home, "users.json"), data, 0644))
}

func TestValidateSuccess(t *testing.T) {
	home := t.TempDir()
	var key [32]byte
	copy(key[:], "01234567890123456789012345678901")

	writeUsers(t, home, map[string]usersEntry{
		"alice@example.com": {User: User{ID: "u1", Name: "Alice", Email: "alice@example.com"}, Pass: "hash"},
	})

	future := time.Now().Add(time.Hour)
	cookie := sealCookie(t, key, Claims{UserID: "u1", Expiry: &future})

	v := New(home, key)
	user, err := v.Validate(cookie)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestValidateExpired(t *testing.T) {
	home := t.TempDir()
	var key [32]byte
	copy(key[:], "01234567890123456789012345678901")
	writeUsers(t, home, map[string]usersEntry{
		"alice@example.com": {User: User{ID: "u1"}, Pass: "hash"},
	})

	past := time.Now().Add(-time.Hour)
	cookie := sealCookie(t, key, Claims{UserID: "u1", Expiry: &past})

	v := New(home, key)
	_, err := v.Validate(cookie)
	assert.Error(t, err)
}

func TestValidateUnknownUser(t *testing.T) {
	home := t.TempDir()
	var key [32]byte
	copy(key[:], "01234567890123456789012345678901")
	writeUsers(t, home, map[string]usersEntry{})

	cookie := sealCookie(t, key, Claims{UserID: "ghost"})

	v := New(home, key)
	_, err := v.Validate(cookie)
	assert.Error(t, err)
}

func TestValidateWrongKey(t *testing.T) {
	home := t.TempDir()
	var sealKey, validateKey [32]byte
	copy(sealKey[:], "01234567890123456789012345678901")
	copy(validateKey[:], "abcdefghijklmnopqrstuvwxyzabcdef")

	cookie := sealCookie(t, sealKey, Claims{UserID: "u1"})

	v := New(home, validateKey)
	_, err := v.Validate(cookie)
	assert.Error(t, err)
}

func TestValidateMalformedCookie(t *testing.T) {
	v := New(t.TempDir(), [32]byte{})
	_, err := v.Validate("not-valid-base64!!")
	assert.Error(t, err)
}

func TestCookieName(t *testing.T) {
	assert.Equal(t, "sessionId", CookieName())
}
