package secrets

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	s := New(keyring.NewArrayKeyring(nil))

	v, err := s.Get(KeyGroq)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Set(KeyGroq, "gsk_test"))
	v, err = s.Get(KeyGroq)
	require.NoError(t, err)
	assert.Equal(t, "gsk_test", v)

	require.NoError(t, s.Delete(KeyGroq))
	require.NoError(t, s.Delete(KeyGroq))
	v, _ = s.Get(KeyGroq)
	assert.Empty(t, v)
}

func TestRejectsUnknownKeysAndEmptyValues(t *testing.T) {
	s := New(keyring.NewArrayKeyring(nil))
	assert.Error(t, s.Set("aws_secret", "x"))
	assert.Error(t, s.Delete("aws_secret"))
	assert.Error(t, s.Set(KeyDBPassword, ""))
}

func TestNilStore(t *testing.T) {
	var s *Store
	v, err := s.Get(KeyDBPassword)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestKeyForProvider(t *testing.T) {
	assert.Equal(t, KeyGroq, KeyForProvider(""))
	assert.Equal(t, KeyGroq, KeyForProvider("Groq"))
	assert.Equal(t, KeyOpenAI, KeyForProvider("openai"))
	assert.Equal(t, KeyGemini, KeyForProvider("gemini"))
	assert.Empty(t, KeyForProvider("ollama"))
	assert.Empty(t, KeyForProvider("bedrock"))
}
