package store

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factoid-api/internal/apierror"
)

func testKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"topic": &types.AttributeValueMemberS{Value: "golang"},
		"id":    &types.AttributeValueMemberS{Value: "0190c6a4-7d2e-7b3a-9f00-000000000001"},
		"rank":  &types.AttributeValueMemberN{Value: "42"},
		"blob":  &types.AttributeValueMemberB{Value: []byte{0x01, 0xff}},
	}
}

func TestCursorRoundTrip(t *testing.T) {
	cursor, err := EncryptCursor(testKey(), "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, cursor)

	// URL safe without padding
	assert.False(t, strings.ContainsAny(cursor, "+/="))

	key, err := DecryptCursor(cursor, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestCursorIsRandomized(t *testing.T) {
	a, err := EncryptCursor(testKey(), "s3cret")
	require.NoError(t, err)
	b, err := EncryptCursor(testKey(), "s3cret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncryptCursorEmptyKey(t *testing.T) {
	cursor, err := EncryptCursor(nil, "s3cret")
	require.NoError(t, err)
	assert.Empty(t, cursor)

	cursor, err = EncryptCursor(map[string]types.AttributeValue{}, "s3cret")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestEncryptCursorUnsupportedType(t *testing.T) {
	_, err := EncryptCursor(map[string]types.AttributeValue{
		"flag": &types.AttributeValueMemberBOOL{Value: true},
	}, "s3cret")
	assert.Error(t, err)
}

func TestCursorDefaultSecret(t *testing.T) {
	cursor, err := EncryptCursor(testKey(), "")
	require.NoError(t, err)

	key, err := DecryptCursor(cursor, DefaultCursorSecret)
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestDecryptCursorFailures(t *testing.T) {
	valid, err := EncryptCursor(testKey(), "s3cret")
	require.NoError(t, err)

	tampered := []byte(valid)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	tests := []struct {
		name   string
		cursor string
		secret string
	}{
		{"wrong secret", valid, "other"},
		{"tampered", string(tampered), "s3cret"},
		{"not base64", "!!not-a-cursor!!", "s3cret"},
		{"too short", "AAAA", "s3cret"},
		{"empty", "", "s3cret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DecryptCursor(tt.cursor, tt.secret)
			assert.Nil(t, key)
			assert.ErrorIs(t, err, ErrInvalidCursor)
			assert.True(t, apierror.IsStatus(err, 400))
		})
	}
}
