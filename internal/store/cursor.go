package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultCursorSecret is used when neither the call nor the client supplies
// a cursor secret. Deployments should always configure their own secret;
// anyone knowing this value can read and forge cursors.
const DefaultCursorSecret = "factoid-api:cursor"

// keyAttribute is the canonical text form of a single key attribute. Table
// keys only ever hold strings, numbers or binary values.
type keyAttribute struct {
	S *string `json:"S,omitempty"`
	N *string `json:"N,omitempty"`
	B []byte  `json:"B,omitempty"`
}

// EncryptCursor turns a pagination key into an opaque, URL safe cursor. An
// empty key means there is nothing left to page through and yields "".
func EncryptCursor(key map[string]types.AttributeValue, secret string) (string, error) {
	if len(key) == 0 {
		return "", nil
	}

	plain, err := marshalKey(key)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cursor nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptCursor is the inverse of EncryptCursor. Every failure is reported
// as ErrInvalidCursor, including a cursor sealed under another secret.
func DecryptCursor(cursor, secret string) (map[string]types.AttributeValue, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrInvalidCursor
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	key, err := unmarshalKey(plain)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return key, nil
}

func newGCM(secret string) (cipher.AEAD, error) {
	if secret == "" {
		secret = DefaultCursorSecret
	}
	sum := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func marshalKey(key map[string]types.AttributeValue) ([]byte, error) {
	attrs := make(map[string]keyAttribute, len(key))
	for name, av := range key {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			s := v.Value
			attrs[name] = keyAttribute{S: &s}
		case *types.AttributeValueMemberN:
			n := v.Value
			attrs[name] = keyAttribute{N: &n}
		case *types.AttributeValueMemberB:
			attrs[name] = keyAttribute{B: v.Value}
		default:
			return nil, fmt.Errorf("unsupported key attribute %q of type %T", name, av)
		}
	}
	return json.Marshal(attrs)
}

func unmarshalKey(data []byte) (map[string]types.AttributeValue, error) {
	var attrs map[string]keyAttribute
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, fmt.Errorf("empty key")
	}

	key := make(map[string]types.AttributeValue, len(attrs))
	for name, attr := range attrs {
		switch {
		case attr.S != nil:
			key[name] = &types.AttributeValueMemberS{Value: *attr.S}
		case attr.N != nil:
			key[name] = &types.AttributeValueMemberN{Value: *attr.N}
		case len(attr.B) > 0:
			key[name] = &types.AttributeValueMemberB{Value: attr.B}
		default:
			return nil, fmt.Errorf("key attribute %q has no value", name)
		}
	}
	return key, nil
}
