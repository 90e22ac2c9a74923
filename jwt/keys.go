package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256.
	MethodHS256 SigningMethod = "hs256"
)

// MinHMACKeyLength is the shortest HS256 secret accepted.
const MinHMACKeyLength = 32

// keySet is a parsed signing configuration. sign is nil for verify-only sets.
type keySet struct {
	method     jwt.SigningMethod
	kid        string
	sign       interface{}
	verify     interface{}
	verifyKeys map[string]interface{}
}

func newKeySet(method SigningMethod, private, public []byte, kid string, verifyKeys map[string][]byte) (*keySet, error) {
	ks := &keySet{kid: strings.TrimSpace(kid)}

	switch method {
	case MethodHS256:
		if len(private) < MinHMACKeyLength {
			return nil, fmt.Errorf("hs256 requires a secret of at least %d bytes", MinHMACKeyLength)
		}
		ks.method = jwt.SigningMethodHS256
		ks.sign = private
		ks.verify = private
	case MethodEd25519:
		ks.method = jwt.SigningMethodEdDSA
		if len(private) > 0 {
			priv, err := parseEdPrivateKey(private)
			if err != nil {
				return nil, err
			}
			ks.sign = priv
			ks.verify = priv.Public()
		}
		if len(public) > 0 {
			pub, err := parseEdPublicKey(public)
			if err != nil {
				return nil, err
			}
			ks.verify = pub
		}
		if ks.verify == nil && len(verifyKeys) == 0 {
			return nil, errors.New("ed25519 requires a private key, public key or verify key set")
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", method)
	}

	if len(verifyKeys) > 0 {
		ks.verifyKeys = make(map[string]interface{}, len(verifyKeys))
		for id, raw := range verifyKeys {
			if strings.TrimSpace(id) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			key, err := verifyKeyFromBytes(method, raw)
			if err != nil {
				return nil, fmt.Errorf("invalid verify key for kid %q: %w", id, err)
			}
			ks.verifyKeys[id] = key
		}
		if ks.kid != "" {
			if _, ok := ks.verifyKeys[ks.kid]; !ok {
				return nil, errors.New("KeyID is not present in VerifyKeys")
			}
		}
	}

	return ks, nil
}

func (ks *keySet) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != ks.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(ks.verifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := ks.verifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if ks.kid != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != ks.kid {
			return nil, errors.New("unknown kid")
		}
	}
	return ks.verify, nil
}

func (ks *keySet) signedString(claims jwt.Claims) (string, error) {
	if ks.sign == nil {
		return "", errors.New("issuer has no signing key")
	}
	tok := jwt.NewWithClaims(ks.method, claims)
	if ks.kid != "" {
		tok.Header["kid"] = ks.kid
	}
	return tok.SignedString(ks.sign)
}

func verifyKeyFromBytes(method SigningMethod, key []byte) (interface{}, error) {
	if method == MethodHS256 {
		if len(key) < MinHMACKeyLength {
			return nil, errors.New("hs256 verify key too short")
		}
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
