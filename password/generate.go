package password

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*()-_=+[]{}<>?"
	allChars    = lowerChars + upperChars + digitChars + symbolChars

	// MinGeneratedLength is the shortest password GenerateSecurePassword accepts.
	MinGeneratedLength = 8
)

// ErrInvalidLength is returned by GenerateSecurePassword for lengths below MinGeneratedLength.
var ErrInvalidLength = errors.New("password length too short")

// GenerateSecurePassword returns a random password drawn from crypto/rand. The
// result contains at least one lowercase letter, uppercase letter, digit and
// symbol.
func GenerateSecurePassword(length int) (string, error) {
	if length < MinGeneratedLength {
		return "", ErrInvalidLength
	}

	out := make([]byte, length)
	for i, set := range []string{lowerChars, upperChars, digitChars, symbolChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := 4; i < length; i++ {
		c, err := pick(allChars)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Fisher-Yates so the guaranteed classes are not always in front.
	for i := length - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		k := int(j.Int64())
		out[i], out[k] = out[k], out[i]
	}

	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
