package services

import (
	"crypto/rand"
	"math/big"
)

// ShortIDLength is the length of generated identifiers.
const ShortIDLength = 7

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

// RandomGenerator draws identifiers uniformly from a URL-safe alphabet.
type RandomGenerator struct {
	length int
}

func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{length: ShortIDLength}
}

func (g *RandomGenerator) NewShortID() (string, error) {
	return generateShortID(g.length)
}

func generateShortID(length int) (string, error) {
	b := make([]byte, length)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}
