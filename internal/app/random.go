package app

import (
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"golang.org/x/crypto/chacha20"
)

const randomSeedSize = chacha20.KeySize

// RandomSource yields unpredictable bytes.
type RandomSource interface {
	SecureBytes(n int) ([]byte, error)
}

// CryptoRandom reads from the operating system CSPRNG.
type CryptoRandom struct{}

func (CryptoRandom) SecureBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// drawIndex returns a uniform index in [0, n) from a ChaCha20 stream keyed with 32
// bytes of source.
func drawIndex(source RandomSource, n int) (int, error) {
	if n <= 0 {
		return 0, domain.Internal("cannot draw from %d candidates", n)
	}
	seed, err := source.SecureBytes(randomSeedSize)
	if err != nil {
		return 0, domain.Internal("randomness source failed: %v", err)
	}
	if len(seed) != randomSeedSize {
		return 0, domain.Internal("randomness source returned %d bytes, want %d", len(seed), randomSeedSize)
	}
	return uniformIndex(seed, n)
}

func uniformIndex(seed []byte, n int) (int, error) {
	if n == 1 {
		return 0, nil
	}
	nonce := make([]byte, chacha20.NonceSize)
	stream, err := chacha20.NewUnauthenticatedCipher(seed, nonce)
	if err != nil {
		return 0, domain.Internal("init sampler: %v", err)
	}

	bound := uint64(n)
	// Values below threshold would bias the modulo; 2^64 mod bound of them exist.
	threshold := -bound % bound
	var block [8]byte
	for {
		block = [8]byte{}
		stream.XORKeyStream(block[:], block[:])
		value := binary.LittleEndian.Uint64(block[:])
		if value >= threshold {
			index := value % bound
			if index > math.MaxInt {
				return 0, domain.Internal("sampled index overflows int")
			}
			return int(index), nil
		}
	}
}
