package helpers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/benAliAlizadeh/mahsabot/internal/constants"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCredential returns a fresh account credential: a UUIDv4 for
// vless/vmess clients and a random hex password for trojan.
func GenerateCredential(protocol string) string {
	if protocol == "trojan" {
		return GeneratePassword(16)
	}
	return uuid.New().String()
}

// GenerateToken returns a random alphanumeric string of the given length
func GenerateToken(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		for i := range buf {
			buf[i] = tokenAlphabet[mrand.Intn(len(tokenAlphabet))]
		}
		return string(buf)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}

// GeneratePassword returns a random hex password string
func GeneratePassword(length int) string {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return strings.ReplaceAll(uuid.New().String(), "-", "")[:length]
	}
	return hex.EncodeToString(buf)[:length]
}

// GenerateShortID returns a random short id for Reality inbounds
func GenerateShortID() string {
	return GeneratePassword(constants.ShortIDLength)
}

// GenerateSubID returns a random subscription id for 3x-ui client records
func GenerateSubID() string {
	return GenerateToken(constants.SubIDLength)
}

// GenerateConfigName builds a remote-visible remark from a prefix and a
// random suffix, e.g. "mb-7k2qfx9d". The remark is the cross-system join
// key, so it must be unique per node.
func GenerateConfigName(prefix string) string {
	if prefix == "" {
		prefix = "mb"
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToLower(GenerateToken(8)))
}

// IsValidUUID reports whether the string is a well-formed UUID
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
