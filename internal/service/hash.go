package service

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/anand-gl/jsoncanonicalizer"
	"github.com/google/uuid"
)

var hexToken = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

func HashBytes(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// HashBase64URL - хеш содержимого ассета для заголовков целостности
func HashBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(HashBytes(b))
}

// UUIDFromDigest берет первые 16 байт дайджеста как UUID
func UUIDFromDigest(digest []byte) uuid.UUID {
	var id uuid.UUID
	copy(id[:], digest)
	return id
}

// MetadataUUID выводит идентичность манифеста из объявленных метаданных.
// JSON канонизируется, поэтому пробелы и порядок ключей не влияют на результат
func MetadataUUID(raw []byte) (uuid.UUID, error) {
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to canonicalize metadata: %w", err)
	}
	return UUIDFromDigest(HashBytes(canonical)), nil
}

// TokenUUID превращает токен из пути ассета в UUID.
// 32 hex-символа форматируются напрямую, остальное хешируется
func TokenUUID(token string) uuid.UUID {
	if hexToken.MatchString(token) {
		raw, _ := hex.DecodeString(token)
		return UUIDFromDigest(raw)
	}
	return UUIDFromDigest(HashBytes([]byte(token)))
}

// RepinUUID - внешний id манифеста после перепривязки устройства
func RepinUUID(updatedAt time.Time) uuid.UUID {
	encoded, _ := json.Marshal(ISOTime(updatedAt))
	return UUIDFromDigest(HashBytes([]byte(encoded)))
}

// ISOTime форматирует время как toISOString в JavaScript
func ISOTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
