package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/dunglas/httpsfv"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

// KeyID - идентификатор ключа в заголовке expo-signature
const KeyID = "main"

// Signer подписывает манифесты ключом оператора
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner загружает ключ из PEM-файла. Пустой путь дает подписчика без ключа
func NewSigner(path string) (*Signer, error) {
	if path == "" {
		return &Signer{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}

	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

func NewSignerFromKey(key *rsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// ParsePrivateKey разбирает RSA-ключ в формате PKCS#1 или PKCS#8
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// Available сообщает, настроен ли ключ
func (s *Signer) Available() bool {
	return s != nil && s.key != nil
}

// Sign подписывает ровно те байты, которые будут отданы клиенту,
// и возвращает значение заголовка expo-signature
func (s *Signer) Sign(payload []byte) (string, error) {
	if !s.Available() {
		return "", fmt.Errorf("code signing requested but no key supplied: %w", domain.ErrUnavailable)
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign manifest: %w", err)
	}

	dict := httpsfv.NewDictionary()
	dict.Add("sig", httpsfv.NewItem(base64.StdEncoding.EncodeToString(sig)))
	dict.Add("keyid", httpsfv.NewItem(KeyID))

	header, err := httpsfv.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("failed to serialize signature: %w", err)
	}
	return header, nil
}

// Verify проверяет заголовок expo-signature против payload
func Verify(payload []byte, header string, pub *rsa.PublicKey) error {
	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return fmt.Errorf("failed to parse signature header: %w", err)
	}

	member, ok := dict.Get("sig")
	if !ok {
		return errors.New("signature header has no sig")
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return errors.New("sig is not an item")
	}
	encoded, ok := item.Value.(string)
	if !ok {
		return errors.New("sig is not a string")
	}

	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode sig: %w", err)
	}

	digest := sha256.Sum256(payload)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
}
