package wcprotocol

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"moff.io/moff-wallet/pkg/errors"
)

const (
	// KeySize is the length of a session's symmetric key.
	KeySize = 256 / 8
	ivSize  = aes.BlockSize
)

var (
	ErrBadHMAC    = errors.New("inconsistent session message hmac")
	ErrBadPadding = errors.New("invalid pkcs7 padding")
	ErrKeySize    = errors.New("session key must be 32 bytes")
)

// Payload is the encrypted body carried in a bridge frame.
type Payload struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

func ParsePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message payload")
	}
	return &p, nil
}

func (p *Payload) Marshal() string {
	s, _ := json.Marshal(p)
	return string(s)
}

// Seal encrypts plaintext under key with a fresh iv and signs cipher||iv.
func Seal(plaintext, key []byte) (*Payload, error) {
	iv, err := GenerateRandomBytes(ivSize)
	if err != nil {
		return nil, errors.Wrap(err, "generate iv")
	}
	return sealWithIV(plaintext, key, iv)
}

func sealWithIV(plaintext, key, iv []byte) (*Payload, error) {
	data, err := Aes256Encrypt(plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	mac := HmacSha256(concat(data, iv), key)
	return &Payload{
		Data: hex.EncodeToString(data),
		Hmac: hex.EncodeToString(mac),
		IV:   hex.EncodeToString(iv),
	}, nil
}

// Open verifies the hmac of p and decrypts it.
func Open(p *Payload, key []byte) ([]byte, error) {
	iv, err := hex.DecodeString(p.IV)
	if err != nil {
		return nil, errors.Wrap(err, "decode iv hex")
	}
	data, err := hex.DecodeString(p.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode cipher hex")
	}
	mac, err := hex.DecodeString(p.Hmac)
	if err != nil {
		return nil, errors.Wrap(err, "decode hmac hex")
	}
	if !hmac.Equal(mac, HmacSha256(concat(data, iv), key)) {
		return nil, ErrBadHMAC
	}
	return Aes256Decrypt(data, key, iv)
}

func Aes256Encrypt(content, encryptionKey, iv []byte) ([]byte, error) {
	if len(encryptionKey) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	plain := pkcs7Padding(content, aes.BlockSize)
	ciphertext := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plain)
	return ciphertext, nil
}

func Aes256Decrypt(cipherText, encryptionKey, iv []byte) ([]byte, error) {
	if len(encryptionKey) != KeySize {
		return nil, ErrKeySize
	}
	if len(iv) != ivSize {
		return nil, errors.Errorf("iv must be %d bytes", ivSize)
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, errors.New("cipher text is not a multiple of the block size")
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "create new cipher block")
	}
	plain := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, cipherText)
	return pkcs7Unpadding(plain, aes.BlockSize)
}

func pkcs7Padding(src []byte, blockSize int) []byte {
	padding := blockSize - len(src)%blockSize
	return append(concat(src, nil), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpadding(src []byte, blockSize int) ([]byte, error) {
	n := len(src)
	if n == 0 {
		return nil, ErrBadPadding
	}
	padding := int(src[n-1])
	if padding == 0 || padding > blockSize || padding > n {
		return nil, ErrBadPadding
	}
	for _, b := range src[n-padding:] {
		if int(b) != padding {
			return nil, ErrBadPadding
		}
	}
	return src[:n-padding], nil
}

func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func HmacSha256(data, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)
}

// concat never aliases a.
func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
