// Package envelope is the encryption gateway at the trust boundary between
// users and the storage network.
//
// Data crossing into the network is re-encrypted under a custodial master
// key the network holds, so providers only ever see ciphertext that is
// distinct from anything the user's own key material produced. Each item's
// key is derived from the master key, a random salt, and the ContentID;
// the ContentID is also bound into the AEAD as associated data, so the
// envelope stored for one item can never satisfy a request for another.
//
// Payload bytes are lzma-compressed before sealing.
package envelope

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/arguslabs/argus-store/pkg/contentid"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecryption is returned on authentication-tag or key-material
// mismatch. No partial plaintext is ever returned alongside it.
var ErrDecryption = errors.New("envelope: decryption failed")

const cipherName = "xchacha20poly1305"

// Payload is the descriptor needed to reverse an encryption: algorithm
// parameters, nonce, and the salt feeding key derivation. It is persisted
// per ContentID and scope; it contains no key material itself.
type Payload struct {
	Cipher     string `json:"cipher"`
	Nonce      []byte `json:"nonce"`
	Salt       []byte `json:"salt"`
	Compressed bool   `json:"compressed"`
}

// Marshal serializes the descriptor for persistence.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload parses a persisted descriptor.
func UnmarshalPayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("envelope: parse payload: %w", err)
	}
	return p, nil
}

// Envelope pairs ciphertext with its payload descriptor.
type Envelope struct {
	Ciphertext []byte
	Payload    Payload
}

// Gateway performs custodial wrap and unwrap operations.
type Gateway struct {
	master []byte
	log    *logrus.Logger
}

// NewGateway creates a gateway from a 32-byte custodial master key.
func NewGateway(masterKey []byte, log *logrus.Logger) (*Gateway, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("envelope: master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	if log == nil {
		log = logrus.New()
	}
	return &Gateway{
		master: append([]byte(nil), masterKey...),
		log:    log,
	}, nil
}

// Wrap compresses and seals plaintext under a key derived for cid.
func (g *Gateway) Wrap(plaintext []byte, cid contentid.ContentID) (Envelope, error) {
	compressed, err := compress(plaintext)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: compress: %w", err)
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return Envelope{}, fmt.Errorf("envelope: draw salt: %w", err)
	}

	key, err := g.deriveKey(salt, cid)
	if err != nil {
		return Envelope{}, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: init cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("envelope: draw nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, compressed, []byte(cid))

	return Envelope{
		Ciphertext: ciphertext,
		Payload: Payload{
			Cipher:     cipherName,
			Nonce:      nonce,
			Salt:       salt,
			Compressed: true,
		},
	}, nil
}

// Unwrap opens an envelope for cid. A descriptor from a different item, a
// tampered ciphertext, or a wrong master key all fail with ErrDecryption.
func (g *Gateway) Unwrap(env Envelope, cid contentid.ContentID) ([]byte, error) {
	if env.Payload.Cipher != cipherName {
		return nil, fmt.Errorf("%w: unsupported cipher %q", ErrDecryption, env.Payload.Cipher)
	}
	if len(env.Payload.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: bad nonce length", ErrDecryption)
	}

	key, err := g.deriveKey(env.Payload.Salt, cid)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: init cipher: %w", err)
	}

	compressed, err := aead.Open(nil, env.Payload.Nonce, env.Ciphertext, []byte(cid))
	if err != nil {
		return nil, ErrDecryption
	}

	if !env.Payload.Compressed {
		return compressed, nil
	}

	plaintext, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("envelope: decompress: %w", err)
	}
	return plaintext, nil
}

// deriveKey derives the per-item key: HKDF-SHA256 of the master key with
// the given salt and the ContentID in the info string.
func (g *Gateway) deriveKey(salt []byte, cid contentid.ContentID) ([]byte, error) {
	kdf := hkdf.New(sha256.New, g.master, salt, []byte("argus/payload/"+string(cid)))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("envelope: derive key: %w", err)
	}
	return key, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
