// Package crypto signs terminal session records so auditors can verify
// that a stored record was produced by this engine and not edited after
// the fact. Signatures cover the RFC 8785 canonical form of the record
// with its signature fields blank.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/accordhq/accord/pkg/canonicalize"
	"github.com/accordhq/accord/pkg/contracts"
)

// Signer produces and checks engine signatures.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
	KeyID() string
	SignSessionRecord(r *contracts.SessionRecord) error
	VerifySessionRecord(r *contracts.SessionRecord) (bool, error)
}

// Ed25519Signer is the default Signer.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

func (s *Ed25519Signer) KeyID() string {
	return s.keyID
}

// recordPayload is the canonical byte string a record signature covers.
func recordPayload(r *contracts.SessionRecord) ([]byte, error) {
	clone := *r
	clone.Signature = ""
	clone.SignerKeyID = ""
	payload, err := canonicalize.JCS(clone)
	if err != nil {
		return nil, fmt.Errorf("canonicalize session record: %w", err)
	}
	return payload, nil
}

// SignSessionRecord sets Signature and SignerKeyID on the record.
func (s *Ed25519Signer) SignSessionRecord(r *contracts.SessionRecord) error {
	payload, err := recordPayload(r)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	r.Signature = sig
	r.SignerKeyID = s.keyID
	return nil
}

// VerifySessionRecord checks the record signature against this signer's
// public key.
func (s *Ed25519Signer) VerifySessionRecord(r *contracts.SessionRecord) (bool, error) {
	if r.Signature == "" {
		return false, fmt.Errorf("missing signature")
	}
	payload, err := recordPayload(r)
	if err != nil {
		return false, err
	}
	return Verify(s.PublicKey(), r.Signature, payload)
}

// Verify checks a hex signature against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// VerifyRecordWithKey checks a record against an out-of-band public key,
// for auditors that hold only the published key.
func VerifyRecordWithKey(pubKeyHex string, r *contracts.SessionRecord) (bool, error) {
	if r.Signature == "" {
		return false, fmt.Errorf("missing signature")
	}
	payload, err := recordPayload(r)
	if err != nil {
		return false, err
	}
	return Verify(pubKeyHex, r.Signature, payload)
}
