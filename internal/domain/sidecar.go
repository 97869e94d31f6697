package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	SidecarVersion = 1
	SidecarSuffix  = ".meta.json"

	CompressionGzip = "GZIP"
	CompressionNone = "NONE"

	EncryptionAESGCM = "AES-256-GCM"
	EncryptionNone   = "NONE"
)

// Sidecar is the companion metadata file uploaded next to every artifact. It
// is the sole carrier of the IV and auth tag; losing it makes an encrypted
// artifact unrecoverable even with the correct key.
type Sidecar struct {
	Version             int    `json:"version"`
	OriginalName        string `json:"originalName"`
	Size                int64  `json:"size"`
	Compression         string `json:"compression"`
	Encryption          string `json:"encryption"`
	EncryptionProfileID string `json:"encryptionProfileId,omitempty"`
	IV                  string `json:"iv,omitempty"`
	AuthTag             string `json:"authTag,omitempty"`
	SourceType          string `json:"sourceType"`
	CreatedAt           string `json:"createdAt"`
}

func NewSidecar(originalName, sourceType string) *Sidecar {
	return &Sidecar{
		Version:      SidecarVersion,
		OriginalName: originalName,
		Compression:  CompressionNone,
		Encryption:   EncryptionNone,
		SourceType:   sourceType,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

// SidecarName returns the sidecar filename for an artifact.
func SidecarName(artifact string) string {
	return artifact + SidecarSuffix
}

func (s *Sidecar) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func DecodeSidecar(data []byte) (*Sidecar, error) {
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	return &s, nil
}
