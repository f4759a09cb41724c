package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
)

const (
	manifestPartName   = "manifest"
	extensionsPartName = "extensions"
)

type manifestExtensions struct {
	AssetRequestHeaders map[string]map[string]string `json:"assetRequestHeaders"`
}

// encodeManifestEnvelope собирает тело multipart/mixed из манифеста и расширений.
// manifest попадает в ответ байт в байт, подпись считается по тем же байтам
func encodeManifestEnvelope(manifest []byte, signature string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf("form-data; name=%q", manifestPartName))
	header.Set("Content-Type", "application/json; charset=utf-8")
	if signature != "" {
		header.Set("expo-signature", signature)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create manifest part: %w", err)
	}
	if _, err := part.Write(manifest); err != nil {
		return nil, "", fmt.Errorf("failed to write manifest part: %w", err)
	}

	extensions, err := json.Marshal(manifestExtensions{AssetRequestHeaders: map[string]map[string]string{}})
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode extensions: %w", err)
	}
	header = make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf("form-data; name=%q", extensionsPartName))
	header.Set("Content-Type", "application/json")
	part, err = mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create extensions part: %w", err)
	}
	if _, err := part.Write(extensions); err != nil {
		return nil, "", fmt.Errorf("failed to write extensions part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + mw.Boundary(), nil
}
