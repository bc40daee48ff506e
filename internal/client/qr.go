package client

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the edge length in pixels of exported QR images.
const DefaultQRSize = 256

// QRCode renders uri as a PNG image.
func QRCode(uri string, size int) ([]byte, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// WriteQRCode renders uri as a PNG image into path. The image carries the
// secret, so the file is readable by the owner only.
func WriteQRCode(uri, path string, size int) error {
	png, err := QRCode(uri, size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return fmt.Errorf("write qr: %w", err)
	}
	return nil
}
