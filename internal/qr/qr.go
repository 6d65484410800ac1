// Package qr renders gateway connection codes as scannable PNG images.
package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// imageSize is the rendered PNG edge length in pixels. Large enough for
// phone cameras at typical screen DPI.
const imageSize = 280

// Encode renders a connection code as a PNG QR image.
func Encode(code string) ([]byte, error) {
	if code == "" {
		return nil, fmt.Errorf("empty connection code")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, imageSize)
	if err != nil {
		return nil, fmt.Errorf("encoding connection code: %w", err)
	}
	return png, nil
}
