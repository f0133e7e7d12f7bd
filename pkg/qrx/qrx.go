// Package qrx turns otpauth provisioning URIs into scannable images for the
// presentation layer. Rendering is a convenience surface, not a security
// boundary; hosts may plug in their own Renderer.
package qrx

import (
	"fmt"
	"image"

	"github.com/pquerna/otp"
)

// DefaultSize is the square pixel size used when callers pass size <= 0.
const DefaultSize = 256

// Renderer renders a provisioning URI into an image the UI can display.
type Renderer interface {
	Render(uri string, size int) (image.Image, error)
}

// KeyRenderer renders otpauth:// URIs via the TOTP key's built-in QR support.
type KeyRenderer struct{}

func (KeyRenderer) Render(uri string, size int) (image.Image, error) {
	if size <= 0 {
		size = DefaultSize
	}

	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provisioning uri: %w", err)
	}

	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render provisioning uri: %w", err)
	}
	return img, nil
}
