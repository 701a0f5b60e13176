// Package images validates and normalizes entry image attachments
// (receipt photos). Attachments are stored inline with the entry, so
// oversized uploads are rejected and large pictures are downscaled before
// they reach the ledger store.
package images

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"spend/internal/core"
)

// MaxImageBytes caps the accepted upload size.
const MaxImageBytes = 5 << 20 // 5 MiB

// maxDimension bounds the longer side of a stored image.
const maxDimension = 1600

var allowedFormats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/jpg":  imaging.JPEG,
	"image/png":  imaging.PNG,
}

// Process validates an attachment and returns the copy to store. The image
// must carry an allowed content type, fit the size cap and actually decode;
// anything larger than maxDimension on either side is scaled down and
// re-encoded in its original format.
func Process(img core.Image) (*core.Image, error) {
	contentType := strings.ToLower(strings.TrimSpace(img.ContentType))
	format, ok := allowedFormats[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %q", core.ErrInvalidImage, img.ContentType)
	}
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", core.ErrInvalidImage)
	}
	if len(img.Data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", core.ErrInvalidImage, len(img.Data), MaxImageBytes)
	}

	decoded, err := imaging.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", core.ErrInvalidImage, err)
	}

	bounds := decoded.Bounds()
	if bounds.Dx() > maxDimension || bounds.Dy() > maxDimension {
		resized := imaging.Fit(decoded, maxDimension, maxDimension, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, format); err != nil {
			return nil, fmt.Errorf("%w: re-encode: %v", core.ErrInvalidImage, err)
		}
		img.Data = buf.Bytes()
	}

	stored := core.Image{
		Data:        img.Data,
		ContentType: contentType,
		Name:        img.Name,
	}
	return &stored, nil
}
