// Package artifact stores image artifacts on disk: enrollment photos,
// submitted class photos, and per-face crops used for review.
package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	jpegQuality = 85
	cropMaxSize = 256

	// Crops include some context around the detected box.
	cropMargin = 0.2
)

// Store writes image artifacts under a base directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the base directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// SaveEnrollment stores a member's enrollment photo re-encoded as JPEG and
// returns its path. Re-enrolling overwrites the previous photo.
func (s *Store) SaveEnrollment(memberID string, imageData []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("decode enrollment image: %w", err)
	}
	path := filepath.Join(s.dir, "enroll_"+memberID+".jpg")
	if err := writeJPEG(path, img); err != nil {
		return "", err
	}
	return path, nil
}

// SaveSubmissionPhoto stores a submitted class photo as-is and returns its
// path.
func (s *Store) SaveSubmissionPhoto(submissionID string, imageData []byte) (string, error) {
	path := filepath.Join(s.dir, "sub_"+submissionID+".jpg")
	if err := os.WriteFile(path, imageData, 0640); err != nil {
		return "", fmt.Errorf("write submission photo: %w", err)
	}
	return path, nil
}

// SaveFaceCrop cuts the bbox region (with margin) out of a submission
// photo, scales it down to a thumbnail, and returns the stored path.
// bbox is [x1, y1, x2, y2] in pixel coordinates.
func (s *Store) SaveFaceCrop(submissionID string, faceIndex int, imageData []byte, bbox [4]float64) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("decode submission image: %w", err)
	}

	region := cropRect(img.Bounds(), bbox)
	if region.Empty() {
		return "", fmt.Errorf("face %d: bbox %v outside image bounds", faceIndex, bbox)
	}

	crop := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(crop, crop.Bounds(), img, region.Min, draw.Src)

	thumb := scaleDown(crop, cropMaxSize)

	path := filepath.Join(s.dir, fmt.Sprintf("sub_%s_face_%d.jpg", submissionID, faceIndex))
	if err := writeJPEG(path, thumb); err != nil {
		return "", err
	}
	return path, nil
}

// cropRect expands the bbox by the crop margin and clamps it to the image.
func cropRect(bounds image.Rectangle, bbox [4]float64) image.Rectangle {
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	r := image.Rect(
		int(bbox[0]-w*cropMargin),
		int(bbox[1]-h*cropMargin),
		int(bbox[2]+w*cropMargin),
		int(bbox[3]+h*cropMargin),
	)
	return r.Intersect(bounds)
}

// scaleDown shrinks img so neither side exceeds maxSize, keeping aspect
// ratio. Images already small enough pass through untouched.
func scaleDown(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxSize && height <= maxSize {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

func writeJPEG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0640); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
