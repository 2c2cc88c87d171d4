// Package fingerprint decodes captured frames and derives perceptual hashes from them.
package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"sort"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned when frame bytes are not a supported image format.
var ErrUndecodable = errors.New("undecodable image")

// HashBits is the total number of hash bits exposed by HashResult.Bit.
const HashBits = 128

// HashResult contains computed perceptual hashes for an image.
type HashResult struct {
	PHash     string `json:"phash"` // 64-bit perceptual hash as hex string
	DHash     string `json:"dhash"` // 64-bit difference hash as hex string
	PHashBits uint64 `json:"-"`
	DHashBits uint64 `json:"-"`
}

// Bit returns hash bit i of the concatenated pHash||dHash, most significant first.
func (h *HashResult) Bit(i int) bool {
	switch {
	case i < 0 || i >= HashBits:
		return false
	case i < 64:
		return h.PHashBits&(1<<(63-i)) != 0
	default:
		return h.DHashBits&(1<<(127-i)) != 0
	}
}

// Decode decodes frame bytes into an image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return img, nil
}

// Dimensions reads the frame size from the image header without decoding pixels.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return cfg.Width, cfg.Height, nil
}

// ComputeHashes computes both pHash and dHash for encoded image bytes.
func ComputeHashes(imageData []byte) (*HashResult, error) {
	img, err := Decode(imageData)
	if err != nil {
		return nil, err
	}
	return HashImage(img), nil
}

// HashImage computes both hashes for an already decoded image.
func HashImage(img image.Image) *HashResult {
	pHash := computePHash(img)
	dHash := computeDHash(img)

	return &HashResult{
		PHash:     fmt.Sprintf("%016x", pHash),
		DHash:     fmt.Sprintf("%016x", dHash),
		PHashBits: pHash,
		DHashBits: dHash,
	}
}

// computePHash computes a 64-bit perceptual hash from the low-frequency DCT block.
func computePHash(img image.Image) uint64 {
	gray := toGrayscale(resizeImage(img, 32, 32))
	dct := computeDCT(gray)

	// Top-left 8x8 coefficients without the DC term, padded from the next row.
	lowFreq := make([]float64, 0, 64)
	for u := range 9 {
		for v := range 8 {
			if u == 0 && v == 0 {
				continue
			}
			if len(lowFreq) == 64 {
				break
			}
			lowFreq = append(lowFreq, dct[u][v])
		}
	}

	median := computeMedian(lowFreq)

	var hash uint64
	for i, c := range lowFreq {
		if c > median {
			hash |= 1 << (63 - i)
		}
	}
	return hash
}

// computeDHash compares horizontally adjacent pixels of a 9x8 thumbnail.
func computeDHash(img image.Image) uint64 {
	gray := toGrayscale(resizeImage(img, 9, 8))

	var hash uint64
	bit := 63
	for y := range 8 {
		for x := range 8 {
			if gray[x][y] > gray[x+1][y] {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// Downscale shrinks a frame to fit within maxSize on its longer side, keeping aspect ratio.
// Frames already small enough are returned unchanged; others are re-encoded as JPEG.
func Downscale(data []byte, maxSize int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxSize && height <= maxSize {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, height*maxSize/width)
	} else {
		newHeight = maxSize
		newWidth = max(1, width*maxSize/height)
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode downscaled frame: %w", err)
	}
	return buf.Bytes(), nil
}

// toGrayscale converts an image to a column-major grid of luma values (0-255).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma.
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return gray
}

// computeDCT computes a 2D DCT-II of a square grayscale grid.
func computeDCT(gray [][]float64) [][]float64 {
	size := len(gray)

	cosTable := make([][]float64, size)
	for i := range cosTable {
		cosTable[i] = make([]float64, size)
		for j := range size {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}

	// Separable transform: rows first, then columns.
	rows := make([][]float64, size)
	for x := range size {
		rows[x] = make([]float64, size)
		for v := range size {
			var sum float64
			for y := range size {
				sum += gray[x][y] * cosTable[v][y]
			}
			rows[x][v] = sum
		}
	}

	dct := make([][]float64, size)
	for u := range size {
		dct[u] = make([]float64, size)
		for v := range size {
			var sum float64
			for x := range size {
				sum += rows[x][v] * cosTable[u][x]
			}
			dct[u][v] = sum
		}
	}
	return dct
}

func computeMedian(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
