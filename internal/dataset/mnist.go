package dataset

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IDX magic numbers.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// Header sanity limits. maxImageFeatures bounds rows*cols and preallocBound
// caps slice preallocation, so a corrupt count fails on a short read instead
// of exhausting memory.
const (
	maxImageFeatures = 1 << 20
	preallocBound    = 1 << 16
	mnistClasses     = 10
)

// ChecksumFile is the name of the optional digest list next to the data files.
// Each line has the form "<sha256 hex>  <file name>" (sha256sum output).
const ChecksumFile = "SHA256SUMS"

// LoadMNIST loads MNIST from the official IDX files in dir.
//
// Expected files (plain or with a .gz suffix):
//   - train-images-idx3-ubyte, train-labels-idx1-ubyte
//   - t10k-images-idx3-ubyte, t10k-labels-idx1-ubyte
//
// maxSamples <= 0 loads everything. Pixels are scaled to [0, 1].
func LoadMNIST(dir string, subset Subset, maxSamples int) (*Dataset, error) {
	prefix := "train"
	if subset == Test {
		prefix = "t10k"
	}

	labels, labelCount, err := readIDXLabels(filepath.Join(dir, prefix+"-labels-idx1-ubyte"), maxSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	images, shape, imageCount, err := readIDXImages(filepath.Join(dir, prefix+"-images-idx3-ubyte"), maxSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	// Compare header counts, a maxSamples cap would hide the mismatch.
	if imageCount != labelCount {
		return nil, fmt.Errorf("%w: %d images, %d labels", ErrCountMismatch, imageCount, labelCount)
	}

	return &Dataset{
		Images:  images,
		Labels:  labels,
		Shape:   shape,
		Classes: mnistClasses,
	}, nil
}

// openMaybeGzip opens path, falling back to path+".gz" with transparent
// decompression.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	gzf, gzErr := os.Open(path + ".gz")
	if gzErr != nil {
		// Report the uncompressed name, it is the one users expect.
		return nil, err
	}
	zr, err := gzip.NewReader(bufio.NewReader(gzf))
	if err != nil {
		gzf.Close()
		return nil, fmt.Errorf("%s.gz: %w", path, err)
	}
	return &gzipFile{Reader: zr, file: gzf}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

// readIDXImages reads an IDX3 image file and also returns the image count
// from its header.
//
//	magic number: 0x00000803 (2051)
//	number of images, rows, cols: 4 bytes each, big endian
//	pixel data: unsigned bytes (0-255)
func readIDXImages(filename string, maxSamples int) ([][]float32, ImageShape, int, error) {
	rc, err := openMaybeGzip(filename)
	if err != nil {
		return nil, ImageShape{}, 0, err
	}
	defer rc.Close()
	r := bufio.NewReader(rc)

	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, ImageShape{}, 0, fmt.Errorf("failed to read header: %w", err)
	}
	if header[0] != idxImagesMagic {
		return nil, ImageShape{}, 0, fmt.Errorf("%w: got %d, want %d", ErrInvalidMagic, header[0], idxImagesMagic)
	}
	rows, cols := uint64(header[2]), uint64(header[3])
	if rows == 0 || cols == 0 || rows*cols > maxImageFeatures {
		return nil, ImageShape{}, 0, fmt.Errorf("%w: %dx%d images", ErrInvalidHeader, rows, cols)
	}

	shape := ImageShape{C: 1, H: int(rows), W: int(cols)}
	total := int(header[1])
	n := limit(total, maxSamples)
	buf := make([]byte, shape.Features())
	images := make([][]float32, 0, min(n, preallocBound))

	for i := range n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, ImageShape{}, 0, fmt.Errorf("failed to read image %d: %w", i, err)
		}
		images = append(images, scalePixels(buf))
	}
	return images, shape, total, nil
}

// readIDXLabels reads an IDX1 label file and also returns the label count
// from its header.
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes, big endian
//	label data: unsigned bytes (0-9)
func readIDXLabels(filename string, maxSamples int) ([]int32, int, error) {
	rc, err := openMaybeGzip(filename)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()
	r := bufio.NewReader(rc)

	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	if header[0] != idxLabelsMagic {
		return nil, 0, fmt.Errorf("%w: got %d, want %d", ErrInvalidMagic, header[0], idxLabelsMagic)
	}

	total := int(header[1])
	n := limit(total, maxSamples)
	// ReadAll grows with the data actually present.
	raw, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(raw) != n {
		return nil, 0, fmt.Errorf("failed to read labels: %w: got %d of %d", io.ErrUnexpectedEOF, len(raw), n)
	}

	labels := make([]int32, len(raw))
	for i, b := range raw {
		if b >= mnistClasses {
			return nil, 0, fmt.Errorf("%w: label %d at index %d", ErrLabelRange, b, i)
		}
		labels[i] = int32(b)
	}
	return labels, total, nil
}

func limit(n, maxSamples int) int {
	if maxSamples > 0 && n > maxSamples {
		return maxSamples
	}
	return n
}

func scalePixels(buf []byte) []float32 {
	out := make([]float32, len(buf))
	for j, p := range buf {
		out[j] = float32(p) / 255.0
	}
	return out
}

// VerifyChecksums checks every file listed in dir/SHA256SUMS.
// A missing checksum file is not an error: there is nothing to verify.
func VerifyChecksums(dir string) error {
	sums, err := readChecksums(filepath.Join(dir, ChecksumFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for name, want := range sums {
		got, err := fileSHA256(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, name, got, want)
		}
	}
	return nil
}

func readChecksums(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sums := make(map[string]string)
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: malformed checksum line", path, line)
		}
		// sha256sum marks binary mode with a leading '*'.
		sums[strings.TrimPrefix(fields[1], "*")] = strings.ToLower(fields[0])
	}
	return sums, sc.Err()
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
