package raster

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const hgtNoData = -32768

// HGT is a Reader for raw SRTM .hgt files: a square grid of big-endian
// signed 16-bit samples, no header, no compression. Byte offsets are
// computed directly since there is no block structure to decode around.
type HGT struct {
	file *os.File
	meta Metadata
	size int // samples per side: 1201 or 3601.
}

// NewHGT opens path as a raw .hgt file. swLat and swLng are the latitude and
// longitude of the tile's southwest corner, as encoded in the filename
// (e.g. N34W118.hgt -> swLat=34, swLng=-118) — Open parses that filename
// convention with ParseHGTFilename before calling NewHGT.
func NewHGT(path string, swLat, swLng float64) (*HGT, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = file.Close()
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	size, err := sizeFromFileLength(info.Size())
	if err != nil {
		return nil, err
	}

	step := 1.0 / float64(size-1)
	noData := float64(hgtNoData)
	h := &HGT{
		file: file,
		size: size,
		meta: Metadata{
			Transform: Transform{
				OriginLat:   swLat + 1,
				OriginLng:   swLng,
				PixelWidth:  step,
				PixelHeight: -step,
			},
			Width:  size,
			Height: size,
			DType:  DTypeInt16,
			NoData: &noData,
			Path:   path,
		},
	}
	ok = true
	return h, nil
}

func sizeFromFileLength(length int64) (int, error) {
	switch length {
	case 1201 * 1201 * 2:
		return 1201, nil
	case 3601 * 3601 * 2:
		return 3601, nil
	default:
		return 0, fmt.Errorf("%w: unexpected .hgt file length %d", ErrUnsupportedFormat, length)
	}
}

func (h *HGT) Metadata() Metadata { return h.meta }

func (h *HGT) Close() error { return h.file.Close() }

func (h *HGT) ReadWindow(ctx context.Context, row0, col0, nrows, ncols int, fill float64) (Window, error) {
	if h.meta.NoData != nil {
		fill = *h.meta.NoData
	}
	out := fillWindow(nrows, ncols, fill)

	srcRow, srcCol, dstRow, dstCol, validRows, validCols := clipWindow(row0, col0, nrows, ncols, h.size, h.size)
	if validRows == 0 || validCols == 0 {
		return out, nil
	}

	rowBytes := make([]byte, validCols*2)
	for r := 0; r < validRows; r++ {
		offset := (int64(srcRow+r)*int64(h.size) + int64(srcCol)) * 2
		if _, err := h.file.ReadAt(rowBytes, offset); err != nil && err != io.EOF {
			return Window{}, &IOError{Path: h.meta.Path, Err: err}
		}
		for c := 0; c < validCols; c++ {
			v := int16(binary.BigEndian.Uint16(rowBytes[c*2 : c*2+2]))
			out.Data[(dstRow+r)*out.Cols+dstCol+c] = float64(v)
		}
	}
	return out, nil
}
