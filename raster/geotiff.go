package raster

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"

	"github.com/haugland/terrainquery/metrics"
)

// blockCoord identifies one tile (or, for stripped files, one strip) within
// a GeoTIFF's block grid.
type blockCoord struct {
	col, row int
}

// geoTIFFIFD is unmarshaled directly from the file's single IFD. Strip and
// tile fields are mutually exclusive in a well-formed file; exactly one set
// is populated.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

const (
	sampleFormatUnsignedInt = 1
	sampleFormatSignedInt   = 2
	sampleFormatFloat       = 3

	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflateOld  = 32946
	compressionDeflateOld2 = 8
)

// GeoTIFFOption configures a GeoTIFF reader.
type GeoTIFFOption func(*GeoTIFF)

// WithBlockCacheBlocks bounds the number of decoded tiles/strips kept in
// memory per open file. Default 16.
func WithBlockCacheBlocks(n int) GeoTIFFOption {
	return func(f *GeoTIFF) { f.blockCacheBlocks = n }
}

// GeoTIFF is a Reader for tiled or stripped GeoTIFF files with 16/32-bit
// integer or 32-bit float samples, uncompressed or LZW/Deflate compressed.
// Byte order is assumed little-endian, matching the overwhelming majority of
// GDAL-produced GeoTIFFs this package has been run against.
type GeoTIFF struct {
	file   *os.File
	meta   Metadata
	dtype  DType
	bits   int
	signed bool
	isFloat bool

	compression  uint16
	blockWidth   int
	blockHeight  int
	blocksAcross int
	blocksDown   int
	blockOffsets []uint64
	blockCounts  []uint64

	blockCacheBlocks int
	blockCache       *otter.Cache[blockCoord, []float64]
}

// NewGeoTIFF opens path as a GeoTIFF.
func NewGeoTIFF(path string, options ...GeoTIFFOption) (*GeoTIFF, error) {
	f := &GeoTIFF{blockCacheBlocks: 16}
	for _, option := range options {
		option(f)
	}

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
	f.file = file

	tiffTIFF, err := tiff.Parse(file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(tiffTIFF.IFDs()) != 1 {
		return nil, fmt.Errorf("%w: found %d IFDs, expected 1", ErrUnsupportedFormat, len(tiffTIFF.IFDs()))
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if ifd.SamplesPerPixel != 1 || ifd.PlanarConfiguration != 0 && ifd.PlanarConfiguration != 1 || ifd.Predictor != 0 && ifd.Predictor != 1 {
		return nil, fmt.Errorf("%w: unsupported sample layout", ErrUnsupportedFormat)
	}

	switch ifd.Compression {
	case 0, compressionNone, compressionLZW, compressionDeflateOld, compressionDeflateOld2:
		f.compression = ifd.Compression
		if f.compression == 0 {
			f.compression = compressionNone
		}
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedFormat, ifd.Compression)
	}

	dtype, bits, signed, isFloat, err := classifySampleFormat(ifd.SampleFormat, ifd.BitsPerSample)
	if err != nil {
		return nil, err
	}
	f.dtype, f.bits, f.signed, f.isFloat = dtype, bits, signed, isFloat

	width, height := int(ifd.ImageWidth), int(ifd.ImageLength)

	switch {
	case ifd.TileWidth > 0 && ifd.TileLength > 0:
		f.blockWidth, f.blockHeight = int(ifd.TileWidth), int(ifd.TileLength)
		f.blocksAcross = ceilDiv(width, f.blockWidth)
		f.blocksDown = ceilDiv(height, f.blockHeight)
		f.blockOffsets, f.blockCounts = ifd.TileOffsets, ifd.TileByteCounts
	case ifd.RowsPerStrip > 0:
		f.blockWidth, f.blockHeight = width, int(ifd.RowsPerStrip)
		f.blocksAcross = 1
		f.blocksDown = ceilDiv(height, f.blockHeight)
		f.blockOffsets, f.blockCounts = ifd.StripOffsets, ifd.StripByteCounts
	default:
		return nil, fmt.Errorf("%w: neither tiled nor stripped", ErrUnsupportedFormat)
	}
	if n := f.blocksAcross * f.blocksDown; len(f.blockOffsets) != n || len(f.blockCounts) != n {
		return nil, fmt.Errorf("%w: block offset/count table size mismatch", ErrCorrupt)
	}

	transform, err := transformFromTags(ifd.ModelPixelScaleTag, ifd.ModelTiepointTag)
	if err != nil {
		return nil, err
	}

	var noData *float64
	if ifd.GDALNoData != "" {
		v, err := strconv.ParseFloat(ifd.GDALNoData, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: unparseable GDAL_NODATA %q", ErrCorrupt, ifd.GDALNoData)
		}
		noData = &v
	}

	f.meta = Metadata{
		Transform: transform,
		Width:     width,
		Height:    height,
		DType:     dtype,
		NoData:    noData,
		Path:      path,
	}

	blockCacheSize := max(f.blockCacheBlocks, 1)
	f.blockCache, err = otter.New(&otter.Options[blockCoord, []float64]{
		MaximumSize: blockCacheSize,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return f, nil
}

func classifySampleFormat(sampleFormat, bitsPerSample uint16) (dtype DType, bits int, signed, isFloat bool, err error) {
	switch {
	case bitsPerSample == 16 && (sampleFormat == 0 || sampleFormat == sampleFormatSignedInt):
		return DTypeInt16, 16, true, false, nil
	case bitsPerSample == 16 && sampleFormat == sampleFormatUnsignedInt:
		return DTypeUint16, 16, false, false, nil
	case bitsPerSample == 32 && (sampleFormat == 0 || sampleFormat == sampleFormatSignedInt):
		return DTypeInt32, 32, true, false, nil
	case bitsPerSample == 32 && sampleFormat == sampleFormatUnsignedInt:
		return DTypeUint32, 32, false, false, nil
	case bitsPerSample == 32 && sampleFormat == sampleFormatFloat:
		return DTypeFloat32, 32, true, true, nil
	default:
		return 0, 0, false, false, fmt.Errorf("%w: bits=%d format=%d", ErrUnsupportedFormat, bitsPerSample, sampleFormat)
	}
}

// transformFromTags builds a Transform from the GeoTIFF ModelPixelScale and
// ModelTiepoint tags, assuming a single tiepoint at raster (0,0) — true for
// every GDAL-produced geographic GeoTIFF this package targets.
func transformFromTags(scale, tiepoint []float64) (Transform, error) {
	if len(scale) != 3 || len(tiepoint) != 6 {
		return Transform{}, fmt.Errorf("%w: missing georeferencing tags", ErrUnsupportedFormat)
	}
	if tiepoint[0] != 0 || tiepoint[1] != 0 {
		return Transform{}, fmt.Errorf("%w: non-origin tiepoint", ErrUnsupportedFormat)
	}
	return Transform{
		OriginLat:   tiepoint[4],
		OriginLng:   tiepoint[3],
		PixelWidth:  scale[0],
		PixelHeight: -scale[1],
	}, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func (f *GeoTIFF) Metadata() Metadata { return f.meta }

func (f *GeoTIFF) Close() error { return f.file.Close() }

// ReadWindow implements Reader.
func (f *GeoTIFF) ReadWindow(ctx context.Context, row0, col0, nrows, ncols int, fill float64) (Window, error) {
	if f.meta.NoData != nil {
		fill = *f.meta.NoData
	}
	out := fillWindow(nrows, ncols, fill)

	srcRow, srcCol, dstRow, dstCol, validRows, validCols := clipWindow(row0, col0, nrows, ncols, f.meta.Width, f.meta.Height)
	if validRows == 0 || validCols == 0 {
		return out, nil
	}

	firstBlockRow := srcRow / f.blockHeight
	lastBlockRow := (srcRow + validRows - 1) / f.blockHeight
	firstBlockCol := srcCol / f.blockWidth
	lastBlockCol := (srcCol + validCols - 1) / f.blockWidth

	for blockRow := firstBlockRow; blockRow <= lastBlockRow; blockRow++ {
		for blockCol := firstBlockCol; blockCol <= lastBlockCol; blockCol++ {
			samples, err := f.getBlockCached(ctx, blockCoord{col: blockCol, row: blockRow})
			if err != nil {
				return Window{}, err
			}
			if samples == nil {
				continue // block fully out of image bounds (trailing partial block).
			}
			f.copyBlockIntoWindow(samples, blockRow, blockCol, srcRow, srcCol, dstRow, dstCol, validRows, validCols, out)
		}
	}
	return out, nil
}

// copyBlockIntoWindow copies the portion of a decoded block that falls
// within [srcRow,srcRow+validRows) x [srcCol,srcCol+validCols) into out.
func (f *GeoTIFF) copyBlockIntoWindow(samples []float64, blockRow, blockCol, srcRow, srcCol, dstRow, dstCol, validRows, validCols int, out Window) {
	blockRowStart := blockRow * f.blockHeight
	blockColStart := blockCol * f.blockWidth

	rowLo := max(srcRow, blockRowStart)
	rowHi := min(srcRow+validRows, blockRowStart+f.blockHeight)
	colLo := max(srcCol, blockColStart)
	colHi := min(srcCol+validCols, blockColStart+f.blockWidth)

	for row := rowLo; row < rowHi; row++ {
		outRow := dstRow + (row - srcRow)
		localRow := row - blockRowStart
		for col := colLo; col < colHi; col++ {
			outCol := dstCol + (col - srcCol)
			localCol := col - blockColStart
			out.Data[outRow*out.Cols+outCol] = samples[localRow*f.blockWidth+localCol]
		}
	}
}

// getBlockCached returns the decoded samples for coord, or nil if the block
// lies entirely outside the image (a trailing partial tile row/column).
func (f *GeoTIFF) getBlockCached(ctx context.Context, coord blockCoord) ([]float64, error) {
	if coord.col*f.blockWidth >= f.meta.Width || coord.row*f.blockHeight >= f.meta.Height {
		return nil, nil
	}
	if _, ok := f.blockCache.GetIfPresent(coord); ok {
		metrics.BlockCacheHits.Inc()
	} else {
		metrics.BlockCacheMisses.Inc()
	}
	return f.blockCache.Get(ctx, coord, otter.LoaderFunc[blockCoord, []float64](f.decodeBlock))
}

func (f *GeoTIFF) decodeBlock(ctx context.Context, coord blockCoord) ([]float64, error) {
	index := coord.row*f.blocksAcross + coord.col
	offset, byteCount := f.blockOffsets[index], f.blockCounts[index]

	compressed := make([]byte, byteCount)
	if n, err := f.file.ReadAt(compressed, int64(offset)); err != nil || n != int(byteCount) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, &IOError{Path: f.meta.Path, Err: err}
	}

	// The last strip of a stripped (non-tiled) GeoTIFF is almost always
	// shorter than RowsPerStrip, since TIFF strips are never padded to a
	// uniform height the way tiles are; size the decompression target to
	// this block's actual row count, not the nominal full-block size.
	rows := f.blockHeight
	if remaining := f.meta.Height - coord.row*f.blockHeight; remaining < rows {
		rows = remaining
	}
	want := rows * f.blockWidth * f.bits / 8

	raw, err := f.decompress(compressed, want)
	if err != nil {
		return nil, &IOError{Path: f.meta.Path, Err: err}
	}
	return f.decodeSamples(raw), nil
}

func (f *GeoTIFF) decompress(compressed []byte, want int) ([]byte, error) {
	switch f.compression {
	case compressionNone:
		return compressed, nil
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(compressed), lzw.MSB, 8)
		return readExactly(r, want)
	case compressionDeflateOld, compressionDeflateOld2:
		r, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readExactly(r, want)
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedFormat, f.compression)
	}
}

func readExactly(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := r.Read(buf[read:])
		read += m
		if err != nil {
			if errors.Is(err, io.EOF) && read == n {
				break
			}
			return nil, err
		}
	}
	return buf, nil
}

func (f *GeoTIFF) decodeSamples(raw []byte) []float64 {
	bytesPerSample := f.bits / 8
	n := len(raw) / bytesPerSample
	samples := make([]float64, n)
	for i := range samples {
		chunk := raw[i*bytesPerSample : (i+1)*bytesPerSample]
		switch {
		case f.isFloat:
			samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case f.bits == 16 && f.signed:
			samples[i] = float64(int16(binary.LittleEndian.Uint16(chunk)))
		case f.bits == 16:
			samples[i] = float64(binary.LittleEndian.Uint16(chunk))
		case f.bits == 32 && f.signed:
			samples[i] = float64(int32(binary.LittleEndian.Uint32(chunk)))
		default:
			samples[i] = float64(binary.LittleEndian.Uint32(chunk))
		}
	}
	return samples
}
