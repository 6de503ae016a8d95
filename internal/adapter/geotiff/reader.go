// Package geotiff reads and writes single-image GeoTIFF rasters. It covers
// what environmental suitability layers are typically published as: classic
// TIFF, strips or tiles, uncompressed, LZW or Deflate, integer or floating
// point samples, with the grid georeferenced through the GeoTIFF model tags.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/tiff/lzw"

	"github.com/couchcryptid/striga-risk/internal/domain"
)

// decodedChunks bounds how many decompressed strips or tiles a raster keeps.
const decodedChunks = 64

// Raster is an opened GeoTIFF held in memory. It implements domain.Raster and
// is safe for concurrent reads.
type Raster struct {
	path  string
	data  []byte
	order binary.ByteOrder

	width, height int
	bands         int
	bitsPerSample int
	sampleFormat  int
	compression   int
	predictor     int
	planar        int

	tiled          bool
	chunkW, chunkH int
	across, down   int
	offsets        []uint64
	counts         []uint64

	transform domain.GeoTransform
	crs       string
	nodata    float64
	hasNoData bool

	chunks *lru.Cache[int, []byte]
}

// Open reads the GeoTIFF at path. It fails with domain.ErrResourceNotFound
// when the file does not exist and domain.ErrUnsupportedFormat when it is not
// a .tif/.tiff file or uses a TIFF feature this reader does not handle.
func Open(path string) (*Raster, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, path)
		}
		return nil, fmt.Errorf("stat raster: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
	default:
		return nil, fmt.Errorf("%w: %s is not a GeoTIFF file", domain.ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	r, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.path = path
	return r, nil
}

// Decode parses an in-memory GeoTIFF. Only the first image is read.
func Decode(data []byte) (*Raster, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: file too short for a TIFF header", domain.ErrUnsupportedFormat)
	}

	r := &Raster{data: data}
	switch string(data[:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: missing TIFF byte-order mark", domain.ErrUnsupportedFormat)
	}
	switch magic := r.order.Uint16(data[2:4]); magic {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF is not supported", domain.ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: bad TIFF magic %d", domain.ErrUnsupportedFormat, magic)
	}

	ifd, err := r.readIFD(r.order.Uint32(data[4:8]))
	if err != nil {
		return nil, err
	}
	if err := r.parseImage(ifd); err != nil {
		return nil, err
	}
	if err := r.parseGeo(ifd); err != nil {
		return nil, err
	}

	r.chunks, err = lru.New[int, []byte](decodedChunks)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Raster) CRS() string { return r.crs }

func (r *Raster) BandCount() int { return r.bands }

func (r *Raster) Size() (width, height int) { return r.width, r.height }

func (r *Raster) Transform() domain.GeoTransform { return r.transform }

// NoData returns the GDAL_NODATA sentinel, cast to the sample type.
func (r *Raster) NoData() (float64, bool) { return r.nodata, r.hasNoData }

// Path returns the file the raster was opened from, if any.
func (r *Raster) Path() string { return r.path }

// Bounds returns the raster extent in its native CRS.
func (r *Raster) Bounds() domain.Bounds {
	return domain.RasterBounds(r.transform, r.width, r.height)
}

// ReadPixel returns the value of a 1-based band at (row, col).
func (r *Raster) ReadPixel(band, row, col int) (float64, error) {
	if band < 1 || band > r.bands {
		return 0, fmt.Errorf("%w: band %d, raster has %d band(s)", domain.ErrBandOutOfRange, band, r.bands)
	}
	if row < 0 || row >= r.height || col < 0 || col >= r.width {
		return 0, fmt.Errorf("pixel (%d, %d) outside %dx%d grid", row, col, r.width, r.height)
	}

	idx := (row/r.chunkH)*r.across + col/r.chunkW
	perPixel := r.bands
	sample := band - 1
	if r.planar == planarSeparate {
		idx += (band - 1) * r.across * r.down
		perPixel = 1
		sample = 0
	}

	chunk, err := r.chunk(idx)
	if err != nil {
		return 0, err
	}
	bps := r.bitsPerSample / 8
	off := (((row%r.chunkH)*r.chunkW+col%r.chunkW)*perPixel + sample) * bps
	if off+bps > len(chunk) {
		return 0, fmt.Errorf("chunk %d is truncated", idx)
	}
	return r.decodeSample(chunk[off : off+bps]), nil
}

// chunk returns the decompressed strip or tile idx.
func (r *Raster) chunk(idx int) ([]byte, error) {
	if buf, ok := r.chunks.Get(idx); ok {
		return buf, nil
	}
	if idx >= len(r.offsets) || idx >= len(r.counts) {
		return nil, fmt.Errorf("chunk %d missing from offset table", idx)
	}
	start, n := r.offsets[idx], r.counts[idx]
	if start+n > uint64(len(r.data)) {
		return nil, fmt.Errorf("chunk %d extends past end of file", idx)
	}
	raw := r.data[start : start+n]

	perPixel := r.bands
	if r.planar == planarSeparate {
		perPixel = 1
	}
	rows := r.chunkH
	if !r.tiled {
		// The last strip may be short.
		stripRow := (idx % (r.across * r.down)) * r.chunkH
		rows = min(r.chunkH, r.height-stripRow)
	}
	size := r.chunkW * rows * perPixel * r.bitsPerSample / 8

	buf, err := r.decompress(raw, size)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %d: %w", idx, err)
	}
	if r.predictor == predictorHorizontal {
		r.undoHorizontalPredictor(buf, perPixel)
	}
	r.chunks.Add(idx, buf)
	return buf, nil
}

func (r *Raster) decompress(raw []byte, size int) ([]byte, error) {
	switch r.compression {
	case compressionNone:
		if len(raw) < size {
			return nil, fmt.Errorf("expected %d bytes, have %d", size, len(raw))
		}
		// Copied so the predictor never rewrites the file buffer.
		return bytes.Clone(raw[:size]), nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		return readExactly(rc, size)
	case compressionDeflate, compressionDeflateOld:
		rc, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return readExactly(rc, size)
	default:
		return nil, fmt.Errorf("%w: compression %d", domain.ErrUnsupportedFormat, r.compression)
	}
}

func readExactly(rd io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place: each sample
// was stored as the difference from the same sample of the previous pixel.
func (r *Raster) undoHorizontalPredictor(buf []byte, perPixel int) {
	bps := r.bitsPerSample / 8
	rowBytes := r.chunkW * perPixel * bps
	for rowStart := 0; rowStart+rowBytes <= len(buf); rowStart += rowBytes {
		row := buf[rowStart : rowStart+rowBytes]
		for i := perPixel * bps; i < len(row); i += bps {
			prev := i - perPixel*bps
			switch bps {
			case 1:
				row[i] += row[prev]
			case 2:
				r.order.PutUint16(row[i:], r.order.Uint16(row[i:])+r.order.Uint16(row[prev:]))
			case 4:
				r.order.PutUint32(row[i:], r.order.Uint32(row[i:])+r.order.Uint32(row[prev:]))
			case 8:
				r.order.PutUint64(row[i:], r.order.Uint64(row[i:])+r.order.Uint64(row[prev:]))
			}
		}
	}
}

func (r *Raster) decodeSample(b []byte) float64 {
	switch r.sampleFormat {
	case sampleFormatIEEEFloat:
		if len(b) == 4 {
			return float64(math.Float32frombits(r.order.Uint32(b)))
		}
		return math.Float64frombits(r.order.Uint64(b))
	case sampleFormatInt:
		switch len(b) {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(r.order.Uint16(b)))
		case 4:
			return float64(int32(r.order.Uint32(b)))
		default:
			return float64(int64(r.order.Uint64(b)))
		}
	default:
		switch len(b) {
		case 1:
			return float64(b[0])
		case 2:
			return float64(r.order.Uint16(b))
		case 4:
			return float64(r.order.Uint32(b))
		default:
			return float64(r.order.Uint64(b))
		}
	}
}

// --- IFD parsing ---

type field struct {
	typ   uint16
	count uint32
	raw   []byte
}

type ifd map[uint16]field

func (r *Raster) readIFD(offset uint32) (ifd, error) {
	data := r.data
	if uint64(offset)+2 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: IFD offset %d past end of file", domain.ErrUnsupportedFormat, offset)
	}
	n := int(r.order.Uint16(data[offset:]))
	end := uint64(offset) + 2 + uint64(n)*12
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("%w: truncated IFD", domain.ErrUnsupportedFormat)
	}

	out := make(ifd, n)
	for i := range n {
		e := data[int(offset)+2+i*12:]
		tag := r.order.Uint16(e[0:2])
		typ := r.order.Uint16(e[2:4])
		count := r.order.Uint32(e[4:8])
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			at := uint64(r.order.Uint32(e[8:12]))
			if at+total > uint64(len(data)) {
				return nil, fmt.Errorf("%w: tag %d value past end of file", domain.ErrUnsupportedFormat, tag)
			}
			raw = data[at : at+total]
		}
		out[tag] = field{typ: typ, count: count, raw: raw}
	}
	return out, nil
}

// uints decodes an integer-typed field.
func (r *Raster) uints(f field) []uint64 {
	out := make([]uint64, 0, f.count)
	for i := range int(f.count) {
		switch f.typ {
		case typeByte, typeUndefined:
			out = append(out, uint64(f.raw[i]))
		case typeShort:
			out = append(out, uint64(r.order.Uint16(f.raw[i*2:])))
		case typeLong:
			out = append(out, uint64(r.order.Uint32(f.raw[i*4:])))
		}
	}
	return out
}

// floats decodes a numeric field as float64.
func (r *Raster) floats(f field) []float64 {
	out := make([]float64, 0, f.count)
	for i := range int(f.count) {
		switch f.typ {
		case typeDouble:
			out = append(out, math.Float64frombits(r.order.Uint64(f.raw[i*8:])))
		case typeFloat:
			out = append(out, float64(math.Float32frombits(r.order.Uint32(f.raw[i*4:]))))
		case typeShort:
			out = append(out, float64(r.order.Uint16(f.raw[i*2:])))
		case typeLong:
			out = append(out, float64(r.order.Uint32(f.raw[i*4:])))
		}
	}
	return out
}

func (r *Raster) uintTag(d ifd, tag uint16, def uint64) uint64 {
	f, ok := d[tag]
	if !ok {
		return def
	}
	if v := r.uints(f); len(v) > 0 {
		return v[0]
	}
	return def
}

func (r *Raster) parseImage(d ifd) error {
	r.width = int(r.uintTag(d, tagImageWidth, 0))
	r.height = int(r.uintTag(d, tagImageLength, 0))
	if r.width <= 0 || r.height <= 0 {
		return fmt.Errorf("%w: missing image dimensions", domain.ErrUnsupportedFormat)
	}
	r.bands = int(r.uintTag(d, tagSamplesPerPixel, 1))
	r.compression = int(r.uintTag(d, tagCompression, compressionNone))
	r.predictor = int(r.uintTag(d, tagPredictor, predictorNone))
	r.planar = int(r.uintTag(d, tagPlanarConfiguration, planarChunky))
	r.sampleFormat = int(r.uintTag(d, tagSampleFormat, sampleFormatUint))

	bits := []uint64{1}
	if f, ok := d[tagBitsPerSample]; ok && f.count > 0 {
		bits = r.uints(f)
	}
	if len(bits) == 0 {
		return fmt.Errorf("%w: non-integer bits per sample", domain.ErrUnsupportedFormat)
	}
	for _, b := range bits[1:] {
		if b != bits[0] {
			return fmt.Errorf("%w: mixed bits per sample", domain.ErrUnsupportedFormat)
		}
	}
	r.bitsPerSample = int(bits[0])

	switch {
	case r.bitsPerSample != 8 && r.bitsPerSample != 16 && r.bitsPerSample != 32 && r.bitsPerSample != 64:
		return fmt.Errorf("%w: %d bits per sample", domain.ErrUnsupportedFormat, r.bitsPerSample)
	case r.sampleFormat == sampleFormatIEEEFloat && r.bitsPerSample < 32:
		return fmt.Errorf("%w: %d-bit floating point", domain.ErrUnsupportedFormat, r.bitsPerSample)
	case r.sampleFormat < sampleFormatUint || r.sampleFormat > sampleFormatIEEEFloat:
		return fmt.Errorf("%w: sample format %d", domain.ErrUnsupportedFormat, r.sampleFormat)
	case r.compression != compressionNone && r.compression != compressionLZW &&
		r.compression != compressionDeflate && r.compression != compressionDeflateOld:
		return fmt.Errorf("%w: compression %d", domain.ErrUnsupportedFormat, r.compression)
	case r.predictor != predictorNone && r.predictor != predictorHorizontal:
		return fmt.Errorf("%w: predictor %d", domain.ErrUnsupportedFormat, r.predictor)
	case r.planar != planarChunky && r.planar != planarSeparate:
		return fmt.Errorf("%w: planar configuration %d", domain.ErrUnsupportedFormat, r.planar)
	}

	if _, r.tiled = d[tagTileWidth]; r.tiled {
		r.chunkW = int(r.uintTag(d, tagTileWidth, 0))
		r.chunkH = int(r.uintTag(d, tagTileLength, 0))
		r.offsets = r.uints(d[tagTileOffsets])
		r.counts = r.uints(d[tagTileByteCounts])
	} else {
		r.chunkW = r.width
		r.chunkH = min(int(r.uintTag(d, tagRowsPerStrip, uint64(r.height))), r.height)
		r.offsets = r.uints(d[tagStripOffsets])
		r.counts = r.uints(d[tagStripByteCounts])
	}
	if r.chunkW <= 0 || r.chunkH <= 0 {
		return fmt.Errorf("%w: invalid strip or tile size", domain.ErrUnsupportedFormat)
	}
	r.across = (r.width + r.chunkW - 1) / r.chunkW
	r.down = (r.height + r.chunkH - 1) / r.chunkH

	want := r.across * r.down
	if r.planar == planarSeparate {
		want *= r.bands
	}
	if len(r.offsets) < want || len(r.counts) < want {
		return fmt.Errorf("%w: expected %d chunks, offset table has %d", domain.ErrUnsupportedFormat, want, len(r.offsets))
	}
	return nil
}

func (r *Raster) parseGeo(d ifd) error {
	r.transform = domain.GeoTransform{PixelWidth: 1, PixelHeight: 1}

	if f, ok := d[tagModelTransformation]; ok {
		m := r.floats(f)
		if len(m) < 16 {
			return fmt.Errorf("%w: short ModelTransformation", domain.ErrUnsupportedFormat)
		}
		r.transform = domain.GeoTransform{
			OriginX: m[3], PixelWidth: m[0], RowRotation: m[1],
			OriginY: m[7], ColRotation: m[4], PixelHeight: m[5],
		}
	} else if tf, ok := d[tagModelTiepoint]; ok {
		tie := r.floats(tf)
		scale := []float64{1, 1, 0}
		if sf, ok := d[tagModelPixelScale]; ok {
			scale = r.floats(sf)
		}
		if len(tie) < 6 || len(scale) < 2 {
			return fmt.Errorf("%w: short ModelTiepoint or ModelPixelScale", domain.ErrUnsupportedFormat)
		}
		r.transform = domain.GeoTransform{
			OriginX:     tie[3] - tie[0]*scale[0],
			PixelWidth:  scale[0],
			OriginY:     tie[4] + tie[1]*scale[1],
			PixelHeight: -scale[1],
		}
	}

	if f, ok := d[tagGeoKeyDirectory]; ok {
		keys := r.geoKeys(f)
		r.crs = crsFromKeys(keys)
		if keys[keyRasterType] == rasterPixelIsPoint {
			// Tie points address pixel centers; shift to the corner.
			x, y := r.transform.Apply(-0.5, -0.5)
			r.transform.OriginX, r.transform.OriginY = x, y
		}
	}

	if f, ok := d[tagGDALNoData]; ok {
		s := strings.Trim(string(f.raw), "\x00 ")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("%w: GDAL_NODATA %q", domain.ErrUnsupportedFormat, s)
		}
		if r.sampleFormat == sampleFormatIEEEFloat && r.bitsPerSample == 32 {
			v = float64(float32(v))
		}
		r.nodata, r.hasNoData = v, true
	}
	return nil
}

// geoKeys returns the SHORT-valued keys of the GeoKeyDirectory.
func (r *Raster) geoKeys(f field) map[uint16]uint16 {
	v := r.uints(f)
	keys := make(map[uint16]uint16)
	if len(v) < 4 {
		return keys
	}
	n := int(v[3])
	for i := range n {
		base := 4 + i*4
		if base+3 >= len(v) {
			break
		}
		// Location 0 means the value is stored inline.
		if v[base+1] == 0 {
			keys[uint16(v[base])] = uint16(v[base+3])
		}
	}
	return keys
}

func crsFromKeys(keys map[uint16]uint16) string {
	for _, k := range []uint16{keyProjectedType, keyGeographicType} {
		if code, ok := keys[k]; ok && code > 0 && code != userDefined {
			return "EPSG:" + strconv.Itoa(int(code))
		}
	}
	if _, ok := keys[keyModelType]; ok {
		return "user-defined"
	}
	return ""
}
