package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/couchcryptid/striga-risk/internal/domain"
)

// Compression selects how Encode stores pixel data.
type Compression int

const (
	None Compression = iota
	Deflate
)

// EncodeOptions describes the georeferencing of an encoded raster.
type EncodeOptions struct {
	Transform   domain.GeoTransform
	EPSG        int // 0 writes no GeoKeyDirectory, leaving the raster without a CRS
	NoData      *float64
	Compression Compression
}

// Grid is a set of equally sized bands in row-major order.
type Grid struct {
	Width, Height int
	Bands         [][]float64
}

// Encode writes g as a float32 little-endian GeoTIFF with a single strip.
func Encode(w io.Writer, g Grid, opts EncodeOptions) error {
	pixels, err := g.pixels()
	if err != nil {
		return err
	}
	switch opts.Compression {
	case None:
		return encode(w, g, opts, pixels, compressionNone)
	case Deflate:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(pixels); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		return encode(w, g, opts, buf.Bytes(), compressionDeflate)
	default:
		return fmt.Errorf("unknown compression %d", opts.Compression)
	}
}

// WriteFile encodes g to path, creating parent directories as needed.
func WriteFile(path string, g Grid, opts EncodeOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create raster dir: %w", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, g, opts); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// pixels interleaves the bands as float32 samples.
func (g Grid) pixels() ([]byte, error) {
	if g.Width <= 0 || g.Height <= 0 || len(g.Bands) == 0 {
		return nil, errors.New("grid must have positive dimensions and at least one band")
	}
	n := g.Width * g.Height
	for i, b := range g.Bands {
		if len(b) != n {
			return nil, fmt.Errorf("band %d has %d values, want %d", i+1, len(b), n)
		}
	}
	out := make([]byte, 0, n*len(g.Bands)*4)
	for i := range n {
		for _, b := range g.Bands {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(b[i])))
		}
	}
	return out, nil
}

func encode(w io.Writer, g Grid, opts EncodeOptions, strip []byte, compression uint16) error {
	spp := uint16(len(g.Bands))
	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(g.Width)),
		longEntry(tagImageLength, uint32(g.Height)),
		shortEntry(tagBitsPerSample, repeat(32, spp)...),
		shortEntry(tagCompression, compression),
		shortEntry(tagPhotometricInterpretation, photometricBlackIsZero),
		longEntry(tagStripOffsets, 0),
		shortEntry(tagSamplesPerPixel, spp),
		longEntry(tagRowsPerStrip, uint32(g.Height)),
		longEntry(tagStripByteCounts, uint32(len(strip))),
		shortEntry(tagPlanarConfiguration, planarChunky),
		shortEntry(tagSampleFormat, repeat(sampleFormatIEEEFloat, spp)...),
	}
	entries = append(entries, geoEntries(opts)...)
	return writeTIFF(w, entries, [][]byte{strip}, tagStripOffsets)
}

func geoEntries(opts EncodeOptions) []ifdEntry {
	t := opts.Transform
	var out []ifdEntry
	if t.RowRotation == 0 && t.ColRotation == 0 {
		out = append(out,
			doubleEntry(tagModelPixelScale, t.PixelWidth, -t.PixelHeight, 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, t.OriginX, t.OriginY, 0),
		)
	} else {
		out = append(out, doubleEntry(tagModelTransformation,
			t.PixelWidth, t.RowRotation, 0, t.OriginX,
			t.ColRotation, t.PixelHeight, 0, t.OriginY,
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}

	if opts.EPSG > 0 {
		modelType, crsKey := uint16(1), uint16(keyProjectedType)
		if opts.EPSG >= 4000 && opts.EPSG < 5000 {
			modelType, crsKey = 2, keyGeographicType
		}
		out = append(out, shortEntry(tagGeoKeyDirectory,
			1, 1, 0, 3,
			keyModelType, 0, 1, modelType,
			keyRasterType, 0, 1, 1,
			crsKey, 0, 1, uint16(opts.EPSG),
		))
	}
	if opts.NoData != nil {
		out = append(out, asciiEntry(tagGDALNoData, strconv.FormatFloat(*opts.NoData, 'g', -1, 64)))
	}
	return out
}

func repeat(v, n uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// --- IFD writing ---

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shortEntry(tag uint16, vals ...uint16) ifdEntry {
	data := make([]byte, 0, len(vals)*2)
	for _, v := range vals {
		data = binary.LittleEndian.AppendUint16(data, v)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint32(len(vals)), data: data}
}

func longEntry(tag uint16, vals ...uint32) ifdEntry {
	data := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		data = binary.LittleEndian.AppendUint32(data, v)
	}
	return ifdEntry{tag: tag, typ: typeLong, count: uint32(len(vals)), data: data}
}

func doubleEntry(tag uint16, vals ...float64) ifdEntry {
	data := make([]byte, 0, len(vals)*8)
	for _, v := range vals {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: data}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}

// writeTIFF lays out a little-endian TIFF: header, one IFD, out-of-line
// values, then the chunks. offsetsTag is patched with the chunk offsets.
func writeTIFF(w io.Writer, entries []ifdEntry, chunks [][]byte, offsetsTag uint16) error {
	slices.SortFunc(entries, func(a, b ifdEntry) int { return int(a.tag) - int(b.tag) })

	const headerSize = 8
	ifdSize := 2 + 12*len(entries) + 4
	next := uint32(headerSize + ifdSize)

	valueOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			next += next & 1
			valueOffsets[i] = next
			next += uint32(len(e.data))
		}
	}

	chunkOffsets := make([]uint32, len(chunks))
	for i, c := range chunks {
		next += next & 1
		chunkOffsets[i] = next
		next += uint32(len(c))
	}
	for i, e := range entries {
		if e.tag != offsetsTag {
			continue
		}
		patched := longEntry(e.tag, chunkOffsets...)
		entries[i].data = patched.data
		if len(patched.data) > 4 && valueOffsets[i] == 0 {
			return errors.New("chunk offset table must be sized before layout")
		}
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("II")
	buf.Write(le.AppendUint16(nil, 42))
	buf.Write(le.AppendUint32(nil, headerSize))

	buf.Write(le.AppendUint16(nil, uint16(len(entries))))
	for i, e := range entries {
		buf.Write(le.AppendUint16(nil, e.tag))
		buf.Write(le.AppendUint16(nil, e.typ))
		buf.Write(le.AppendUint32(nil, e.count))
		if len(e.data) > 4 {
			buf.Write(le.AppendUint32(nil, valueOffsets[i]))
			continue
		}
		var inline [4]byte
		copy(inline[:], e.data)
		buf.Write(inline[:])
	}
	buf.Write(le.AppendUint32(nil, 0))

	pad := func() {
		if buf.Len()&1 == 1 {
			buf.WriteByte(0)
		}
	}
	for _, e := range entries {
		if len(e.data) > 4 {
			pad()
			buf.Write(e.data)
		}
	}
	for _, c := range chunks {
		pad()
		buf.Write(c)
	}

	_, err := w.Write(buf.Bytes())
	return err
}
