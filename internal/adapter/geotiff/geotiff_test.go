package geotiff

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/striga-risk/internal/domain"
)

var malawiGrid = domain.GeoTransform{OriginX: 33, PixelWidth: 0.5, OriginY: -9, PixelHeight: -0.5}

func ptr(v float64) *float64 { return &v }

func writeFixture(t *testing.T, name string, g Grid, opts EncodeOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, WriteFile(path, g, opts))
	return path
}

func TestWriteThenOpen_SingleBand(t *testing.T) {
	g := Grid{Width: 4, Height: 3, Bands: [][]float64{{
		0.1, 0.2, 0.3, 0.4,
		0.5, 0.6, -9999, 0.8,
		0.9, 1.0, 0.25, 0.75,
	}}}
	path := writeFixture(t, "soil.tif", g, EncodeOptions{Transform: malawiGrid, EPSG: 4326, NoData: ptr(-9999)})

	r, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, "EPSG:4326", r.CRS())
	assert.Equal(t, 1, r.BandCount())
	w, h := r.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)
	assert.Equal(t, malawiGrid, r.Transform())
	assert.Equal(t, domain.Bounds{Left: 33, Bottom: -10.5, Right: 35, Top: -9}, r.Bounds())
	assert.Equal(t, path, r.Path())

	nodata, ok := r.NoData()
	require.True(t, ok)
	assert.Equal(t, -9999.0, nodata)

	v, err := r.ReadPixel(1, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v, 1e-6)

	s, err := domain.Sample(r, 33.7, -9.7, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RasterSample{Value: 0.6, Valid: true}, s)

	s, err = domain.Sample(r, 34.2, -9.7, 1)
	require.NoError(t, err)
	assert.False(t, s.Valid)
}

func TestWriteThenOpen_DeflateMultiband(t *testing.T) {
	g := Grid{Width: 2, Height: 2, Bands: [][]float64{
		{1, 2, 3, 4},
		{10, 20, 30, 40},
		{-1, -2, -3, -4},
	}}
	path := writeFixture(t, "stack.tiff", g, EncodeOptions{Transform: malawiGrid, EPSG: 4326, Compression: Deflate})

	r, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 3, r.BandCount())
	_, hasNoData := r.NoData()
	assert.False(t, hasNoData)

	for band, want := range map[int]float64{1: 4, 2: 40, 3: -4} {
		v, err := r.ReadPixel(band, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, want, v, "band %d", band)
	}
}

func TestWriteThenOpen_RotatedProjected(t *testing.T) {
	rotated := domain.GeoTransform{OriginX: 500000, PixelWidth: 30, RowRotation: 5, OriginY: 8500000, ColRotation: -5, PixelHeight: -30}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Grid{Width: 1, Height: 1, Bands: [][]float64{{7}}}, EncodeOptions{Transform: rotated, EPSG: 32736}))

	r, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32736", r.CRS())
	assert.Equal(t, rotated, r.Transform())
}

func TestOpen_WithoutCRS(t *testing.T) {
	path := writeFixture(t, "bare.tif", Grid{Width: 2, Height: 2, Bands: [][]float64{{1, 2, 3, 4}}}, EncodeOptions{Transform: malawiGrid})

	r, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, r.CRS())

	_, err = domain.Sample(r, 33.2, -9.2, 1)
	require.ErrorIs(t, err, domain.ErrMissingCRS)
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "habitat.png")
	require.NoError(t, os.WriteFile(png, []byte("not a tiff"), 0o644))
	bigTIFF := filepath.Join(dir, "big.tif")
	require.NoError(t, os.WriteFile(bigTIFF, []byte{'I', 'I', 43, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 0o644))
	garbage := filepath.Join(dir, "garbage.tif")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a TIFF"), 0o644))

	tests := []struct {
		name     string
		path     string
		expected error
	}{
		{"missing file", filepath.Join(dir, "nope.tif"), domain.ErrResourceNotFound},
		{"missing file with wrong extension", filepath.Join(dir, "nope.png"), domain.ErrResourceNotFound},
		{"wrong extension", png, domain.ErrUnsupportedFormat},
		{"bigtiff", bigTIFF, domain.ErrUnsupportedFormat},
		{"not a tiff", garbage, domain.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.path)
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestReadPixel_Bounds(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Grid{Width: 2, Height: 2, Bands: [][]float64{{1, 2, 3, 4}}}, EncodeOptions{Transform: malawiGrid, EPSG: 4326}))
	r, err := Decode(buf.Bytes())
	require.NoError(t, err)

	_, err = r.ReadPixel(2, 0, 0)
	require.ErrorIs(t, err, domain.ErrBandOutOfRange)
	_, err = r.ReadPixel(1, 2, 0)
	require.Error(t, err)
}

// --- hand-built TIFFs exercising reader paths Encode never produces ---

func geoTags(epsg uint16, rasterType uint16) []ifdEntry {
	return []ifdEntry{
		doubleEntry(tagModelPixelScale, 0.5, 0.5, 0),
		doubleEntry(tagModelTiepoint, 0, 0, 0, 33, -9, 0),
		shortEntry(tagGeoKeyDirectory,
			1, 1, 0, 3,
			keyModelType, 0, 1, 2,
			keyRasterType, 0, 1, rasterType,
			keyGeographicType, 0, 1, epsg,
		),
	}
}

func build(t *testing.T, entries []ifdEntry, chunks [][]byte, offsetsTag uint16) *Raster {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeTIFF(&buf, entries, chunks, offsetsTag))
	r, err := Decode(buf.Bytes())
	require.NoError(t, err)
	return r
}

func TestDecode_Uint16PredictorShortLastStrip(t *testing.T) {
	value := func(r, c int) uint16 { return uint16(100*r + 10*c + 1) }
	row := func(r int) []byte {
		var out []byte
		prev := uint16(0)
		for c := range 3 {
			v := value(r, c)
			out = binary.LittleEndian.AppendUint16(out, v-prev)
			prev = v
		}
		return out
	}
	strip0 := append(row(0), row(1)...)
	strip1 := row(2)

	entries := append([]ifdEntry{
		longEntry(tagImageWidth, 3),
		longEntry(tagImageLength, 3),
		shortEntry(tagBitsPerSample, 16),
		shortEntry(tagCompression, compressionNone),
		shortEntry(tagPredictor, predictorHorizontal),
		longEntry(tagStripOffsets, 0, 0),
		longEntry(tagRowsPerStrip, 2),
		longEntry(tagStripByteCounts, uint32(len(strip0)), uint32(len(strip1))),
	}, geoTags(4326, 1)...)
	r := build(t, entries, [][]byte{strip0, strip1}, tagStripOffsets)

	for rr := range 3 {
		for c := range 3 {
			v, err := r.ReadPixel(1, rr, c)
			require.NoError(t, err)
			assert.Equal(t, float64(value(rr, c)), v, "row %d col %d", rr, c)
		}
	}

	// Repeated reads must not re-apply the predictor.
	v, err := r.ReadPixel(1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, float64(value(2, 2)), v)
}

func TestDecode_PlanarSeparate(t *testing.T) {
	entries := append([]ifdEntry{
		longEntry(tagImageWidth, 2),
		longEntry(tagImageLength, 2),
		shortEntry(tagBitsPerSample, 8, 8),
		shortEntry(tagSamplesPerPixel, 2),
		shortEntry(tagPlanarConfiguration, planarSeparate),
		longEntry(tagStripOffsets, 0, 0),
		longEntry(tagStripByteCounts, 4, 4),
	}, geoTags(4326, 1)...)
	r := build(t, entries, [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}, tagStripOffsets)

	v, err := r.ReadPixel(1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
	v, err = r.ReadPixel(2, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestDecode_TiledSignedLZW(t *testing.T) {
	value := func(r, c int) int16 { return int16(-(r*3 + c)) }
	var tiles [][]byte
	for tr := range 2 {
		for tc := range 2 {
			var raw []byte
			for rr := range 2 {
				for cc := range 2 {
					r, c := tr*2+rr, tc*2+cc
					v := int16(0)
					if r < 3 && c < 3 {
						v = value(r, c)
					}
					raw = binary.LittleEndian.AppendUint16(raw, uint16(v))
				}
			}
			var buf bytes.Buffer
			zw := lzw.NewWriter(&buf, lzw.MSB, 8)
			_, err := zw.Write(raw)
			require.NoError(t, err)
			require.NoError(t, zw.Close())
			tiles = append(tiles, buf.Bytes())
		}
	}

	counts := make([]uint32, len(tiles))
	for i, tile := range tiles {
		counts[i] = uint32(len(tile))
	}
	entries := append([]ifdEntry{
		longEntry(tagImageWidth, 3),
		longEntry(tagImageLength, 3),
		shortEntry(tagBitsPerSample, 16),
		shortEntry(tagCompression, compressionLZW),
		shortEntry(tagSampleFormat, sampleFormatInt),
		longEntry(tagTileWidth, 2),
		longEntry(tagTileLength, 2),
		longEntry(tagTileOffsets, 0, 0, 0, 0),
		longEntry(tagTileByteCounts, counts...),
	}, geoTags(4326, 1)...)
	r := build(t, entries, tiles, tagTileOffsets)

	for rr := range 3 {
		for c := range 3 {
			v, err := r.ReadPixel(1, rr, c)
			require.NoError(t, err)
			assert.Equal(t, float64(value(rr, c)), v, "row %d col %d", rr, c)
		}
	}
}

func TestDecode_PixelIsPointShiftsOrigin(t *testing.T) {
	entries := append([]ifdEntry{
		longEntry(tagImageWidth, 1),
		longEntry(tagImageLength, 1),
		shortEntry(tagBitsPerSample, 8),
		longEntry(tagStripOffsets, 0),
		longEntry(tagStripByteCounts, 1),
	}, geoTags(4326, rasterPixelIsPoint)...)
	r := build(t, entries, [][]byte{{9}}, tagStripOffsets)

	assert.Equal(t, domain.GeoTransform{OriginX: 32.75, PixelWidth: 0.5, OriginY: -8.75, PixelHeight: -0.5}, r.Transform())
}

func TestDecode_UnsupportedFeatures(t *testing.T) {
	base := func(extra ...ifdEntry) []ifdEntry {
		return append([]ifdEntry{
			longEntry(tagImageWidth, 1),
			longEntry(tagImageLength, 1),
			longEntry(tagStripOffsets, 0),
			longEntry(tagStripByteCounts, 4),
		}, extra...)
	}
	tests := []struct {
		name    string
		entries []ifdEntry
	}{
		{"jpeg compression", base(shortEntry(tagBitsPerSample, 8), shortEntry(tagCompression, 7))},
		{"floating point predictor", base(shortEntry(tagBitsPerSample, 32), shortEntry(tagSampleFormat, sampleFormatIEEEFloat), shortEntry(tagPredictor, 3))},
		{"12-bit samples", base(shortEntry(tagBitsPerSample, 12))},
		{"16-bit float", base(shortEntry(tagBitsPerSample, 16), shortEntry(tagSampleFormat, sampleFormatIEEEFloat))},
		{"bits per sample stored as double", base(doubleEntry(tagBitsPerSample, 32))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeTIFF(&buf, tt.entries, [][]byte{{0, 0, 0, 0}}, tagStripOffsets))
			_, err := Decode(buf.Bytes())
			require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
		})
	}
}
