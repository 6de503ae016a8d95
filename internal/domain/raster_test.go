package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fake raster ---

// gridRaster is an in-memory north-up raster: 0.5° pixels with the top-left
// corner at (33°E, 9°S) unless overridden.
type gridRaster struct {
	crs       string
	width     int
	height    int
	bands     [][]float64
	transform GeoTransform
	nodata    *float64
	readErr   error
	reads     int
}

func newGridRaster(width, height int, fill func(row, col int) float64) *gridRaster {
	band := make([]float64, width*height)
	for r := range height {
		for c := range width {
			band[r*width+c] = fill(r, c)
		}
	}
	return &gridRaster{
		crs:       "EPSG:4326",
		width:     width,
		height:    height,
		bands:     [][]float64{band},
		transform: GeoTransform{OriginX: 33, PixelWidth: 0.5, OriginY: -9, PixelHeight: -0.5},
	}
}

func constantRaster(v float64) *gridRaster {
	return newGridRaster(4, 4, func(_, _ int) float64 { return v })
}

func (g *gridRaster) CRS() string             { return g.crs }
func (g *gridRaster) BandCount() int          { return len(g.bands) }
func (g *gridRaster) Size() (int, int)        { return g.width, g.height }
func (g *gridRaster) Transform() GeoTransform { return g.transform }
func (g *gridRaster) NoData() (float64, bool) {
	if g.nodata == nil {
		return 0, false
	}
	return *g.nodata, true
}

func (g *gridRaster) ReadPixel(band, row, col int) (float64, error) {
	g.reads++
	if g.readErr != nil {
		return 0, g.readErr
	}
	return g.bands[band-1][row*g.width+col], nil
}

func withNoData(g *gridRaster, v float64) *gridRaster {
	g.nodata = &v
	return g
}

// --- tests ---

func TestSample_ReadsContainingPixel(t *testing.T) {
	r := newGridRaster(4, 4, func(row, col int) float64 { return float64(row*10 + col) })

	tests := []struct {
		name     string
		lon, lat float64
		expected float64
	}{
		{"top-left pixel", 33.1, -9.1, 0},
		{"row 0 col 1", 33.6, -9.2, 1},
		{"row 2 col 3", 34.9, -10.3, 23},
		{"top-left corner", 33, -9, 0},
		{"bottom-right corner clamps to last pixel", 35, -11, 33},
		{"right edge", 35, -9.7, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Sample(r, tt.lon, tt.lat, 1)
			require.NoError(t, err)
			require.True(t, s.Valid)
			assert.Equal(t, tt.expected, s.Value)
		})
	}
}

func TestSample_RoundsToThreeDecimals(t *testing.T) {
	s, err := Sample(constantRaster(0.123456), 33.5, -9.5, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.123, s.Value)

	s, err = Sample(constantRaster(0.6789), 33.5, -9.5, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.679, s.Value)
}

func TestSample_NoData(t *testing.T) {
	r := withNoData(newGridRaster(4, 4, func(row, col int) float64 {
		if row == 2 && col == 2 {
			return -9999
		}
		return 0
	}), -9999)

	s, err := Sample(r, 34.2, -10.1, 1)
	require.NoError(t, err)
	assert.False(t, s.Valid)
	assert.Equal(t, NoData, s)
	assert.True(t, math.IsNaN(s.Float()))

	// A real zero next to the no-data cell is a value, not no-data.
	s, err = Sample(r, 33.2, -9.2, 1)
	require.NoError(t, err)
	assert.True(t, s.Valid)
	assert.Equal(t, 0.0, s.Float())
}

func TestSample_NaNCellIsNoData(t *testing.T) {
	s, err := Sample(constantRaster(math.NaN()), 33.5, -9.5, 1)
	require.NoError(t, err)
	assert.False(t, s.Valid)
}

func TestSample_Preconditions(t *testing.T) {
	noCRS := constantRaster(1)
	noCRS.crs = ""

	tests := []struct {
		name     string
		raster   *gridRaster
		lon, lat float64
		band     int
		expected error
	}{
		{"missing CRS", noCRS, 33.5, -9.5, 1, ErrMissingCRS},
		{"band zero", constantRaster(1), 33.5, -9.5, 0, ErrBandOutOfRange},
		{"band past count", constantRaster(1), 33.5, -9.5, 2, ErrBandOutOfRange},
		{"west of raster", constantRaster(1), 32.9, -9.5, 1, ErrPointOutOfBounds},
		{"south of raster", constantRaster(1), 33.5, -11.01, 1, ErrPointOutOfBounds},
		{"north of raster", constantRaster(1), 33.5, -8.99, 1, ErrPointOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sample(tt.raster, tt.lon, tt.lat, tt.band)
			require.ErrorIs(t, err, tt.expected)
			assert.Zero(t, tt.raster.reads, "no pixel read on failed precondition")
		})
	}
}

func TestSample_ReadErrorPropagates(t *testing.T) {
	r := constantRaster(1)
	r.readErr = errors.New("corrupt strip")

	_, err := Sample(r, 33.5, -9.5, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt strip")
}

func TestSample_SecondBand(t *testing.T) {
	r := constantRaster(1)
	r.bands = append(r.bands, []float64{
		5, 5, 5, 5,
		5, 7, 5, 5,
		5, 5, 5, 5,
		5, 5, 5, 5,
	})

	s, err := Sample(r, 33.7, -9.7, 2)
	require.NoError(t, err)
	assert.Equal(t, 7.0, s.Value)
}

func TestGeoTransform_IndexInvertsApply(t *testing.T) {
	g := GeoTransform{OriginX: 500000, PixelWidth: 30, RowRotation: 2, OriginY: 9000000, ColRotation: -1.5, PixelHeight: -30}
	for _, rc := range [][2]int{{0, 0}, {5, 7}, {120, 3}, {42, 99}} {
		x, y := g.Apply(float64(rc[1])+0.5, float64(rc[0])+0.5)
		row, col := g.Index(x, y)
		assert.Equal(t, rc[0], row)
		assert.Equal(t, rc[1], col)
	}
}

func TestRasterBounds(t *testing.T) {
	b := RasterBounds(GeoTransform{OriginX: 33, PixelWidth: 0.5, OriginY: -9, PixelHeight: -0.5}, 4, 6)
	assert.Equal(t, Bounds{Left: 33, Bottom: -12, Right: 35, Top: -9}, b)
	assert.True(t, b.Contains(35, -12))
	assert.False(t, b.Contains(35.0001, -12))
}

func TestValidateCoordinate(t *testing.T) {
	require.NoError(t, ValidateCoordinate(-13.96, 33.78))
	require.NoError(t, ValidateCoordinate(90, -180))
	require.ErrorIs(t, ValidateCoordinate(91, 0), ErrInvalidCoordinate)
	require.ErrorIs(t, ValidateCoordinate(0, -180.5), ErrInvalidCoordinate)
	require.ErrorIs(t, ValidateCoordinate(math.NaN(), 0), ErrInvalidCoordinate)
}
