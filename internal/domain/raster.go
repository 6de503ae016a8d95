package domain

import (
	"fmt"
	"math"
)

// Raster is an open, geo-referenced grid provided by a raster I/O adapter.
type Raster interface {
	// CRS returns the coordinate reference system identifier, or "" when the
	// raster declares none.
	CRS() string
	BandCount() int
	// Size returns the grid dimensions in pixels.
	Size() (width, height int)
	Transform() GeoTransform
	// NoData returns the declared no-data sentinel, if any.
	NoData() (float64, bool)
	// ReadPixel reads a single value from a 1-based band.
	ReadPixel(band, row, col int) (float64, error)
}

// GeoTransform is an affine pixel-to-world mapping in GDAL coefficient order:
//
//	x = OriginX + PixelWidth*col + RowRotation*row
//	y = OriginY + ColRotation*col + PixelHeight*row
//
// North-up rasters have zero rotations and a negative PixelHeight.
type GeoTransform struct {
	OriginX     float64
	PixelWidth  float64
	RowRotation float64
	OriginY     float64
	ColRotation float64
	PixelHeight float64
}

// Apply maps fractional pixel coordinates to world coordinates.
func (g GeoTransform) Apply(col, row float64) (x, y float64) {
	return g.OriginX + g.PixelWidth*col + g.RowRotation*row,
		g.OriginY + g.ColRotation*col + g.PixelHeight*row
}

// Index maps a world coordinate to the row/column of the containing pixel.
func (g GeoTransform) Index(x, y float64) (row, col int) {
	det := g.PixelWidth*g.PixelHeight - g.RowRotation*g.ColRotation
	dx, dy := x-g.OriginX, y-g.OriginY
	c := (g.PixelHeight*dx - g.RowRotation*dy) / det
	r := (-g.ColRotation*dx + g.PixelWidth*dy) / det
	return int(math.Floor(r)), int(math.Floor(c))
}

// Bounds is the spatial extent of a raster in its native CRS.
type Bounds struct {
	Left, Bottom, Right, Top float64
}

// Contains reports whether (x, y) lies inside b, edges included.
func (b Bounds) Contains(x, y float64) bool {
	return b.Left <= x && x <= b.Right && b.Bottom <= y && y <= b.Top
}

// RasterBounds computes the extent covered by a width×height grid.
func RasterBounds(g GeoTransform, width, height int) Bounds {
	w, h := float64(width), float64(height)
	xs := make([]float64, 0, 4)
	ys := make([]float64, 0, 4)
	for _, c := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := g.Apply(c[0], c[1])
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return Bounds{
		Left:   min(xs[0], xs[1], xs[2], xs[3]),
		Bottom: min(ys[0], ys[1], ys[2], ys[3]),
		Right:  max(xs[0], xs[1], xs[2], xs[3]),
		Top:    max(ys[0], ys[1], ys[2], ys[3]),
	}
}

// RasterSample is one value read from a raster, or no-data.
type RasterSample struct {
	Value float64
	Valid bool
}

// NoData is the sample returned for cells holding the no-data sentinel.
var NoData = RasterSample{}

// Float returns the value, or NaN for a no-data sample.
func (s RasterSample) Float() float64 {
	if !s.Valid {
		return math.NaN()
	}
	return s.Value
}

// Sample reads the value of band at (lon, lat). Coordinates must already be
// in the raster's native CRS; no reprojection happens here. Values are
// rounded to 3 decimals.
func Sample(r Raster, lon, lat float64, band int) (RasterSample, error) {
	if r.CRS() == "" {
		return RasterSample{}, ErrMissingCRS
	}
	if n := r.BandCount(); band < 1 || band > n {
		return RasterSample{}, fmt.Errorf("%w: band %d, raster has %d band(s)", ErrBandOutOfRange, band, n)
	}

	width, height := r.Size()
	bounds := RasterBounds(r.Transform(), width, height)
	if !bounds.Contains(lon, lat) {
		return RasterSample{}, fmt.Errorf("%w: (%g, %g) not within [%g, %g]x[%g, %g]",
			ErrPointOutOfBounds, lon, lat, bounds.Left, bounds.Right, bounds.Bottom, bounds.Top)
	}

	row, col := r.Transform().Index(lon, lat)
	// Points on the right or bottom edge belong to the last pixel.
	row = min(max(row, 0), height-1)
	col = min(max(col, 0), width-1)

	v, err := r.ReadPixel(band, row, col)
	if err != nil {
		return RasterSample{}, fmt.Errorf("read band %d at row %d col %d: %w", band, row, col, err)
	}

	// NaN cells count as no-data whether or not a sentinel is declared.
	if nodata, ok := r.NoData(); (ok && v == nodata) || math.IsNaN(v) {
		return NoData, nil
	}
	return RasterSample{Value: round(v, 3), Valid: true}, nil
}

// ValidateCoordinate checks that lat/lon are geographic degrees.
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %g must be between -90 and 90", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %g must be between -180 and 180", ErrInvalidCoordinate, lon)
	}
	return nil
}
