package geotiff

// TIFF baseline and extension tags.
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagPredictor                 = 317
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagSampleFormat              = 339
)

// GeoTIFF and GDAL tags.
const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// GeoKey IDs.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// Field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
)

var typeSizes = map[uint16]uint32{
	typeByte:      1,
	typeASCII:     1,
	typeShort:     2,
	typeLong:      4,
	typeRational:  8,
	typeSByte:     1,
	typeUndefined: 1,
	typeSShort:    2,
	typeSLong:     4,
	typeSRational: 8,
	typeFloat:     4,
	typeDouble:    8,
}

// Compression schemes.
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	planarChunky           = 1
	planarSeparate         = 2
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatIEEEFloat  = 3
	photometricBlackIsZero = 1
)
