package codec

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// payloadBuilder constructs serialized message bodies with the same
// preamble and alignment rules the decoder applies.
type payloadBuilder struct {
	buf []byte
}

func newPayload() *payloadBuilder {
	// Preamble: encapsulation identifier, little-endian.
	return &payloadBuilder{buf: []byte{0x00, 0x01, 0x00, 0x00}}
}

func (b *payloadBuilder) bodyLen() int {
	return len(b.buf) - preambleLen
}

func (b *payloadBuilder) align(width int) *payloadBuilder {
	for b.bodyLen()%width != 0 {
		b.buf = append(b.buf, 0)
	}
	return b
}

func (b *payloadBuilder) u8(v uint8) *payloadBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *payloadBuilder) u32(v uint32) *payloadBuilder {
	b.align(4)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *payloadBuilder) f64(vs ...float64) *payloadBuilder {
	for _, v := range vs {
		b.align(8)
		b.buf = binary.LittleEndian.AppendUint64(b.buf, math.Float64bits(v))
	}
	return b
}

func (b *payloadBuilder) str(s string) *payloadBuilder {
	b.u32(uint32(len(s) + 1)) // length counts the trailing NUL
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	return b
}

func (b *payloadBuilder) raw(p []byte) *payloadBuilder {
	b.buf = append(b.buf, p...)
	return b
}

func (b *payloadBuilder) stamp() *payloadBuilder {
	return b.u32(1234).u32(5678)
}

func (b *payloadBuilder) header(frameID string) *payloadBuilder {
	return b.stamp().str(frameID)
}

func (b *payloadBuilder) bytes() []byte {
	return b.buf
}

func buildPosePayload(x, y, z, qx, qy, qz, qw float64) []byte {
	return newPayload().
		header("camera_pose_frame").
		f64(x, y, z).
		f64(qx, qy, qz, qw).
		bytes()
}

func buildImuPayload(ang, lin [3]float64) []byte {
	b := newPayload().header("camera_imu_optical_frame")
	b.f64(0, 0, 0, 1) // orientation
	for range 9 {
		b.f64(0) // orientation covariance
	}
	b.f64(ang[0], ang[1], ang[2])
	for range 9 {
		b.f64(0) // angular velocity covariance
	}
	b.f64(lin[0], lin[1], lin[2])
	return b.bytes()
}

func buildRawImagePayload(width, height int, encoding string, step int, pix []byte) []byte {
	return newPayload().
		header("camera_color_optical_frame").
		u32(uint32(height)).
		u32(uint32(width)).
		str(encoding).
		u8(0). // is_bigendian
		u32(uint32(step)).
		u32(uint32(len(pix))).
		raw(pix).
		bytes()
}

func buildCompressedImagePayload(t *testing.T, format string, img image.Image) []byte {
	t.Helper()
	var blob bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&blob, img)
	default:
		err = jpeg.Encode(&blob, img, nil)
	}
	require.NoError(t, err)

	return newPayload().str(format).raw(blob.Bytes()).bytes()
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 0x40, A: 0xff})
		}
	}
	return img
}

func TestDecodePoseRoundTrip(t *testing.T) {
	payload := buildPosePayload(1.0, 2.0, 3.0, 0.0, 0.0, 0.0, 1.0)

	sample, err := DecodePose(payload)
	require.NoError(t, err)

	want := &PoseSample{
		Position:    r3.Vec{X: 1.0, Y: 2.0, Z: 3.0},
		Orientation: quat.Number{Real: 1.0},
	}
	if diff := cmp.Diff(want, sample); diff != "" {
		t.Errorf("pose mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePoseExactBits(t *testing.T) {
	// Values chosen so any byte shuffle or width mistake flips bits.
	payload := buildPosePayload(
		math.Pi, -math.SmallestNonzeroFloat64, 1e308,
		0.5, -0.25, 0.125, math.Sqrt2/2)

	sample, err := DecodePose(payload)
	require.NoError(t, err)

	assert.Equal(t, math.Float64bits(math.Pi), math.Float64bits(sample.Position.X))
	assert.Equal(t, math.Float64bits(-math.SmallestNonzeroFloat64), math.Float64bits(sample.Position.Y))
	assert.Equal(t, math.Float64bits(1e308), math.Float64bits(sample.Position.Z))
	assert.Equal(t, math.Float64bits(0.5), math.Float64bits(sample.Orientation.Imag))
	assert.Equal(t, math.Float64bits(-0.25), math.Float64bits(sample.Orientation.Jmag))
	assert.Equal(t, math.Float64bits(0.125), math.Float64bits(sample.Orientation.Kmag))
	assert.Equal(t, math.Float64bits(math.Sqrt2/2), math.Float64bits(sample.Orientation.Real))
}

func TestDecodeImu(t *testing.T) {
	payload := buildImuPayload([3]float64{0.1, -0.2, 0.3}, [3]float64{9.8, 0.01, -0.02})

	sample, err := DecodeImu(payload)
	require.NoError(t, err)

	want := &ImuSample{
		AngularVelocity:    r3.Vec{X: 0.1, Y: -0.2, Z: 0.3},
		LinearAcceleration: r3.Vec{X: 9.8, Y: 0.01, Z: -0.02},
	}
	if diff := cmp.Diff(want, sample); diff != "" {
		t.Errorf("imu mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeShortPayloads(t *testing.T) {
	// Anything shorter than the preamble fails with a truncation error for
	// every shape, never an out-of-bounds read.
	for _, payload := range [][]byte{nil, {}, {0x00}, {0x00, 0x01}, {0x00, 0x01, 0x00}} {
		_, err := DecodePose(payload)
		assert.ErrorIs(t, err, ErrTruncatedPayload)

		_, err = DecodeImu(payload)
		assert.ErrorIs(t, err, ErrTruncatedPayload)

		_, err = DecodeImage("sensor_msgs/msg/Image", payload)
		assert.ErrorIs(t, err, ErrTruncatedPayload)

		_, err = DecodeImage("sensor_msgs/msg/CompressedImage", payload)
		assert.ErrorIs(t, err, ErrTruncatedPayload)
	}
}

func TestDecodeTruncatedMidField(t *testing.T) {
	full := buildPosePayload(1, 2, 3, 0, 0, 0, 1)
	for _, cut := range []int{5, 8, 12, 20, len(full) - 1} {
		_, err := DecodePose(full[:cut])
		assert.ErrorIs(t, err, ErrTruncatedPayload, "cut at %d", cut)
	}
}

func TestDecodeStringLengthOverrun(t *testing.T) {
	// A frame-id length running past the buffer must not panic.
	payload := newPayload().stamp().u32(1 << 30).bytes()
	_, err := DecodePose(payload)
	assert.ErrorIs(t, err, ErrTruncatedPayload)
}

func TestDecodeUnknownMessageType(t *testing.T) {
	_, err := Decode("sensor_msgs/msg/LaserScan", buildPosePayload(0, 0, 0, 0, 0, 0, 1))
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = DecodeImage("geometry_msgs/msg/Twist", nil)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecodeDispatch(t *testing.T) {
	v, err := Decode("geometry_msgs/msg/PoseStamped", buildPosePayload(1, 2, 3, 0, 0, 0, 1))
	require.NoError(t, err)
	assert.IsType(t, &PoseSample{}, v)

	v, err = Decode("sensor_msgs/msg/Imu", buildImuPayload([3]float64{1, 2, 3}, [3]float64{4, 5, 6}))
	require.NoError(t, err)
	assert.IsType(t, &ImuSample{}, v)

	v, err = Decode("sensor_msgs/msg/CompressedImage",
		buildCompressedImagePayload(t, "jpeg", testImage(8, 6)))
	require.NoError(t, err)
	assert.IsType(t, &Raster{}, v)
}

func TestDecodeCompressedImage(t *testing.T) {
	for _, format := range []string{"jpeg", "png"} {
		payload := buildCompressedImagePayload(t, format, testImage(32, 24))

		raster, err := DecodeImage("sensor_msgs/msg/CompressedImage", payload)
		require.NoError(t, err, format)
		assert.Equal(t, 32, raster.Width, format)
		assert.Equal(t, 24, raster.Height, format)
	}
}

func TestDecodeCompressedImageGarbage(t *testing.T) {
	payload := newPayload().str("jpeg").raw([]byte("definitely not an image")).bytes()
	_, err := DecodeImage("sensor_msgs/msg/CompressedImage", payload)
	assert.ErrorIs(t, err, ErrUnsupportedImagePayload)
}

func TestDecodeRawImageMono8(t *testing.T) {
	pix := []byte{
		10, 20, 30, 40,
		50, 60, 70, 80,
	}
	payload := buildRawImagePayload(4, 2, "mono8", 4, pix)

	raster, err := DecodeImage("sensor_msgs/msg/Image", payload)
	require.NoError(t, err)
	assert.Equal(t, 4, raster.Width)
	assert.Equal(t, 2, raster.Height)

	gray, ok := raster.Image.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, pix, gray.Pix)
}

func TestDecodeRawImageColorChannels(t *testing.T) {
	// One red pixel. In rgb8 the first byte is red; in bgr8 it is blue.
	pix := []byte{200, 10, 30}

	raster, err := DecodeImage("sensor_msgs/msg/Image", buildRawImagePayload(1, 1, "rgb8", 3, pix))
	require.NoError(t, err)
	r, g, b, _ := raster.Image.At(0, 0).RGBA()
	assert.Equal(t, []uint32{200, 10, 30}, []uint32{r >> 8, g >> 8, b >> 8})

	raster, err = DecodeImage("sensor_msgs/msg/Image", buildRawImagePayload(1, 1, "bgr8", 3, pix))
	require.NoError(t, err)
	r, g, b, _ = raster.Image.At(0, 0).RGBA()
	assert.Equal(t, []uint32{30, 10, 200}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestDecodeRawImageMono16Downscale(t *testing.T) {
	pix := binary.LittleEndian.AppendUint16(nil, 0x0100) // 256 -> 1
	pix = binary.LittleEndian.AppendUint16(pix, 0xff00)  // 65280 -> 255
	payload := buildRawImagePayload(2, 1, "16UC1", 4, pix)

	raster, err := DecodeImage("sensor_msgs/msg/Image", payload)
	require.NoError(t, err)

	gray, ok := raster.Image.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 255}, gray.Pix)
}

func TestDecodeRawImagePaddedStride(t *testing.T) {
	// Rows padded to 6 bytes for a 4-pixel mono8 image.
	pix := []byte{
		1, 2, 3, 4, 0, 0,
		5, 6, 7, 8,
	}
	payload := buildRawImagePayload(4, 2, "mono8", 6, pix)

	raster, err := DecodeImage("sensor_msgs/msg/Image", payload)
	require.NoError(t, err)

	gray := raster.Image.(*image.Gray)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, gray.Pix)
}

func TestDecodeRawImageUnsupportedEncoding(t *testing.T) {
	for _, encoding := range []string{"32FC1", "rgba8", "yuv422", "bayer_rggb8"} {
		payload := buildRawImagePayload(2, 2, encoding, 8, make([]byte, 32))
		_, err := DecodeImage("sensor_msgs/msg/Image", payload)
		assert.ErrorIs(t, err, ErrUnsupportedEncoding, encoding)
		assert.NotErrorIs(t, err, ErrTruncatedPayload, encoding)
	}
}

func TestDecodeRawImageDimensionOverflow(t *testing.T) {
	// Header fields are attacker-controlled; dimensions whose row product
	// overflows must fail the bound check, never reach image allocation.
	cases := []struct {
		name       string
		w, h, step int
	}{
		{"AllMax", 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF},
		{"HugeHeight", 2, 0xFFFFFFFF, 2},
		{"HugeWidth", 0xFFFFFFFF, 1, 0},
		{"ZeroWidth", 0, 5, 0},
		{"ZeroHeight", 5, 0, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := buildRawImagePayload(tc.w, tc.h, "mono8", tc.step, []byte{1, 2, 3, 4})
			_, err := DecodeImage("sensor_msgs/msg/Image", payload)
			assert.ErrorIs(t, err, ErrTruncatedPayload)
		})
	}
}

func TestDecodeRawImagePixelShortfall(t *testing.T) {
	// Declared dimensions need more pixel bytes than provided.
	payload := buildRawImagePayload(8, 8, "mono8", 8, make([]byte, 16))
	_, err := DecodeImage("sensor_msgs/msg/Image", payload)
	assert.ErrorIs(t, err, ErrTruncatedPayload)
}

func TestDecodeIsPure(t *testing.T) {
	payload := buildPosePayload(1, 2, 3, 0, 0, 0, 1)

	first, err := DecodePose(payload)
	require.NoError(t, err)
	second, err := DecodePose(payload)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
