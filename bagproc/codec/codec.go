// Package codec decodes serialized sensor-message payloads into structured
// records: raster images, stamped poses and inertial samples. Each message
// shape is described by a declarative field table consumed by one generic
// cursor-based decoder, so adding a shape is a data change rather than new
// offset arithmetic.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Decode failures. All are non-fatal to the enclosing topic: the caller
// skips the message and continues.
var (
	ErrTruncatedPayload        = errors.New("payload truncated")
	ErrUnknownMessageType      = errors.New("unknown message type")
	ErrUnsupportedEncoding     = errors.New("unsupported pixel encoding")
	ErrUnsupportedImagePayload = errors.New("unsupported compressed image payload")
)

// Raster is one successfully decoded image.
type Raster struct {
	Image  image.Image
	Width  int
	Height int
}

// PoseSample is one decoded 6-DoF pose reading.
type PoseSample struct {
	Position    r3.Vec
	Orientation quat.Number // x, y, z on Imag/Jmag/Kmag, w on Real
}

// ImuSample is one decoded inertial reading.
type ImuSample struct {
	AngularVelocity    r3.Vec
	LinearAcceleration r3.Vec
}

type fieldKind uint8

const (
	fieldUint8 fieldKind = iota
	fieldUint32
	fieldFloat64
	fieldString // length-prefixed, NUL-terminated
	fieldStamp  // seconds int32 + nanoseconds uint32
	fieldBlob   // length-prefixed byte run
	fieldRest   // remainder of the body
)

// field is one entry in a message shape's decode program.
type field struct {
	name  string
	kind  fieldKind
	count int  // repeated primitives; zero means one
	keep  bool // retained in the decoded record
}

var compressedImageFields = []field{
	{name: "format", kind: fieldString, keep: true},
	{name: "data", kind: fieldRest, keep: true},
}

var rawImageFields = []field{
	{name: "stamp", kind: fieldStamp},
	{name: "frame_id", kind: fieldString},
	{name: "height", kind: fieldUint32, keep: true},
	{name: "width", kind: fieldUint32, keep: true},
	{name: "encoding", kind: fieldString, keep: true},
	{name: "is_bigendian", kind: fieldUint8},
	{name: "step", kind: fieldUint32, keep: true},
	{name: "data", kind: fieldBlob, keep: true},
}

var poseFields = []field{
	{name: "stamp", kind: fieldStamp},
	{name: "frame_id", kind: fieldString},
	{name: "position", kind: fieldFloat64, count: 3, keep: true},
	{name: "orientation", kind: fieldFloat64, count: 4, keep: true},
}

var imuFields = []field{
	{name: "stamp", kind: fieldStamp},
	{name: "frame_id", kind: fieldString},
	{name: "orientation", kind: fieldFloat64, count: 4},
	{name: "orientation_covariance", kind: fieldFloat64, count: 9},
	{name: "angular_velocity", kind: fieldFloat64, count: 3, keep: true},
	{name: "angular_velocity_covariance", kind: fieldFloat64, count: 9},
	{name: "linear_acceleration", kind: fieldFloat64, count: 3, keep: true},
}

// decodeFields runs a field program over the payload and returns the kept
// values keyed by field name.
func decodeFields(payload []byte, fields []field) (map[string]any, error) {
	cur, err := newCursor(payload)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		var v any
		switch f.kind {
		case fieldUint8:
			v, err = cur.readUint8()
		case fieldUint32:
			v, err = cur.readUint32()
		case fieldFloat64:
			count := max(f.count, 1)
			vals := make([]float64, count)
			for i := range vals {
				if vals[i], err = cur.readFloat64(); err != nil {
					break
				}
			}
			v = vals
		case fieldString:
			v, err = cur.readString()
		case fieldStamp:
			if _, err = cur.readUint32(); err == nil {
				_, err = cur.readUint32()
			}
		case fieldBlob:
			var length uint32
			if length, err = cur.readUint32(); err == nil {
				v, err = cur.readBytes(int(length))
			}
		case fieldRest:
			v = cur.rest()
		}
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		if f.keep {
			out[f.name] = v
		}
	}
	return out, nil
}

// Decode dispatches on the declared message-type string and returns a
// *Raster, *PoseSample or *ImuSample.
func Decode(msgType string, payload []byte) (any, error) {
	switch {
	case strings.Contains(msgType, "CompressedImage"), strings.Contains(msgType, "Image"):
		return DecodeImage(msgType, payload)
	case strings.Contains(msgType, "Pose"):
		return DecodePose(payload)
	case strings.Contains(msgType, "Imu"):
		return DecodeImu(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msgType)
	}
}

// DecodeImage decodes a compressed or raw image payload depending on the
// declared type string.
func DecodeImage(msgType string, payload []byte) (*Raster, error) {
	if strings.Contains(msgType, "CompressedImage") {
		return decodeCompressedImage(payload)
	}
	if strings.Contains(msgType, "Image") {
		return decodeRawImage(payload)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msgType)
}

func decodeCompressedImage(payload []byte) (*Raster, error) {
	vals, err := decodeFields(payload, compressedImageFields)
	if err != nil {
		return nil, err
	}

	// The format tag ("jpeg"/"png") only needs its length consumed; the
	// registered image codecs sniff the blob themselves.
	blob := vals["data"].([]byte)
	img, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImagePayload, err)
	}

	bounds := img.Bounds()
	return &Raster{Image: img, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func decodeRawImage(payload []byte) (*Raster, error) {
	vals, err := decodeFields(payload, rawImageFields)
	if err != nil {
		return nil, err
	}

	height := int(vals["height"].(uint32))
	width := int(vals["width"].(uint32))
	encoding := vals["encoding"].(string)
	step := int(vals["step"].(uint32))
	data := vals["data"].([]byte)

	img, err := rasterize(data, width, height, step, encoding)
	if err != nil {
		return nil, err
	}
	return &Raster{Image: img, Width: width, Height: height}, nil
}

// DecodePose decodes a stamped pose payload.
func DecodePose(payload []byte) (*PoseSample, error) {
	vals, err := decodeFields(payload, poseFields)
	if err != nil {
		return nil, err
	}

	pos := vals["position"].([]float64)
	q := vals["orientation"].([]float64) // x, y, z, w on the wire
	return &PoseSample{
		Position:    r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]},
		Orientation: quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]},
	}, nil
}

// DecodeImu decodes an inertial sample payload.
func DecodeImu(payload []byte) (*ImuSample, error) {
	vals, err := decodeFields(payload, imuFields)
	if err != nil {
		return nil, err
	}

	ang := vals["angular_velocity"].([]float64)
	lin := vals["linear_acceleration"].([]float64)
	return &ImuSample{
		AngularVelocity:    r3.Vec{X: ang[0], Y: ang[1], Z: ang[2]},
		LinearAcceleration: r3.Vec{X: lin[0], Y: lin[1], Z: lin[2]},
	}, nil
}
