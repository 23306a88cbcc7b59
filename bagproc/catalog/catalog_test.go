package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testCatalog(ignore []string) *Catalog {
	return New(
		[]string{"/camera/camera/color/image_raw", "/camera/camera/depth/image_rect_raw"},
		[]string{"/camera/pose"},
		[]string{"/camera/camera/imu"},
		ignore,
	)
}

func TestResolveExact(t *testing.T) {
	c := testCatalog(nil)

	kind, ok := c.Resolve("/camera/camera/color/image_raw")
	assert.True(t, ok)
	assert.Equal(t, KindCamera, kind)

	kind, ok = c.Resolve("/camera/pose")
	assert.True(t, ok)
	assert.Equal(t, KindPose, kind)

	kind, ok = c.Resolve("/camera/camera/imu")
	assert.True(t, ok)
	assert.Equal(t, KindImu, kind)
}

func TestResolvePrefix(t *testing.T) {
	c := testCatalog(nil)

	// Sub-streams under a registered camera topic resolve to it.
	kind, ok := c.Resolve("/camera/camera/color/image_raw/compressed")
	assert.True(t, ok)
	assert.Equal(t, KindCamera, kind)
}

func TestResolveUnknown(t *testing.T) {
	c := testCatalog(nil)

	_, ok := c.Resolve("/tf_static")
	assert.False(t, ok)
}

func TestResolveIgnored(t *testing.T) {
	c := testCatalog([]string{"/camera/camera/depth/*"})

	_, ok := c.Resolve("/camera/camera/depth/image_rect_raw")
	assert.False(t, ok)

	kind, ok := c.Resolve("/camera/camera/color/image_raw")
	assert.True(t, ok)
	assert.Equal(t, KindCamera, kind)
}

func TestPlanOrdersByKind(t *testing.T) {
	c := testCatalog(nil)

	// Bag order within a kind is preserved; kinds are grouped camera,
	// pose, imu; unrecognized names are dropped.
	entries := c.Plan([]string{
		"/camera/camera/imu",
		"/camera/pose",
		"/camera/camera/depth/image_rect_raw",
		"/tf_static",
		"/camera/camera/color/image_raw",
	})
	assert.Equal(t, []Entry{
		{Topic: "/camera/camera/depth/image_rect_raw", Kind: KindCamera},
		{Topic: "/camera/camera/color/image_raw", Kind: KindCamera},
		{Topic: "/camera/pose", Kind: KindPose},
		{Topic: "/camera/camera/imu", Kind: KindImu},
	}, entries)
}

func TestPlanResolvesPrefixFamilies(t *testing.T) {
	c := testCatalog(nil)

	entries := c.Plan([]string{"/camera/camera/color/image_raw/compressed"})
	assert.Equal(t, []Entry{
		{Topic: "/camera/camera/color/image_raw/compressed", Kind: KindCamera},
	}, entries)
}

func TestPlanExcludesIgnored(t *testing.T) {
	c := testCatalog([]string{"/camera/camera/depth/*"})

	entries := c.Plan([]string{
		"/camera/camera/depth/image_rect_raw",
		"/camera/pose",
	})
	assert.Equal(t, []Entry{{Topic: "/camera/pose", Kind: KindPose}}, entries)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "camera", KindCamera.String())
	assert.Equal(t, "pose", KindPose.String())
	assert.Equal(t, "imu", KindImu.String())
}
