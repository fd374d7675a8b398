package simage

import (
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestDepthMapRoundTrip(t *testing.T) {
	dm := NewEmptyDepthMap(3, 2)
	dm.Set(0, 0, 300)
	dm.Set(2, 1, 10000)

	b := dm.Bytes()
	test.That(t, b, test.ShouldHaveLength, 12)

	dm2, err := DepthMapFromBytes(b, 3, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm2.GetDepth(0, 0), test.ShouldEqual, 300)
	test.That(t, dm2.GetDepth(2, 1), test.ShouldEqual, 10000)
	test.That(t, dm2.GetDepth(1, 0), test.ShouldEqual, 0)

	_, err = DepthMapFromBytes(b[:5], 3, 2)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDepthMapMinMaxIgnoresHoles(t *testing.T) {
	dm := NewEmptyDepthMap(4, 1)
	dm.Set(1, 0, 450)
	dm.Set(3, 0, 8000)

	min, max := dm.MinMax()
	test.That(t, min, test.ShouldEqual, 450)
	test.That(t, max, test.ShouldEqual, 8000)

	empty := NewEmptyDepthMap(2, 2)
	min, max = empty.MinMax()
	test.That(t, min, test.ShouldEqual, 0)
	test.That(t, max, test.ShouldEqual, 0)
}

func TestDepthMapIsImage(t *testing.T) {
	dm := NewEmptyDepthMap(2, 2)
	dm.Set(1, 1, 1234)

	test.That(t, dm.Bounds().Dx(), test.ShouldEqual, 2)
	test.That(t, dm.ColorModel(), test.ShouldEqual, color.Gray16Model)
	test.That(t, dm.At(1, 1), test.ShouldResemble, color.Gray16{Y: 1234})

	gray := dm.ToGray16Picture()
	test.That(t, gray.Gray16At(1, 1).Y, test.ShouldEqual, 1234)
	test.That(t, gray.Gray16At(0, 0).Y, test.ShouldEqual, 0)
}

func TestToPrettyPicture(t *testing.T) {
	dm := NewEmptyDepthMap(3, 1)
	dm.Set(0, 0, 300)
	dm.Set(1, 0, 5000)

	img := dm.ToPrettyPicture(0, 10000)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 3)

	// holes stay black
	_, _, _, a := img.At(2, 0).RGBA()
	test.That(t, a, test.ShouldEqual, 0)

	r1, _, b1, _ := img.At(0, 0).RGBA()
	r2, _, b2, _ := img.At(1, 0).RGBA()
	// near is warm, far is cool
	test.That(t, r1 > b1, test.ShouldBeTrue)
	test.That(t, b2 > r2, test.ShouldBeTrue)
}

func TestToPrettyPictureUnclamped(t *testing.T) {
	dm := NewEmptyDepthMap(3, 1)
	dm.Set(0, 0, 300)
	dm.Set(1, 0, 5000)

	// a zero hardMax means no far clamp; the sweep still spans the data
	img := dm.ToPrettyPicture(0, 0)
	test.That(t, img.At(0, 0), test.ShouldNotResemble, img.At(1, 0))

	r1, _, b1, _ := img.At(0, 0).RGBA()
	r2, _, b2, _ := img.At(1, 0).RGBA()
	test.That(t, r1 > b1, test.ShouldBeTrue)
	test.That(t, b2 > r2, test.ShouldBeTrue)

	_, _, _, a := img.At(2, 0).RGBA()
	test.That(t, a, test.ShouldEqual, 0)
}
