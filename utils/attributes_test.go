package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestAttributeMapGetters(t *testing.T) {
	am := AttributeMap{
		"name":   "depth",
		"width":  float64(640), // JSON numbers decode as float64
		"rate":   59.5,
		"pretty": true,
	}

	test.That(t, am.Has("name"), test.ShouldBeTrue)
	test.That(t, am.Has("nope"), test.ShouldBeFalse)

	test.That(t, am.GetString("name"), test.ShouldEqual, "depth")
	test.That(t, am.GetString("nope"), test.ShouldEqual, "")
	test.That(t, am.GetInt("width", 1), test.ShouldEqual, 640)
	test.That(t, am.GetInt("nope", 7), test.ShouldEqual, 7)
	test.That(t, am.GetFloat64("rate", 0), test.ShouldAlmostEqual, 59.5)
	test.That(t, am.GetFloat64("nope", 2.5), test.ShouldAlmostEqual, 2.5)
	test.That(t, am.GetBool("pretty", false), test.ShouldBeTrue)
	test.That(t, am.GetBool("nope", true), test.ShouldBeTrue)
}

func TestAttributeMapWrongTypePanics(t *testing.T) {
	am := AttributeMap{"width": []string{"not", "an", "int"}}
	test.That(t, func() { am.GetInt("width", 0) }, test.ShouldPanic)
}
