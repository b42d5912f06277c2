package loggerstorage

import "testing"

func TestNullSpecString(t *testing.T) {
	spec := parseNullSpec("NULL")
	if !spec.isNull("NULL") {
		t.Error("exact marker should be null")
	}
	if !spec.isNull("  NULL ") {
		t.Error("marker with surrounding spaces should be null")
	}
	if spec.isNull("25.2") {
		t.Error("ordinary value should not be null")
	}
	if spec.isNull("null") {
		t.Error("marker comparison is case sensitive")
	}
}

func TestNullSpecNumeric(t *testing.T) {
	spec := parseNullSpec("-9999")
	if !spec.isNull("-9999") {
		t.Error("exact numeric marker should be null")
	}
	if !spec.isNull("-9999.0") {
		t.Error("numerically equal representation should be null")
	}
	if !spec.isNull("-9999.0000001") {
		t.Error("value within tolerance should be null")
	}
	if spec.isNull("-9998.9") {
		t.Error("value outside tolerance should not be null")
	}
	if spec.isNull("hello") {
		t.Error("non-numeric value should not match a numeric marker")
	}
}

func TestNullSpecUnset(t *testing.T) {
	var spec nullSpec
	if spec.isNull("NULL") || spec.isNull("") {
		t.Error("unset spec should never report null")
	}
}
