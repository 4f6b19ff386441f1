package profile

import "testing"

func TestValid(t *testing.T) {
	for _, p := range All {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if Profile("turbo").Valid() {
		t.Error("turbo should not be valid")
	}
	if Profile("").Valid() {
		t.Error("empty profile should not be valid")
	}
}

func TestHoldable(t *testing.T) {
	if !PowerSaver.Holdable() || !Performance.Holdable() {
		t.Error("power-saver and performance must be holdable")
	}
	if Balanced.Holdable() {
		t.Error("balanced must not be holdable")
	}
}

func TestParse(t *testing.T) {
	if p, ok := Parse("power-saver"); !ok || p != PowerSaver {
		t.Errorf("Parse(power-saver) = %v, %v", p, ok)
	}
	if _, ok := Parse("powersave"); ok {
		t.Error("backend profile names are not public profiles")
	}
}
