package colormap

import (
	"image/color"
	"reflect"
	"testing"
)

func TestHeatColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Heat.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 211, G: 211, B: 211, A: 255}) {
		t.Fatalf("unexpected Heat.At(0): %#v", c0)
	}

	c1, ok := Heat.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 0, B: 0, A: 255}) {
		t.Fatalf("unexpected Heat.At(1): %#v", c1)
	}
}

func TestByNameResolvesEveryRegisteredColormap(t *testing.T) {
	t.Parallel()

	cases := map[string]Colormap{
		"":            Viridis,
		"viridis":     Viridis,
		"plasma":      Plasma,
		"inferno":     Inferno,
		"magma":       Magma,
		"heat":        Heat,
		"categorical": Categorical,
		"unknown":     Viridis,
	}
	for name, want := range cases {
		if got := ByName(name); !reflect.DeepEqual(got, want) {
			t.Errorf("ByName(%q) = %#v, want %#v", name, got, want)
		}
	}
}

