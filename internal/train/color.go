package train

// Color is an RGB triple. Channels are not validated; callers clamp before storing.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// DefaultColor is the LED color of a train that has never been recolored.
var DefaultColor = Color{R: 0, G: 200, B: 0}

func (c Color) Equal(other Color) bool {
	return c.R == other.R && c.G == other.G && c.B == other.B
}

func (c Color) Hash() int {
	return c.R + (c.G << 8) + (c.B << 16)
}

// Clamp returns c with every channel limited to [0,255].
func (c Color) Clamp() Color {
	return Color{R: clamp(c.R, 0, 255), G: clamp(c.G, 0, 255), B: clamp(c.B, 0, 255)}
}

// The hub does not render RGB mode reliably, so colors are sent as palette indices.
var paletteIndices = map[Color]byte{
	{R: 0, G: 200, B: 0}:     6,
	{R: 240, G: 220, B: 0}:   7,
	{R: 180, G: 20, B: 0}:    9,
	{R: 120, G: 0, B: 160}:   2,
	{R: 0, G: 100, B: 180}:   3,
	{R: 0, G: 160, B: 220}:   4,
	{R: 180, G: 180, B: 180}: 5,
	{R: 240, G: 240, B: 240}: 10,
}

// PaletteIndex returns the hub-native LED index for an exact palette match and 0 otherwise.
func (c Color) PaletteIndex() byte {
	return paletteIndices[c]
}

// Palette lists the colors that map to a non-default palette index, in a stable order.
func Palette() []Color {
	return []Color{
		{R: 0, G: 200, B: 0},
		{R: 240, G: 220, B: 0},
		{R: 180, G: 20, B: 0},
		{R: 120, G: 0, B: 160},
		{R: 0, G: 100, B: 180},
		{R: 0, G: 160, B: 220},
		{R: 180, G: 180, B: 180},
		{R: 240, G: 240, B: 240},
	}
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
