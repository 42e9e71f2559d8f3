package common

// RGBToHSV converts an RGB color to hue/saturation/value. Hue is in degrees
// [0, 360), saturation and value share the range of the input channels
// (values above 1 are allowed for HDR colors).
//
// Parameters:
//   - r, g, b: input color channels
//
// Returns:
//   - h, s, v: hue, saturation, and value
func RGBToHSV(r, g, b float32) (h, s, v float32) {
	maxC := r
	if g > maxC {
		maxC = g
	}
	if b > maxC {
		maxC = b
	}
	minC := r
	if g < minC {
		minC = g
	}
	if b < minC {
		minC = b
	}

	v = maxC
	delta := maxC - minC
	if maxC > 0 {
		s = delta / maxC
	}
	if delta == 0 {
		return 0, s, v
	}

	switch maxC {
	case r:
		h = 60 * ((g - b) / delta)
	case g:
		h = 60 * (2 + (b-r)/delta)
	default:
		h = 60 * (4 + (r-g)/delta)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// HSVToRGB converts a hue/saturation/value color back to RGB. Hue is in
// degrees [0, 360).
//
// Parameters:
//   - h, s, v: hue, saturation, and value
//
// Returns:
//   - r, g, b: output color channels
func HSVToRGB(h, s, v float32) (r, g, b float32) {
	if s == 0 {
		return v, v, v
	}
	for h >= 360 {
		h -= 360
	}
	for h < 0 {
		h += 360
	}
	sector := h / 60
	i := int(sector)
	f := sector - float32(i)
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	switch i {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

// ClampBrightness limits a color's HSV value channel to maxValue while
// preserving hue and saturation. Used as a firefly suppressor: anomalously
// bright Monte Carlo samples would otherwise persist through the temporal
// history chain. Colors at or below the limit pass through unchanged.
//
// Parameters:
//   - r, g, b: input color channels
//   - maxValue: the maximum allowed HSV value channel (must be > 0)
//
// Returns:
//   - [3]float32: the clamped color
func ClampBrightness(r, g, b, maxValue float32) [3]float32 {
	if maxValue <= 0 {
		maxValue = 1e-4
	}
	if r <= maxValue && g <= maxValue && b <= maxValue {
		return [3]float32{r, g, b}
	}
	h, s, v := RGBToHSV(r, g, b)
	if v > maxValue {
		v = maxValue
	}
	cr, cg, cb := HSVToRGB(h, s, v)
	return [3]float32{cr, cg, cb}
}
