package imaging

import "math"

// filterPixel maps one non-premultiplied RGBA pixel through the filter chain:
// the original is drawn, the enhanced copy is drawn over it, then the tint is
// composited with overlay blending.
func filterPixel(r, g, b, a uint8) (uint8, uint8, uint8, uint8) {
	if a == 0 {
		// Only the tint lands on fully transparent pixels.
		return TintR, TintG, TintB, quantize(TintAlpha)
	}

	cr, cg, cb := norm(r), norm(g), norm(b)
	alpha := norm(a)

	er, eg, eb := enhance(cr, cg, cb)

	// source-over of the enhanced copy onto the original, both at alpha.
	ao := alpha + alpha*(1-alpha)
	cr = (er*alpha + cr*alpha*(1-alpha)) / ao
	cg = (eg*alpha + cg*alpha*(1-alpha)) / ao
	cb = (eb*alpha + cb*alpha*(1-alpha)) / ao

	tr, tg, tb := norm(TintR), norm(TintG), norm(TintB)
	or, oa := overlayComposite(cr, ao, tr)
	og, _ := overlayComposite(cg, ao, tg)
	ob, _ := overlayComposite(cb, ao, tb)

	return quantize(or), quantize(og), quantize(ob), quantize(oa)
}

func enhance(r, g, b float64) (float64, float64, float64) {
	r, g, b = saturate(r, g, b, Saturation)
	r, g, b = contrast(r, Contrast), contrast(g, Contrast), contrast(b, Contrast)
	r, g, b = clamp(r*Brightness), clamp(g*Brightness), clamp(b*Brightness)
	return r, g, b
}

// saturate uses the feColorMatrix saturate coefficients.
func saturate(r, g, b, s float64) (float64, float64, float64) {
	nr := (0.213+0.787*s)*r + (0.715-0.715*s)*g + (0.072-0.072*s)*b
	ng := (0.213-0.213*s)*r + (0.715+0.285*s)*g + (0.072-0.072*s)*b
	nb := (0.213-0.213*s)*r + (0.715-0.715*s)*g + (0.072+0.928*s)*b
	return clamp(nr), clamp(ng), clamp(nb)
}

func contrast(c, k float64) float64 {
	return clamp((c-0.5)*k + 0.5)
}

func overlay(backdrop, source float64) float64 {
	if backdrop <= 0.5 {
		return 2 * backdrop * source
	}
	return 1 - 2*(1-backdrop)*(1-source)
}

// overlayComposite blends the tint channel ts at TintAlpha over a backdrop
// channel cb with alpha ab. It returns the un-premultiplied channel and the
// resulting alpha.
func overlayComposite(cb, ab, ts float64) (float64, float64) {
	as := TintAlpha
	mixed := (1-ab)*ts + ab*overlay(cb, ts)
	co := as*mixed + (1-as)*ab*cb
	ao := as + ab*(1-as)
	return co / ao, ao
}

func norm(v uint8) float64 {
	return float64(v) / 255
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func quantize(v float64) uint8 {
	return uint8(math.Round(clamp(v) * 255))
}
