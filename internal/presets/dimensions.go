package presets

// FitWithin scales (w, h) so the longer side is at most max, keeping aspect ratio.
// Both results are even and at least 2; sizes already inside max are only evened.
func FitWithin(w, h, max int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	nw, nh := w, h
	if max > 0 {
		if h > w && h > max {
			nw, nh = w*max/h, max
		} else if w >= h && w > max {
			nw, nh = max, h*max/w
		}
	}
	return even(nw), even(nh)
}

func even(v int) int {
	if v%2 != 0 {
		v--
	}
	if v < 2 {
		return 2
	}
	return v
}
