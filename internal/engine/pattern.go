package engine

import "math"

// Test, error, and synthetic frame generators. These exercise the
// preview and control planes when no file is loaded, when the pipeline
// failed, or when neither GPU nor demuxer is available. Every generated
// frame is tight RGBA8 with full alpha.

// generateTestFrame renders the idle-state diagnostic pattern: a hue
// gradient with an animated diagonal stripe, a centered crosshair, a
// checkerboard core, and colour bars along the bottom.
func generateTestFrame(width, height uint32, elapsedSecs float64) []byte {
	w := int(width)
	h := int(height)
	pixels := make([]byte, w*h*4)
	elapsed := float32(elapsedSecs)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			offset := (y*w + x) * 4
			nx := float32(x) / float32(w)
			ny := float32(y) / float32(h)

			r, g, b := hsvToRGB(nx*360, 0.7, 0.8)
			brightness := 0.3 + 0.7*(1-ny)

			stripePhase := (nx+ny)*20 - elapsed*2
			stripe := (sinf(stripePhase)*0.5+0.5)*0.3 + 0.7

			checker := float32(1)
			if nx > 0.35 && nx < 0.65 && ny > 0.35 && ny < 0.65 {
				if (x/32+y/32)%2 == 0 {
					checker = 0.9
				} else {
					checker = 0.6
				}
			}

			r *= brightness * stripe * checker
			g *= brightness * stripe * checker
			b *= brightness * stripe * checker

			if y == h/2 || y == h/2+1 || x == w/2 || x == w/2+1 {
				r, g, b = 1, 1, 1
			}

			if ny > 0.9 {
				r, g, b = colourBar(int(nx * 8))
			}

			pixels[offset] = clampByte(r)
			pixels[offset+1] = clampByte(g)
			pixels[offset+2] = clampByte(b)
			pixels[offset+3] = 255
		}
	}
	return pixels
}

// generateErrorFrame renders the red-tinted diagnostic pattern shown in
// the Error state.
func generateErrorFrame(width, height uint32) []byte {
	w := int(width)
	h := int(height)
	pixels := make([]byte, w*h*4)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			offset := (y*w + x) * 4
			nx := float32(x) / float32(w)
			ny := float32(y) / float32(h)

			var r, g, b float32 = 0.3, 0.05, 0.05
			if sinf((nx+ny)*30) > 0 {
				r, g, b = 0.6, 0.1, 0.1
			}

			pixels[offset] = clampByte(r)
			pixels[offset+1] = clampByte(g)
			pixels[offset+2] = clampByte(b)
			pixels[offset+3] = 255
		}
	}
	return pixels
}

// generateSyntheticFrame renders a stand-in decoded frame: a sweeping
// gradient keyed to the pts, a moving progress bar, a faint grid, and a
// binary frame counter in the top-left blocks so sequencing is visible.
func generateSyntheticFrame(width, height uint32, frameNum uint64, ptsSecs float64) []byte {
	w := int(width)
	h := int(height)
	pixels := make([]byte, w*h*4)
	phase := float32(ptsSecs)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			offset := (y*w + x) * 4
			nx := float32(x) / float32(w)
			ny := float32(y) / float32(h)

			hue := float32(math.Mod(float64(nx*180+phase*60), 360))
			r, g, b := hsvToRGB(hue, 0.6, 0.7+0.3*ny)

			barPos := float32(math.Mod(float64(phase*0.2), 1))
			barDist := nx - barPos
			if barDist < 0 {
				barDist = -barDist
			}
			bar := clampF(1-barDist*10, 0, 0.3)

			var grid float32
			if x%64 < 2 || y%64 < 2 {
				grid = 0.1
			}

			pixels[offset] = clampByte(r + bar + grid)
			pixels[offset+1] = clampByte(g + bar + grid)
			pixels[offset+2] = clampByte(b + bar + grid)
			pixels[offset+3] = 255
		}
	}

	// Frame number as a row of binary blocks.
	const blockSize = 16
	for bit := 0; bit < 16; bit++ {
		set := (frameNum>>bit)&1 == 1
		x0 := 8 + bit*(blockSize+4)
		if x0+blockSize >= w {
			break
		}
		for y := 8; y < 8+blockSize && y < h; y++ {
			for x := x0; x < x0+blockSize; x++ {
				offset := (y*w + x) * 4
				v := byte(40)
				if set {
					v = 255
				}
				pixels[offset] = v
				pixels[offset+1] = v
				pixels[offset+2] = v
				pixels[offset+3] = 255
			}
		}
	}
	return pixels
}

func colourBar(idx int) (float32, float32, float32) {
	switch idx {
	case 0:
		return 1, 1, 1
	case 1:
		return 1, 1, 0
	case 2:
		return 0, 1, 1
	case 3:
		return 0, 1, 0
	case 4:
		return 1, 0, 1
	case 5:
		return 1, 0, 0
	case 6:
		return 0, 0, 1
	}
	return 0, 0, 0
}

// hsvToRGB converts H in [0,360), S and V in [0,1] to RGB in [0,1].
func hsvToRGB(h, s, v float32) (float32, float32, float32) {
	c := v * s
	hp := h / 60
	x := c * (1 - absF(float32(math.Mod(float64(hp), 2))-1))
	m := v - c

	var r, g, b float32
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return r + m, g + m, b + m
}

func sinf(v float32) float32 { return float32(math.Sin(float64(v))) }

func absF(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float32) byte {
	return byte(clampF(v, 0, 1) * 255)
}
