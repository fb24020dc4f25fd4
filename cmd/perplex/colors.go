package main

import "fmt"

// Rank color scale: green for exact predictions shading toward red for
// tokens the model found surprising.
type rgb struct{ r, g, b uint8 }

var (
	rankPerfect   = rgb{143, 188, 159}
	rankGoodStart = rgb{216, 195, 165}
	rankModerate  = rgb{210, 160, 146}
	rankPoor      = rgb{192, 132, 132}
	rankVeryPoor  = rgb{164, 112, 120}
)

func interpolate(start, end rgb, t float64) rgb {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return rgb{
		r: uint8(float64(start.r) + (float64(end.r)-float64(start.r))*t),
		g: uint8(float64(start.g) + (float64(end.g)-float64(start.g))*t),
		b: uint8(float64(start.b) + (float64(end.b)-float64(start.b))*t),
	}
}

func rankColor(rank int) rgb {
	switch {
	case rank <= 1:
		return rankPerfect
	case rank <= 10:
		return interpolate(rankPerfect, rankGoodStart, float64(rank-1)/9)
	case rank <= 50:
		return interpolate(rankGoodStart, rankModerate, float64(rank-10)/40)
	case rank <= 100:
		return interpolate(rankModerate, rankPoor, float64(rank-50)/50)
	default:
		return interpolate(rankPoor, rankVeryPoor, float64(rank-100)/200)
	}
}

// colorize wraps s in a 24-bit foreground escape for the given rank.
func colorize(s string, rank int) string {
	c := rankColor(rank)
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m", c.r, c.g, c.b, s)
}
