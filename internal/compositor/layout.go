package compositor

import "image"

// Layout holds the reserved zones of a canvas. The zones never overlap.
type Layout struct {
	Subtitle   image.Rectangle
	Visualizer image.Rectangle
}

// ComputeLayout places the subtitle zone in the lower part of the frame
// and the visualizer zone directly above it.
func ComputeLayout(w, h int) Layout {
	marginX := w * 6 / 100
	gap := h * 2 / 100

	subTop := h * 70 / 100
	subBottom := h * 92 / 100
	vizBottom := subTop - gap
	vizTop := vizBottom - h*18/100

	return Layout{
		Subtitle:   image.Rect(marginX, subTop, w-marginX, subBottom),
		Visualizer: image.Rect(marginX, vizTop, w-marginX, vizBottom),
	}
}
