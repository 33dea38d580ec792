package main

import (
	"fyne.io/fyne"
)

// squares lays objects out as equally sized squares, row by row, centered in
// the available space. A zero column count puts everything in one row.
type squares struct {
	cols, minSide int
}

func (s squares) grid(n int) (cols, rows int) {
	cols = s.cols
	if cols == 0 {
		cols = n
	}
	if cols == 0 {
		return 0, 0
	}
	return cols, (n + cols - 1) / cols
}

func (s squares) MinSize(objects []fyne.CanvasObject) fyne.Size {
	side := s.minSide
	for _, obj := range objects {
		size := obj.MinSize()
		side = max(side, size.Width, size.Height)
	}
	cols, rows := s.grid(len(objects))
	return fyne.NewSize(side*cols, side*rows)
}

func (s squares) Layout(objects []fyne.CanvasObject, size fyne.Size) {
	cols, rows := s.grid(len(objects))
	if rows == 0 {
		return
	}

	side := min(size.Width/cols, size.Height/rows)
	xOffset := (size.Width - side*cols) / 2
	yOffset := (size.Height - side*rows) / 2

	for i, obj := range objects {
		obj.Move(fyne.NewPos(xOffset+i%cols*side, yOffset+i/cols*side))
		obj.Resize(fyne.NewSize(side, side))
	}
}
