// Package gallery holds the image overlay state machine and the detail view
// it displays.
package gallery

import (
	"sync"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
)

// State is the overlay state.
type State int

// Overlay states.
const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Input is an event the overlay reacts to.
type Input int

// Overlay inputs. Select carries an image; the rest dismiss.
const (
	Select Input = iota
	EscapeKey
	OutsideClick
	CloseButton
)

func (i Input) String() string {
	switch i {
	case Select:
		return "select"
	case EscapeKey:
		return "escape"
	case OutsideClick:
		return "outside_click"
	case CloseButton:
		return "close_button"
	default:
		return "unknown"
	}
}

// Overlay is closed until an image is selected; any dismiss input closes it.
// Inputs that do not apply in the current state are ignored.
type Overlay struct {
	mu    sync.Mutex
	state State
	image *catalog.ImageMetadata
}

// State returns the current state.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Image returns the displayed image, if any.
func (o *Overlay) Image() (catalog.ImageMetadata, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.image == nil {
		return catalog.ImageMetadata{}, false
	}
	return *o.image, true
}

// Open selects img. Selecting while already open is ignored.
func (o *Overlay) Open(img catalog.ImageMetadata) bool {
	return o.apply(Select, &img)
}

// Dismiss applies a closing input. It reports whether the state changed.
func (o *Overlay) Dismiss(in Input) bool {
	if in == Select {
		return false
	}
	return o.apply(in, nil)
}

func (o *Overlay) apply(in Input, img *catalog.ImageMetadata) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case Closed:
		if in != Select || img == nil {
			return false
		}
		o.state = Open
		o.image = img
		return true
	case Open:
		switch in {
		case EscapeKey, OutsideClick, CloseButton:
			o.state = Closed
			o.image = nil
			return true
		default:
			return false
		}
	default:
		return false
	}
}
