package navigation

// History is the back stack. It is never empty and its last element is the
// current view.
type History struct {
	views []View
}

func NewHistory(initial View) History {
	return History{views: []View{initial}}
}

func (h *History) Current() View {
	return h.views[len(h.views)-1]
}

func (h *History) Len() int {
	return len(h.views)
}

// Push appends v unless it is already current. It reports whether the
// history changed.
func (h *History) Push(v View) bool {
	if h.Current() == v {
		return false
	}
	h.views = append(h.views, v)
	return true
}

// Pop drops the current view unless it is the only one.
func (h *History) Pop() bool {
	if len(h.views) <= 1 {
		return false
	}
	h.views = h.views[:len(h.views)-1]
	return true
}

// Reset replaces the whole history with v.
func (h *History) Reset(v View) {
	h.views = []View{v}
}

// Views returns a copy of the stack, oldest first.
func (h *History) Views() []View {
	return append([]View(nil), h.views...)
}
