package drawing

// History 按创建顺序保存标注。移除一律经由 Renderer：先销毁句柄，再出栈。
type History struct {
	items    []Annotation
	renderer *Renderer
}

func NewHistory(renderer *Renderer) *History {
	return &History{renderer: renderer}
}

func (h *History) Push(a Annotation) {
	if a == nil {
		return
	}
	h.items = append(h.items, a)
}

func (h *History) Len() int { return len(h.items) }

// All 返回副本，调用方可以安全遍历。
func (h *History) All() []Annotation {
	out := make([]Annotation, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Last() (Annotation, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[len(h.items)-1], true
}

// UndoLast 销毁最后一个标注的句柄后出栈；标记类标注出栈后重建共享标记列表。
// 返回被移除的标注和销毁的句柄数，空栈时返回 nil。
func (h *History) UndoLast() (Annotation, int) {
	last, ok := h.Last()
	if !ok {
		return nil, 0
	}
	n := h.renderer.Dispose(last)
	h.items[len(h.items)-1] = nil
	h.items = h.items[:len(h.items)-1]
	if ownsMarkers(last) {
		_ = h.renderer.SyncMarkers(h.items)
		h.renderer.host.Redraw()
	}
	return last, n
}

// ClearAll 销毁全部句柄、清空标记列表并清空历史，返回销毁的句柄数。
func (h *History) ClearAll() int {
	if len(h.items) == 0 {
		return 0
	}
	n := 0
	for _, a := range h.items {
		n += h.renderer.Dispose(a)
	}
	_ = h.renderer.SyncMarkers(nil)
	h.items = nil
	return n
}

func (h *History) Fibonaccis() []*Fibonacci {
	var out []*Fibonacci
	for _, a := range h.items {
		if f, ok := a.(*Fibonacci); ok {
			out = append(out, f)
		}
	}
	return out
}

func (h *History) SwingPoints() []*SwingPoint {
	var out []*SwingPoint
	for _, a := range h.items {
		if s, ok := a.(*SwingPoint); ok {
			out = append(out, s)
		}
	}
	return out
}

// RebuildFibonacci 用新配置重新计算每个回撤的价格并重建图元，返回重建数量。
func (h *History) RebuildFibonacci(levels []FibLevel) int {
	fibs := h.Fibonaccis()
	for _, f := range fibs {
		h.renderer.Dispose(f)
		f.applyLevels(levels)
		h.renderer.Create(f)
	}
	return len(fibs)
}
