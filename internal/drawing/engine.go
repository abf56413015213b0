package drawing

import (
	"fmt"
	"sync"

	"chartdraw/internal/logger"
	"chartdraw/internal/market"
)

// Options 配置 Engine。回调在引擎锁释放后执行，可以安全地回调引擎。
type Options struct {
	Candles       *market.Series
	FibLevels     *FibLevelConfig
	SwingDedupPct float64
	// OnDrawingChange 在标注集合变化后收到全部标注。
	OnDrawingChange func(all []Snapshot)
	// OnDrawingComplete 在新标注创建后收到该标注。
	OnDrawingComplete func(created Snapshot)
}

// ClickResult 描述一次点击的处理结果。
type ClickResult struct {
	Snapped *SnappedPoint `json:"snapped,omitempty"`
	State   ToolState     `json:"state"`
	Created *Snapshot     `json:"created,omitempty"`
	// Duplicate 表示 swing point 与已有标记重复而被忽略。
	Duplicate bool `json:"duplicate,omitempty"`
}

// Engine 串行处理所有绘图事件。HTTP 请求与配置热加载并发调用，
// 所有状态变更都在 mu 内完成。
type Engine struct {
	mu       sync.Mutex
	host     Host
	coords   *CoordinateAdapter
	snapper  *Snapper
	machine  *Machine
	factory  *Factory
	renderer *Renderer
	history  *History
	fib      *FibLevelConfig
	dedupPct float64
	closed   bool

	onChange   func([]Snapshot)
	onComplete func(Snapshot)

	unsubFib    func()
	unbindClick func()
	log         logger.Scoped
}

type pendingEvents struct {
	all     []Snapshot
	changed bool
	created *Snapshot
}

func NewEngine(host Host, opts Options) (*Engine, error) {
	if host == nil {
		return nil, newError(CodeHostCapability, "host chart is required", nil)
	}
	fib := opts.FibLevels
	if fib == nil {
		var err error
		if fib, err = NewFibLevelConfig(nil); err != nil {
			return nil, err
		}
	}
	dedup := opts.SwingDedupPct
	if dedup <= 0 {
		dedup = DefaultSwingDedupPct
	}
	renderer := NewRenderer(host)
	e := &Engine{
		host:       host,
		coords:     NewCoordinateAdapter(host),
		snapper:    NewSnapper(opts.Candles),
		machine:    NewMachine(),
		factory:    NewFactory(fib),
		renderer:   renderer,
		history:    NewHistory(renderer),
		fib:        fib,
		dedupPct:   dedup,
		onChange:   opts.OnDrawingChange,
		onComplete: opts.OnDrawingComplete,
		log:        logger.Named("drawing"),
	}
	e.unsubFib = fib.Subscribe(e.onFibLevels)
	return e, nil
}

// BindClicks 订阅宿主的点击事件；宿主不支持时立即失败。
func (e *Engine) BindClicks() error {
	src, ok := e.host.(ClickSource)
	if !ok {
		return newError(CodeHostCapability, fmt.Sprintf("host %T cannot deliver clicks", e.host), nil)
	}
	unbind := src.SubscribeClick(func(x, y float64) {
		if _, err := e.HandleClick(x, y); err != nil {
			e.log.Debugf("click (%.1f,%.1f) dropped: %v", x, y, err)
		}
	})
	e.mu.Lock()
	prev := e.unbindClick
	e.unbindClick = unbind
	e.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

func (e *Engine) FibLevels() *FibLevelConfig { return e.fib }

// SetCandles 整体替换 K 线数据。已有标注保留，未完成的起点作废。
func (e *Engine) SetCandles(series *market.Series) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.snapper = NewSnapper(series)
	if e.machine.Cancel() {
		e.log.Debugf("pending start discarded after candle reload")
	}
	return nil
}

func (e *Engine) Candles() *market.Series {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapper.Series()
}

func (e *Engine) SelectTool(t Tool) (ToolState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ToolState{}, ErrEngineClosed
	}
	if err := e.machine.SelectTool(t); err != nil {
		return e.machine.Snapshot(), err
	}
	return e.machine.Snapshot(), nil
}

func (e *Engine) ToolState() ToolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Snapshot()
}

// PendingStartPixel 返回未完成起点的像素位置，页面据此画橡皮筋线；没有起点时返回 nil。
func (e *Engine) PendingStartPixel() (*PixelPoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	st := e.machine.Snapshot()
	if st.PendingStart == nil {
		return nil, nil
	}
	px, err := e.coords.DataToPixel(st.PendingStart.Point)
	if err != nil {
		return nil, err
	}
	return &px, nil
}

// CancelPending 丢弃未完成的起点（Esc），返回是否有起点被丢弃。
func (e *Engine) CancelPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Cancel()
}

// HandleClick 处理像素坐标点击。宿主未就绪时点击被丢弃，状态不变。
func (e *Engine) HandleClick(x, y float64) (ClickResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ClickResult{}, ErrEngineClosed
	}
	p, err := e.coords.PixelToData(x, y)
	if err != nil {
		res := ClickResult{State: e.machine.Snapshot()}
		e.mu.Unlock()
		return res, err
	}
	res, ev, err := e.handlePointLocked(p)
	e.mu.Unlock()
	e.emit(ev)
	return res, err
}

// HandleDataClick 处理已经是数据坐标的点击。
func (e *Engine) HandleDataClick(p Point) (ClickResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ClickResult{}, ErrEngineClosed
	}
	res, ev, err := e.handlePointLocked(p)
	e.mu.Unlock()
	e.emit(ev)
	return res, err
}

func (e *Engine) handlePointLocked(p Point) (ClickResult, pendingEvents, error) {
	var ev pendingEvents
	if e.machine.State() == StateIdle {
		return ClickResult{State: e.machine.Snapshot()}, ev, nil
	}
	sp, err := e.snapper.Snap(p)
	if err != nil {
		return ClickResult{State: e.machine.Snapshot()}, ev, err
	}
	res := ClickResult{Snapped: &sp}
	draft, ok := e.machine.Click(sp)
	if !ok {
		res.State = e.machine.Snapshot()
		return res, ev, nil
	}
	candle, _ := e.snapper.Candle(draft.Start)
	a, err := e.factory.Build(draft, candle)
	if err != nil {
		e.machine.Restore(draft.Start)
		res.State = e.machine.Snapshot()
		return res, ev, err
	}
	if sw, isSwing := a.(*SwingPoint); isSwing && isDuplicateSwing(e.history.SwingPoints(), sw, e.dedupPct) {
		e.log.Debugf("duplicate %s swing at %d %.8f ignored", sw.Kind, sw.Time, sw.Price)
		res.State = e.machine.Snapshot()
		res.Duplicate = true
		return res, ev, nil
	}

	handles := e.renderer.Create(a)
	e.history.Push(a)
	if ownsMarkers(a) {
		_ = e.renderer.SyncMarkers(e.history.All())
	}
	e.log.Debugf("%s %s created with %d handles", a.Tool(), a.ID(), len(handles))

	created := Describe(a)
	res.Created = &created
	res.State = e.machine.Snapshot()
	ev.created = &created
	ev.changed = true
	ev.all = DescribeAll(e.history.All())
	return res, ev, nil
}

// UndoLast 移除最后一个标注，空历史时为 no-op。
func (e *Engine) UndoLast() (*Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	var ev pendingEvents
	var out *Snapshot
	if a, n := e.history.UndoLast(); a != nil {
		s := Describe(a)
		out = &s
		ev.changed = true
		ev.all = DescribeAll(e.history.All())
		e.log.Debugf("undo %s %s, disposed %d handles", a.Tool(), a.ID(), n)
	}
	e.mu.Unlock()
	e.emit(ev)
	return out, nil
}

// ClearAll 移除全部标注，返回销毁的句柄数。
func (e *Engine) ClearAll() (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEngineClosed
	}
	var ev pendingEvents
	count := e.history.Len()
	n := e.history.ClearAll()
	if count > 0 {
		ev.changed = true
		ev.all = []Snapshot{}
		e.log.Infof("cleared %d annotations, disposed %d handles", count, n)
	}
	e.mu.Unlock()
	e.emit(ev)
	return n, nil
}

func (e *Engine) Annotations() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return DescribeAll(e.history.All())
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Len()
}

// LiveHandles 返回宿主上仍存在的图元数量。
func (e *Engine) LiveHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderer.Outstanding()
}

func (e *Engine) RenderStats() RenderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderer.Stats()
}

// Resize 只改变宿主像素尺寸，不触碰任何标注。
func (e *Engine) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid size %dx%d", width, height)
	}
	r, ok := e.host.(Resizer)
	if !ok {
		return newError(CodeHostCapability, fmt.Sprintf("host %T cannot resize", e.host), nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	r.Resize(width, height)
	return nil
}

// Close 在宿主销毁前释放所有图元并取消订阅，可重复调用。
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	unsubFib, unbind := e.unsubFib, e.unbindClick
	e.unsubFib, e.unbindClick = nil, nil
	n := e.renderer.DisposeAll()
	e.mu.Unlock()

	if unsubFib != nil {
		unsubFib()
	}
	if unbind != nil {
		unbind()
	}
	e.log.Infof("engine closed, disposed %d handles", n)
	return nil
}

func (e *Engine) onFibLevels(levels []FibLevel) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	var ev pendingEvents
	n := e.history.RebuildFibonacci(levels)
	if n > 0 {
		ev.changed = true
		ev.all = DescribeAll(e.history.All())
	}
	e.mu.Unlock()
	e.log.Infof("fib levels %v applied, rebuilt %d retracements", sortedRatios(levels), n)
	e.emit(ev)
}

func (e *Engine) emit(ev pendingEvents) {
	if ev.created != nil && e.onComplete != nil {
		e.onComplete(*ev.created)
	}
	if ev.changed && e.onChange != nil {
		e.onChange(ev.all)
	}
}
