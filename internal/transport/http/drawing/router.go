package drawinghttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chartdraw/internal/chart/echarts"
	"chartdraw/internal/drawing"
	"chartdraw/internal/logger"

	"github.com/gin-gonic/gin"
)

const maxLevelBody = 64 << 10

// Engine 是路由需要的绘图引擎能力，*drawing.Engine 实现它。
type Engine interface {
	SelectTool(t drawing.Tool) (drawing.ToolState, error)
	ToolState() drawing.ToolState
	CancelPending() bool
	HandleClick(x, y float64) (drawing.ClickResult, error)
	HandleDataClick(p drawing.Point) (drawing.ClickResult, error)
	UndoLast() (*drawing.Snapshot, error)
	ClearAll() (int, error)
	Annotations() []drawing.Snapshot
	Len() int
	LiveHandles() int
	RenderStats() drawing.RenderStats
	Resize(width, height int) error
	PendingStartPixel() (*drawing.PixelPoint, error)
}

// ChartView 提供页面渲染与视口操作，*echarts.Chart 实现它。
type ChartView interface {
	RenderHTML() ([]byte, error)
	RenderPNG(ctx context.Context, timeout time.Duration) ([]byte, error)
	Viewport() echarts.Viewport
	Revision() int64
	Ready() bool
	Zoom(factor, anchorX float64) error
	Pan(dx, dy float64) error
	FitContent()
}

// LevelSettings 是设置面板背后的 Fib 水平存储；
// *loader.FibLoader（写回文件）与 *drawing.FibLevelConfig（仅内存）都实现它。
type LevelSettings interface {
	Levels() []drawing.FibLevel
	Update(levels []drawing.FibLevel) error
	SetVisible(ratio float64, visible bool) error
}

// levelFile 由写回文件的 LevelSettings 额外实现。
type levelFile interface {
	Path() string
	LoadedAt() time.Time
	SaveError() error
}

// LevelDecoder 解析设置面板提交的原始文档。
type LevelDecoder func(raw []byte) ([]drawing.FibLevel, error)

// Event 是推送给页面的一条绘图事件。
type Event struct {
	Type string
	Data any
}

// EventStream 为每个 SSE 连接提供独立订阅。
type EventStream interface {
	Subscribe() (<-chan Event, func())
}

var (
	_ Engine    = (*drawing.Engine)(nil)
	_ ChartView = (*echarts.Chart)(nil)
)

// RouterConfig 描述路由依赖。Chart/Levels/Events 为空时对应接口返回 503。
type RouterConfig struct {
	Engine          Engine
	Chart           ChartView
	Levels          LevelSettings
	DecodeLevels    LevelDecoder
	Events          EventStream
	SnapshotEnabled bool
	SnapshotTimeout time.Duration
}

// Router 暴露绘图引擎的操作接口。
type Router struct {
	engine          Engine
	chart           ChartView
	levels          LevelSettings
	decode          LevelDecoder
	events          EventStream
	snapshotEnabled bool
	snapshotTimeout time.Duration
}

// NewRouter 构造 drawing HTTP router。
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Engine == nil {
		return nil, errors.New("drawing router requires engine")
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 20 * time.Second
	}
	return &Router{
		engine:          cfg.Engine,
		chart:           cfg.Chart,
		levels:          cfg.Levels,
		decode:          cfg.DecodeLevels,
		events:          cfg.Events,
		snapshotEnabled: cfg.SnapshotEnabled,
		snapshotTimeout: cfg.SnapshotTimeout,
	}, nil
}

// Register 将 /api/drawing 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/state", r.handleState)
	group.POST("/tool", r.handleSelectTool)
	group.POST("/click", r.handleClick)
	group.POST("/cancel", r.handleCancel)
	group.POST("/undo", r.handleUndo)
	group.POST("/clear", r.handleClear)
	group.POST("/resize", r.handleResize)
	group.POST("/viewport", r.handleViewport)
	group.GET("/annotations", r.handleAnnotations)
	group.GET("/fib-levels", r.handleGetLevels)
	group.PUT("/fib-levels", r.handlePutLevels)
	group.PATCH("/fib-levels/visibility", r.handleLevelVisibility)
	group.GET("/chart", r.handleChartHTML)
	group.GET("/snapshot.png", r.handleSnapshot)
	group.GET("/events", r.handleEvents)
}

type stateResponse struct {
	Tool         drawing.ToolState   `json:"tool"`
	Annotations  int                 `json:"annotations"`
	LiveHandles  int                 `json:"live_handles"`
	Render       drawing.RenderStats `json:"render"`
	ChartReady   bool                `json:"chart_ready"`
	Viewport     *echarts.Viewport   `json:"viewport,omitempty"`
	Revision     int64               `json:"revision"`
	PendingPixel *drawing.PixelPoint `json:"pending_pixel,omitempty"`
}

func (r *Router) handleState(c *gin.Context) {
	resp := stateResponse{
		Tool:        r.engine.ToolState(),
		Annotations: r.engine.Len(),
		LiveHandles: r.engine.LiveHandles(),
		Render:      r.engine.RenderStats(),
	}
	if r.chart != nil {
		v := r.chart.Viewport()
		resp.ChartReady = r.chart.Ready()
		resp.Viewport = &v
		resp.Revision = r.chart.Revision()
	}
	if px, err := r.engine.PendingStartPixel(); err == nil {
		resp.PendingPixel = px
	} else {
		logger.Debugf("[api] pending start not projected: %v", err)
	}
	c.JSON(http.StatusOK, resp)
}

type toolRequest struct {
	Tool string `json:"tool"`
}

func (r *Router) handleSelectTool(c *gin.Context) {
	var req toolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	tool, err := drawing.ParseTool(req.Tool)
	if err != nil {
		writeError(c, err)
		return
	}
	state, err := r.engine.SelectTool(tool)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// clickRequest 支持像素坐标 {x,y} 或数据坐标 {time,price}。
type clickRequest struct {
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	Time  *int64   `json:"time"`
	Price *float64 `json:"price"`
}

func (r *Router) handleClick(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var (
		res drawing.ClickResult
		err error
	)
	switch {
	case req.X != nil && req.Y != nil:
		res, err = r.engine.HandleClick(*req.X, *req.Y)
	case req.Time != nil && req.Price != nil:
		res, err = r.engine.HandleDataClick(drawing.Point{Time: *req.Time, Price: *req.Price})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "click needs x/y or time/price"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleCancel(c *gin.Context) {
	cancelled := r.engine.CancelPending()
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled, "state": r.engine.ToolState()})
}

func (r *Router) handleUndo(c *gin.Context) {
	removed, err := r.engine.UndoLast()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "remaining": r.engine.Len()})
}

func (r *Router) handleClear(c *gin.Context) {
	n, err := r.engine.ClearAll()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disposed_handles": n, "remaining": r.engine.Len()})
}

type resizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r *Router) handleResize(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Width <= 0 || req.Height <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "width and height must be positive"})
		return
	}
	if err := r.engine.Resize(req.Width, req.Height); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"width": req.Width, "height": req.Height})
}

type viewportRequest struct {
	Action  string  `json:"action"`
	Factor  float64 `json:"factor"`
	AnchorX float64 `json:"anchor_x"`
	DX      float64 `json:"dx"`
	DY      float64 `json:"dy"`
}

func (r *Router) handleViewport(c *gin.Context) {
	if r.chart == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "图表未启用"})
		return
	}
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var err error
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "zoom":
		err = r.chart.Zoom(req.Factor, req.AnchorX)
	case "pan":
		err = r.chart.Pan(req.DX, req.DY)
	case "fit":
		r.chart.FitContent()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be zoom, pan or fit"})
		return
	}
	if err != nil {
		if drawing.ErrorCode(err) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"viewport": r.chart.Viewport(), "revision": r.chart.Revision()})
}

func (r *Router) handleAnnotations(c *gin.Context) {
	list := r.engine.Annotations()
	if tool := strings.TrimSpace(c.Query("tool")); tool != "" {
		t, err := drawing.ParseTool(tool)
		if err != nil {
			writeError(c, err)
			return
		}
		filtered := make([]drawing.Snapshot, 0, len(list))
		for _, s := range list {
			if s.Tool == t {
				filtered = append(filtered, s)
			}
		}
		list = filtered
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "total": len(list)})
}

func (r *Router) handleGetLevels(c *gin.Context) {
	if r.levels == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Fib 设置未启用"})
		return
	}
	c.JSON(http.StatusOK, r.levelsResponse())
}

// levelsResponse 附带文件来源；写回失败时新配置已生效，只返回 warning。
func (r *Router) levelsResponse() gin.H {
	resp := gin.H{"levels": r.levels.Levels()}
	if f, ok := r.levels.(levelFile); ok {
		resp["source"] = gin.H{"path": f.Path(), "loaded_at": f.LoadedAt()}
		if err := f.SaveError(); err != nil {
			resp["warning"] = "levels applied but not saved: " + err.Error()
		}
	}
	return resp
}

func (r *Router) handlePutLevels(c *gin.Context) {
	if r.levels == nil || r.decode == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Fib 设置未启用"})
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxLevelBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "read request body failed"})
		return
	}
	levels, err := r.decode(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := r.levels.Update(levels); err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] fib levels replaced (%d levels) ip=%s", len(levels), c.ClientIP())
	c.JSON(http.StatusOK, r.levelsResponse())
}

type visibilityRequest struct {
	Ratio   *float64 `json:"ratio"`
	Visible *bool    `json:"visible"`
}

func (r *Router) handleLevelVisibility(c *gin.Context) {
	if r.levels == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Fib 设置未启用"})
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Ratio == nil || req.Visible == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ratio and visible are required"})
		return
	}
	if err := r.levels.SetVisible(*req.Ratio, *req.Visible); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r.levelsResponse())
}

func (r *Router) handleChartHTML(c *gin.Context) {
	if r.chart == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "图表未启用"})
		return
	}
	html, err := r.chart.RenderHTML()
	if err != nil {
		logger.Errorf("[api] render chart failed ip=%s err=%v", c.ClientIP(), err)
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) handleSnapshot(c *gin.Context) {
	if r.chart == nil || !r.snapshotEnabled {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "快照未启用"})
		return
	}
	png, err := r.chart.RenderPNG(c.Request.Context(), r.snapshotTimeout)
	if err != nil {
		logger.Errorf("[api] snapshot failed ip=%s err=%v", c.ClientIP(), err)
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// handleEvents 以 SSE 推送绘图事件，直到客户端断开或事件流关闭。
func (r *Router) handleEvents(c *gin.Context) {
	if r.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "事件流未启用"})
		return
	}
	ch, cancel := r.events.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", r.engine.ToolState())
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(ev.Type, ev.Data)
			c.Writer.Flush()
		}
	}
}

// writeError 把引擎错误码映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	code := drawing.ErrorCode(err)
	c.JSON(statusForCode(code), gin.H{"error": err.Error(), "code": code})
}

func statusForCode(code string) int {
	switch code {
	case drawing.CodeChartNotReady:
		return http.StatusConflict
	case drawing.CodeInvalidSnap, drawing.CodeInvalidTool, drawing.CodeInvalidLevels:
		return http.StatusUnprocessableEntity
	case drawing.CodeHostCapability:
		return http.StatusNotImplemented
	case drawing.CodeEngineClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
