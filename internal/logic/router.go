package logic

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"agrodetect-backend/internal/common"

	"github.com/gin-gonic/gin"
)

const (
	deviceHeader    = "X-Device-ID"
	defaultDevice   = "default"
	colorSchemeHint = "Sec-CH-Prefers-Color-Scheme"
	appContextKey   = "app"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Handler 持有所有接口依赖
type Handler struct {
	registry *Registry
	cfg      *common.Config
}

func NewHandler(registry *Registry, cfg *common.Config) *Handler {
	return &Handler{registry: registry, cfg: cfg}
}

// SetupRouter 路由入口
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	api := r.Group("/api", h.deviceMiddleware)
	api.GET("/state", h.StateHandler)
	api.POST("/login", h.LoginHandler)

	auth := api.Group("", h.requireLogin)
	auth.POST("/logout", h.LogoutHandler)
	auth.POST("/account/delete", h.DeleteAccountHandler)
	auth.POST("/theme/toggle", h.ToggleThemeHandler)
	auth.POST("/nav", h.NavHandler)
	auth.GET("/summary", h.SummaryHandler)
	auth.GET("/history", h.HistoryHandler)
	auth.DELETE("/history/:id", h.DeleteScanHandler)
	auth.POST("/scan/open", h.OpenScanHandler)
	auth.POST("/scan/retry", h.RetryScanHandler)
	auth.POST("/scan", h.ScanHandler)
	auth.POST("/scan/close", h.CloseScanHandler)
	auth.GET("/scan/status", h.ScanStatusHandler)
	auth.GET("/chat", h.ChatHistoryHandler)
	auth.POST("/chat", h.ChatHandler)
	auth.GET("/chat/ws", h.ChatWSHandler)

	return r
}

// deviceMiddleware 根据设备 ID 取出对应的 App
func (h *Handler) deviceMiddleware(c *gin.Context) {
	c.Header("Accept-CH", colorSchemeHint)
	device := strings.TrimSpace(c.GetHeader(deviceHeader))
	if device == "" {
		device = defaultDevice
	}
	if !deviceIDPattern.MatchString(device) {
		c.AbortWithStatusJSON(400, gin.H{"error": "invalid device id"})
		return
	}
	c.Set(appContextKey, h.registry.Get(c.Request.Context(), device, h.prefersDark(c)))
	c.Next()
}

// prefersDark 客户端提示优先，没有时用配置的默认值
func (h *Handler) prefersDark(c *gin.Context) bool {
	hint := strings.Trim(strings.TrimSpace(c.GetHeader(colorSchemeHint)), `"`)
	switch strings.ToLower(hint) {
	case "dark":
		return true
	case "light":
		return false
	}
	return h.cfg.DefaultDarkMode
}

func (h *Handler) requireLogin(c *gin.Context) {
	if !appFrom(c).LoggedIn() {
		c.AbortWithStatusJSON(403, gin.H{"error": ErrNotLoggedIn.Error()})
		return
	}
	c.Next()
}

func appFrom(c *gin.Context) *App {
	return c.MustGet(appContextKey).(*App)
}

// writeError 把领域错误映射成状态码
func writeError(c *gin.Context, err error) {
	var permErr *PermissionError
	var analysisErr *AnalysisError
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		c.JSON(403, gin.H{"error": err.Error()})
	case errors.As(err, &permErr):
		c.JSON(403, gin.H{"error": common.CameraErrorMsg})
	case errors.As(err, &analysisErr):
		c.JSON(502, gin.H{"error": common.AnalysisErrorMsg})
	case errors.Is(err, ErrAnalysisInFlight), errors.Is(err, ErrNoPreview), errors.Is(err, ErrFlowClosed):
		c.JSON(409, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidTab):
		c.JSON(400, gin.H{"error": err.Error()})
	default:
		slog.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(500, gin.H{"error": "internal error"})
	}
}

// StateHandler 页面渲染需要的全部会话状态
func (h *Handler) StateHandler(c *gin.Context) {
	app := appFrom(c)
	resp := gin.H{"state": app.State()}
	if flow := app.Scanner(); flow != nil {
		resp["capture"] = flow.Snapshot()
	}
	c.JSON(200, resp)
}

// LoginHandler 登录和注册走同一个入口，密码不做校验
func (h *Handler) LoginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
		Mode     string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(400, gin.H{"error": "email and password required"})
		return
	}
	user, err := appFrom(c).Login(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"user": user})
}

func (h *Handler) LogoutHandler(c *gin.Context) {
	if err := appFrom(c).Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"message": "logged out"})
}

// DeleteAccountHandler 不可恢复，必须带 confirm
func (h *Handler) DeleteAccountHandler(c *gin.Context) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
		c.JSON(400, gin.H{"error": "confirmation required"})
		return
	}
	if err := appFrom(c).DeleteAccount(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"message": "account deleted"})
}

func (h *Handler) ToggleThemeHandler(c *gin.Context) {
	dark, err := appFrom(c).ToggleTheme(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"darkMode": dark})
}

func (h *Handler) NavHandler(c *gin.Context) {
	var req struct {
		Tab string `json:"tab"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Tab == "" {
		c.JSON(400, gin.H{"error": "tab required"})
		return
	}
	app := appFrom(c)
	if err := app.Navigate(c.Request.Context(), req.Tab); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"state": app.State()})
}

// SummaryHandler 首页统计
func (h *Handler) SummaryHandler(c *gin.Context) {
	app := appFrom(c)
	c.JSON(200, gin.H{
		"user":         app.CurrentUser(),
		"summary":      app.Summary(),
		"quote":        PickQuote(),
		"plantClasses": common.PlantClasses,
	})
}

func (h *Handler) HistoryHandler(c *gin.Context) {
	c.JSON(200, gin.H{"history": appFrom(c).History()})
}

// DeleteScanHandler 不存在的 id 直接返回 deleted=false
func (h *Handler) DeleteScanHandler(c *gin.Context) {
	deleted, err := appFrom(c).DeleteScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"deleted": deleted})
}

type cameraRequest struct {
	Denied bool `json:"denied"`
}

// OpenScanHandler 打开拍照界面，denied 是客户端拿到的摄像头权限结果
func (h *Handler) OpenScanHandler(c *gin.Context) {
	var req cameraRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "invalid request"})
			return
		}
	}
	flow, err := appFrom(c).OpenScanner(c.Request.Context(), NewUploadCamera(req.Denied))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"capture": flow.Snapshot()})
}

// RetryScanHandler 权限失败后重新申请摄像头
func (h *Handler) RetryScanHandler(c *gin.Context) {
	var req cameraRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "invalid request"})
			return
		}
	}
	app := appFrom(c)
	flow := app.Scanner()
	if flow == nil {
		c.JSON(409, gin.H{"error": "scanner not open"})
		return
	}
	if cam, ok := flow.Camera().(*UploadCamera); ok {
		cam.SetDenied(req.Denied)
	}
	if err := flow.Retry(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"capture": flow.Snapshot()})
}

// ScanHandler 上传画面、识别并写入历史。
// 拍照界面没打开时自动打开一个。
func (h *Handler) ScanHandler(c *gin.Context) {
	data, status, err := h.readImage(c)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid image"})
		return
	}

	app := appFrom(c)
	ctx := c.Request.Context()
	flow := app.Scanner()
	if flow == nil {
		if flow, err = app.OpenScanner(ctx, NewUploadCamera(false)); err != nil {
			writeError(c, err)
			return
		}
	}
	cam, ok := flow.Camera().(*UploadCamera)
	if !ok {
		c.JSON(409, gin.H{"error": "scanner does not accept uploads"})
		return
	}
	cam.Put(frame)

	scan, err := flow.Capture(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"scan": scan, "capture": flow.Snapshot(), "state": app.State()})
}

// readImage 支持 multipart 的 image 字段或 JSON 的 data URI / base64
func (h *Handler) readImage(c *gin.Context) ([]byte, int, error) {
	limit := h.cfg.MaxImageBytes
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)
		fh, err := c.FormFile("image")
		if err != nil {
			return nil, 400, errors.New("image required")
		}
		if fh.Size > limit {
			return nil, 413, errors.New("image too large")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, 400, errors.New("image required")
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, limit+1))
		if err != nil {
			return nil, 400, errors.New("read image failed")
		}
		if int64(len(data)) > limit {
			return nil, 413, errors.New("image too large")
		}
		return data, 0, nil
	}

	// base64 会膨胀约三分之一
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit*2)
	var req struct {
		Image string `json:"image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, 413, errors.New("image too large")
		}
		return nil, 400, errors.New("image required")
	}
	data, err := DecodeImagePayload(req.Image)
	if err != nil {
		return nil, 400, errors.New("invalid image")
	}
	if int64(len(data)) > limit {
		return nil, 413, errors.New("image too large")
	}
	return data, 0, nil
}

func (h *Handler) CloseScanHandler(c *gin.Context) {
	app := appFrom(c)
	app.CloseScanner()
	c.JSON(200, gin.H{"state": app.State()})
}

func (h *Handler) ScanStatusHandler(c *gin.Context) {
	app := appFrom(c)
	flow := app.Scanner()
	if flow == nil {
		c.JSON(200, gin.H{"open": false, "state": app.State()})
		return
	}
	c.JSON(200, gin.H{"open": true, "capture": flow.Snapshot(), "state": app.State()})
}

// ChatHistoryHandler 当前会话的聊天记录
func (h *Handler) ChatHistoryHandler(c *gin.Context) {
	chat := appFrom(c).Chat()
	c.JSON(200, gin.H{"messages": chat.Messages(), "pending": chat.Pending()})
}

// ChatHandler 发送问题并等待回复
func (h *Handler) ChatHandler(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(400, gin.H{"error": "content required"})
		return
	}
	chat := appFrom(c).Chat()
	if !chat.Send(c.Request.Context(), req.Content) {
		c.JSON(409, gin.H{"error": "previous message still pending"})
		return
	}
	if err := chat.Wait(c.Request.Context()); err != nil {
		// 客户端断开，回复仍会写入记录
		c.JSON(202, gin.H{"messages": chat.Messages(), "pending": true})
		return
	}
	c.JSON(200, gin.H{"messages": chat.Messages(), "pending": chat.Pending()})
}
