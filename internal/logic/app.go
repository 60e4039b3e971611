package logic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"
)

var (
	ErrNotLoggedIn = errors.New("login required")
	ErrInvalidTab  = errors.New("invalid tab")
)

// AppOptions 每个设备共用的参数
type AppOptions struct {
	Encoder     FrameEncoder
	ReplayTurns int
}

// AppState 前端渲染需要的会话状态
type AppState struct {
	User      *db.User `json:"user"`
	DarkMode  bool     `json:"darkMode"`
	ActiveTab string   `json:"activeTab"`
	Scanning  bool     `json:"scanning"`
}

// App 一个设备的全部状态。任何变更之后三条记录整体重新保存。
type App struct {
	mu         sync.Mutex
	device     string
	persist    *Persistence
	gateway    Gateway
	opts       AppOptions
	preferDark bool

	session  Session
	history  *HistoryStore
	darkMode bool
	chat     *ChatFlow
	capture  *CaptureFlow
}

// LoadApp 从存储恢复设备状态，相当于页面重新加载
func LoadApp(ctx context.Context, store db.Store, device string, gateway Gateway, opts AppOptions, preferDark bool) *App {
	p := NewPersistence(store, device)
	a := &App{
		device:     device,
		persist:    p,
		gateway:    gateway,
		opts:       opts,
		preferDark: preferDark,
		session:    newSession(p.LoadUser(ctx)),
		darkMode:   p.LoadTheme(ctx, preferDark),
		chat:       NewChatFlow(gateway, opts.ReplayTurns),
	}
	a.history = NewHistoryStore(p.LoadHistory(ctx), a.saveHistoryLocked)
	return a
}

func (a *App) Device() string {
	return a.device
}

func (a *App) State() AppState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AppState{
		User:      a.session.currentUser(),
		DarkMode:  a.darkMode,
		ActiveTab: a.session.activeTab,
		Scanning:  a.session.scanning,
	}
}

func (a *App) CurrentUser() *db.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.currentUser()
}

func (a *App) LoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.loggedIn()
}

// Login 生成本地资料，不做任何凭据校验
func (a *App) Login(ctx context.Context, email, name string) (db.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.session.login(email, name)
	return u, a.saveAllLocked(ctx)
}

// Logout 保留历史和主题
func (a *App) Logout(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCaptureLocked()
	a.session.logout()
	a.resetChatLocked()
	return a.saveAllLocked(ctx)
}

// DeleteAccount 清空用户、历史和主题，并删除全部持久化记录。
// 不可恢复，调用方需要先确认。
func (a *App) DeleteAccount(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCaptureLocked()
	a.session.logout()
	a.resetChatLocked()
	a.history.reset()
	a.darkMode = a.preferDark
	if err := a.persist.Clear(ctx); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	slog.Info("Account deleted", "device_id", a.device)
	return nil
}

func (a *App) DarkMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.darkMode
}

func (a *App) ToggleTheme(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.darkMode = !a.darkMode
	return a.darkMode, a.saveAllLocked(ctx)
}

// Navigate 切换标签；scan 会打开拍照界面
func (a *App) Navigate(ctx context.Context, tab string) error {
	if !common.IsValidTab(tab) {
		return fmt.Errorf("%w: %q", ErrInvalidTab, tab)
	}
	if tab == common.TabScan {
		_, err := a.OpenScanner(ctx, NewUploadCamera(false))
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session.navigate(tab)
	return nil
}

func (a *App) History() []db.Scan {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.List()
}

func (a *App) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Summarize(a.history.List())
}

func (a *App) InsertScan(ctx context.Context, scan db.Scan) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.Insert(ctx, scan)
}

func (a *App) DeleteScan(ctx context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history.Delete(ctx, id)
}

// Chat 当前会话的聊天；登出后换成新的记录
func (a *App) Chat() *ChatFlow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chat
}

func (a *App) resetChatLocked() {
	a.chat = NewChatFlow(a.gateway, a.opts.ReplayTurns)
}

// OpenScanner 打开拍照界面并申请摄像头。
// 权限失败时流程仍然保留，可以 Retry。
func (a *App) OpenScanner(ctx context.Context, camera Camera) (*CaptureFlow, error) {
	a.mu.Lock()
	a.closeCaptureLocked()
	var flow *CaptureFlow
	flow = NewCaptureFlow(camera, a.gateway, a.opts.Encoder, func(scan db.Scan) error {
		return a.completeScan(context.Background(), flow, scan)
	})
	a.capture = flow
	a.session.navigate(common.TabScan)
	a.mu.Unlock()

	if err := flow.Start(ctx); err != nil {
		return flow, err
	}
	return flow, nil
}

// Scanner 当前打开的拍照流程，没有时返回 nil
func (a *App) Scanner() *CaptureFlow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capture
}

func (a *App) CloseScanner() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCaptureLocked()
	a.session.closeScanner()
}

func (a *App) completeScan(ctx context.Context, flow *CaptureFlow, scan db.Scan) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	// 拍照界面已经关闭或被替换，结果丢弃
	if a.capture != flow {
		return ErrFlowClosed
	}
	a.capture = nil
	a.session.scanCompleted()
	slog.Info("Scan completed", "device_id", a.device, "scan_id", scan.ID)
	return a.history.Insert(ctx, scan)
}

func (a *App) closeCaptureLocked() {
	if a.capture != nil {
		a.capture.Close()
		a.capture = nil
	}
}

func (a *App) saveHistoryLocked(ctx context.Context, _ []db.Scan) error {
	return a.saveAllLocked(ctx)
}

// saveAllLocked 三条记录整体覆盖写入
func (a *App) saveAllLocked(ctx context.Context) error {
	if err := a.persist.SaveUser(ctx, a.session.user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if err := a.persist.SaveHistory(ctx, a.history.scans); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	if err := a.persist.SaveTheme(ctx, a.darkMode); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

// Registry 按设备懒加载 App
type Registry struct {
	mu      sync.Mutex
	apps    map[string]*App
	store   db.Store
	gateway Gateway
	opts    AppOptions
}

func NewRegistry(store db.Store, gateway Gateway, opts AppOptions) *Registry {
	return &Registry{
		apps:    make(map[string]*App),
		store:   store,
		gateway: gateway,
		opts:    opts,
	}
}

// Get preferDark 只在第一次加载时作为主题默认值
func (r *Registry) Get(ctx context.Context, device string, preferDark bool) *App {
	r.mu.Lock()
	defer r.mu.Unlock()
	if app, ok := r.apps[device]; ok {
		return app
	}
	app := LoadApp(ctx, r.store, device, r.gateway, r.opts, preferDark)
	r.apps[device] = app
	return app
}

// Forget 丢弃内存中的 App，下次 Get 会从存储重新加载
func (r *Registry) Forget(device string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if app, ok := r.apps[device]; ok {
		app.CloseScanner()
		delete(r.apps, device)
	}
}
