package logic

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"

	"github.com/google/uuid"
)

type CaptureState string

const (
	StateIdle       CaptureState = "idle"
	StateRequesting CaptureState = "requesting-camera"
	StatePreview    CaptureState = "live-preview"
	StateCapturing  CaptureState = "capturing"
	StateAnalyzing  CaptureState = "analyzing"
	StateComplete   CaptureState = "complete"
	StateFailed     CaptureState = "failed"
	StateClosed     CaptureState = "closed"
)

var (
	ErrAnalysisInFlight = errors.New("analysis already in progress")
	ErrFlowClosed       = errors.New("capture flow closed")
	ErrNoPreview        = errors.New("camera preview not active")
)

// PermissionError 摄像头被拒绝或不可用
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("camera unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Camera 摄像头来源
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream 已打开的画面流，Stop 会停止所有轨道
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Stop()
}

// CaptureSnapshot 给前端渲染用的状态
type CaptureSnapshot struct {
	State     CaptureState `json:"state"`
	Error     string       `json:"error,omitempty"`
	Analyzing bool         `json:"analyzing"`
}

// CaptureFlow 拍照识别流程
// idle -> requesting-camera -> live-preview -> capturing -> analyzing -> complete | failed
type CaptureFlow struct {
	mu         sync.Mutex
	camera     Camera
	analyzer   Analyzer
	encoder    FrameEncoder
	onComplete func(db.Scan) error
	now        func() time.Time

	state  CaptureState
	errMsg string
	stream Stream
	closed bool
}

func NewCaptureFlow(camera Camera, analyzer Analyzer, encoder FrameEncoder, onComplete func(db.Scan) error) *CaptureFlow {
	return &CaptureFlow{
		camera:     camera,
		analyzer:   analyzer,
		encoder:    encoder,
		onComplete: onComplete,
		now:        time.Now,
		state:      StateIdle,
	}
}

func (f *CaptureFlow) Camera() Camera {
	return f.camera
}

func (f *CaptureFlow) Snapshot() CaptureSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return CaptureSnapshot{
		State:     f.state,
		Error:     f.errMsg,
		Analyzing: f.state == StateCapturing || f.state == StateAnalyzing,
	}
}

// Start 申请摄像头；已经在预览时什么都不做
func (f *CaptureFlow) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.state != StateIdle && f.state != StateFailed {
		f.mu.Unlock()
		return nil
	}
	f.state = StateRequesting
	f.mu.Unlock()

	stream, err := f.camera.Open(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		if stream != nil {
			stream.Stop()
		}
		return ErrFlowClosed
	}
	if err != nil {
		f.state = StateFailed
		f.errMsg = common.CameraErrorMsg
		slog.Info("Camera request failed", "state", f.state, "error", err)
		return &PermissionError{Err: err}
	}
	f.stream = stream
	f.state = StatePreview
	f.errMsg = ""
	return nil
}

// Retry 权限失败后重新申请
func (f *CaptureFlow) Retry(ctx context.Context) error {
	return f.Start(ctx)
}

// Capture 截取当前画面并识别，同一时间只允许一次识别
func (f *CaptureFlow) Capture(ctx context.Context) (*db.Scan, error) {
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return nil, ErrFlowClosed
	case f.state == StateCapturing || f.state == StateAnalyzing:
		f.mu.Unlock()
		return nil, ErrAnalysisInFlight
	case f.state != StatePreview:
		f.mu.Unlock()
		return nil, ErrNoPreview
	}
	f.state = StateCapturing
	stream := f.stream
	f.mu.Unlock()

	data, err := f.freeze(ctx, stream)
	if err != nil {
		return nil, f.fail(&AnalysisError{Err: err})
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFlowClosed
	}
	f.state = StateAnalyzing
	f.mu.Unlock()

	result, err := f.analyzer.AnalyzeImage(ctx, data)
	if err != nil {
		var ae *AnalysisError
		if !errors.As(err, &ae) {
			err = &AnalysisError{Err: err}
		}
		return nil, f.fail(err)
	}

	f.mu.Lock()
	if f.closed {
		// 流程已关闭，丢弃结果
		f.mu.Unlock()
		return nil, ErrFlowClosed
	}
	scan := db.Scan{
		ID:         uuid.NewString(),
		Timestamp:  f.now().UnixMilli(),
		ImageURL:   JPEGDataURI(data),
		ScanResult: *result,
	}
	f.state = StateComplete
	f.errMsg = ""
	f.releaseLocked()
	cb := f.onComplete
	f.mu.Unlock()

	if cb != nil {
		if err := cb(scan); err != nil {
			return &scan, fmt.Errorf("save scan: %w", err)
		}
	}
	return &scan, nil
}

// Close 任何状态都可以关闭，关闭时释放摄像头
func (f *CaptureFlow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.state = StateClosed
	f.releaseLocked()
}

func (f *CaptureFlow) freeze(ctx context.Context, stream Stream) ([]byte, error) {
	if stream == nil {
		return nil, ErrNoPreview
	}
	frame, err := stream.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("grab frame: %w", err)
	}
	return f.encoder.Encode(frame)
}

// 识别失败回到预览，摄像头保持打开
func (f *CaptureFlow) fail(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFlowClosed
	}
	f.state = StatePreview
	f.errMsg = common.AnalysisErrorMsg
	slog.Warn("Scan analysis failed", "state", f.state, "error", err)
	return err
}

func (f *CaptureFlow) releaseLocked() {
	if f.stream != nil {
		f.stream.Stop()
		f.stream = nil
	}
}

// UploadCamera 画面来自客户端上传的 Camera
type UploadCamera struct {
	mu     sync.Mutex
	denied bool
	frame  image.Image
	active int
}

func NewUploadCamera(denied bool) *UploadCamera {
	return &UploadCamera{denied: denied}
}

// SetDenied 记录客户端上报的权限结果
func (c *UploadCamera) SetDenied(denied bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied = denied
}

// Put 替换当前画面
func (c *UploadCamera) Put(frame image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = frame
}

// Active 返回尚未停止的流数量
func (c *UploadCamera) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *UploadCamera) Open(_ context.Context) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied {
		return nil, errors.New("permission denied by client")
	}
	c.active++
	return &uploadStream{cam: c}, nil
}

type uploadStream struct {
	cam     *UploadCamera
	stopped bool
}

func (s *uploadStream) Frame(_ context.Context) (image.Image, error) {
	s.cam.mu.Lock()
	defer s.cam.mu.Unlock()
	if s.stopped {
		return nil, errors.New("stream stopped")
	}
	if s.cam.frame == nil {
		return nil, errors.New("no frame uploaded")
	}
	return s.cam.frame, nil
}

func (s *uploadStream) Stop() {
	s.cam.mu.Lock()
	defer s.cam.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		s.cam.active--
	}
}
