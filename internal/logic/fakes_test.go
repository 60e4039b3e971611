package logic

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"agrodetect-backend/internal/db"
)

// fakeGateway 可控的 Gateway，block 不为 nil 时调用会阻塞到关闭为止
type fakeGateway struct {
	mu sync.Mutex

	result       db.ScanResult
	analyzeErr   error
	analyzeCalls int
	analyzeBlock chan struct{}
	analyzeStart chan struct{}

	reply     string
	chatErr   error
	chatCalls int
	chatBlock chan struct{}
	queries   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		result: db.ScanResult{
			PlantName:  "Tomato",
			Condition:  "Early Blight",
			IsDried:    false,
			Confidence: 0.87,
			Advice:     "Remove infected leaves and apply a copper fungicide.",
			Quotation:  "The love of gardening is a seed once sown that never dies.",
			CareTips:   []string{"Water at the base", "Mulch around the stem", "Rotate crops yearly"},
		},
		reply: "Yellow leaves usually mean overwatering.",
	}
}

func (g *fakeGateway) AnalyzeImage(ctx context.Context, jpeg []byte) (*db.ScanResult, error) {
	g.mu.Lock()
	g.analyzeCalls++
	block, start := g.analyzeBlock, g.analyzeStart
	g.mu.Unlock()

	if start != nil {
		start <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &AnalysisError{Err: ctx.Err()}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.analyzeErr != nil {
		return nil, &AnalysisError{Err: g.analyzeErr}
	}
	if len(jpeg) == 0 {
		return nil, &AnalysisError{Err: errors.New("empty image")}
	}
	r := g.result
	return &r, nil
}

func (g *fakeGateway) AskExpert(ctx context.Context, query string) (string, error) {
	g.mu.Lock()
	g.chatCalls++
	g.queries = append(g.queries, query)
	block := g.chatBlock
	g.mu.Unlock()

	if block != nil {
		<-block
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chatErr != nil {
		return "", &ChatError{Err: g.chatErr}
	}
	return g.reply, nil
}

func (g *fakeGateway) calls() (analyze, chat int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.analyzeCalls, g.chatCalls
}

// failingStore 读写都失败
type failingStore struct{}

func (failingStore) Get(context.Context, string, string) (string, bool, error) {
	return "", false, errors.New("disk unavailable")
}

func (failingStore) Set(context.Context, string, string, string) error {
	return errors.New("disk unavailable")
}

func (failingStore) Clear(context.Context, string) error {
	return errors.New("disk unavailable")
}

func newTestImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 40, G: uint8(100 + x%100), B: 40, A: 255})
		}
	}
	return img
}

func testEncoder() FrameEncoder {
	return FrameEncoder{Quality: 80, MaxEdge: 1024}
}
