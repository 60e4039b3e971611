package logic

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// FrameEncoder 把画面压缩成 JPEG
type FrameEncoder struct {
	Quality int
	MaxEdge int
}

func (e FrameEncoder) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil frame")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("empty frame")
	}
	if e.MaxEdge > 0 && (b.Dx() > e.MaxEdge || b.Dy() > e.MaxEdge) {
		img = imaging.Fit(img, e.MaxEdge, e.MaxEdge, imaging.Lanczos)
	}
	quality := e.Quality
	if quality <= 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame 解码上传的图片，按 EXIF 方向摆正
func DecodeFrame(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// DecodeImagePayload 接受 data URI 或者纯 base64
func DecodeImagePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, errors.New("empty image payload")
	}
	if strings.HasPrefix(payload, "data:") {
		i := strings.Index(payload, ",")
		if i < 0 || !strings.Contains(payload[:i], ";base64") {
			return nil, errors.New("unsupported data uri")
		}
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}
