package logic

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	gw     *fakeGateway
	store  *db.MemoryStore
	reg    *Registry
}

// 设置测试环境
func setupTestRouter(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &common.Config{MaxImageBytes: 1 << 20, JPEGQuality: 80, MaxImageEdge: 512}
	gw := newFakeGateway()
	store := db.NewMemoryStore()
	reg := NewRegistry(store, gw, AppOptions{Encoder: FrameEncoder{Quality: cfg.JPEGQuality, MaxEdge: cfg.MaxImageEdge}})
	return &testServer{
		router: SetupRouter(NewHandler(reg, cfg)),
		gw:     gw,
		store:  store,
		reg:    reg,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, headers ...string) {
	t.Helper()
	w := s.do(t, "POST", "/api/login", gin.H{"email": "grower@example.com", "password": "secret", "name": "Ana", "mode": "login"}, headers...)
	require.Equal(t, 200, w.Code, w.Body.String())
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func pngDataURI(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, newTestImage(64, 48)))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// 测试健康检查接口
func TestPingHandler(t *testing.T) {
	s := setupTestRouter(t)
	w := s.do(t, "GET", "/ping", nil)

	assert.Equal(t, 200, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "pong", response["message"])
}

func TestStateBeforeLogin(t *testing.T) {
	s := setupTestRouter(t)
	w := s.do(t, "GET", "/api/state", nil)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, colorSchemeHint, w.Header().Get("Accept-CH"))

	state := decode(t, w)["state"].(map[string]any)
	assert.Nil(t, state["user"])
	assert.Equal(t, common.TabHome, state["activeTab"])
	assert.Equal(t, false, state["darkMode"])
}

func TestStateHonoursColorSchemeHint(t *testing.T) {
	s := setupTestRouter(t)
	w := s.do(t, "GET", "/api/state", nil, deviceHeader, "phone", colorSchemeHint, `"dark"`)
	state := decode(t, w)["state"].(map[string]any)
	assert.Equal(t, true, state["darkMode"])
}

func TestProtectedRoutesRequireLogin(t *testing.T) {
	s := setupTestRouter(t)
	for _, r := range []struct{ method, path string }{
		{"GET", "/api/history"},
		{"GET", "/api/summary"},
		{"POST", "/api/scan"},
		{"POST", "/api/chat"},
		{"POST", "/api/theme/toggle"},
		{"DELETE", "/api/history/abc"},
	} {
		w := s.do(t, r.method, r.path, nil)
		assert.Equal(t, 403, w.Code, r.path)
		assert.Equal(t, "login required", decode(t, w)["error"])
	}
}

func TestLoginHandlerMissingParams(t *testing.T) {
	s := setupTestRouter(t)
	w := s.do(t, "POST", "/api/login", gin.H{"email": "a@b.c"})
	assert.Equal(t, 400, w.Code)
	w = s.do(t, "POST", "/api/login", gin.H{"password": "x"})
	assert.Equal(t, 400, w.Code)
}

func TestLoginAndLogout(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)

	w := s.do(t, "GET", "/api/state", nil)
	user := decode(t, w)["state"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "Ana", user["name"])
	assert.Equal(t, true, user["isLoggedIn"])

	w = s.do(t, "POST", "/api/logout", nil)
	assert.Equal(t, 200, w.Code)
	w = s.do(t, "GET", "/api/history", nil)
	assert.Equal(t, 403, w.Code)
}

func TestInvalidDeviceID(t *testing.T) {
	s := setupTestRouter(t)
	w := s.do(t, "GET", "/api/state", nil, deviceHeader, "../etc/passwd")
	assert.Equal(t, 400, w.Code)
}

func TestDevicesAreIsolated(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t, deviceHeader, "tablet")
	w := s.do(t, "GET", "/api/history", nil, deviceHeader, "tablet")
	assert.Equal(t, 200, w.Code)
	w = s.do(t, "GET", "/api/history", nil, deviceHeader, "phone")
	assert.Equal(t, 403, w.Code)
}

func TestThemeToggleSurvivesReload(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)
	w := s.do(t, "POST", "/api/theme/toggle", nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, true, decode(t, w)["darkMode"])

	s.reg.Forget(defaultDevice)
	w = s.do(t, "GET", "/api/state", nil)
	assert.Equal(t, true, decode(t, w)["state"].(map[string]any)["darkMode"])
}

func TestNavHandler(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)

	w := s.do(t, "POST", "/api/nav", gin.H{"tab": "chat"})
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "chat", decode(t, w)["state"].(map[string]any)["activeTab"])

	w = s.do(t, "POST", "/api/nav", gin.H{"tab": "scan"})
	require.Equal(t, 200, w.Code)
	state := decode(t, w)["state"].(map[string]any)
	assert.Equal(t, "chat", state["activeTab"])
	assert.Equal(t, true, state["scanning"])

	w = s.do(t, "POST", "/api/nav", gin.H{"tab": "profile"})
	assert.Equal(t, 400, w.Code)
}

func TestScanFlowJSON(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)

	w := s.do(t, "POST", "/api/scan", gin.H{"image": pngDataURI(t)})
	require.Equal(t, 200, w.Code, w.Body.String())
	body := decode(t, w)
	scan := body["scan"].(map[string]any)
	assert.Equal(t, "Tomato", scan["plantName"])
	assert.Equal(t, "Early Blight", scan["condition"])
	assert.Contains(t, scan["imageUrl"], "data:image/jpeg;base64,")
	assert.Equal(t, "complete", body["capture"].(map[string]any)["state"])
	assert.Equal(t, "history", body["state"].(map[string]any)["activeTab"])

	w = s.do(t, "GET", "/api/history", nil)
	history := decode(t, w)["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, scan["id"], history[0].(map[string]any)["id"])

	w = s.do(t, "GET", "/api/summary", nil)
	summary := decode(t, w)
	assert.Equal(t, float64(1), summary["summary"].(map[string]any)["issueCount"])
	assert.Contains(t, common.WelcomeQuotes, summary["quote"])
	assert.Len(t, summary["plantClasses"], len(common.PlantClasses))
}

func TestScanFlowMultipart(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, newTestImage(32, 32)))
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "leaf.png")
	require.NoError(t, err)
	_, err = part.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest("POST", "/api/scan", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, 200, w.Code, w.Body.String())
}

func TestScanBadInput(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)

	w := s.do(t, "POST", "/api/scan", gin.H{})
	assert.Equal(t, 400, w.Code)
	w = s.do(t, "POST", "/api/scan", gin.H{"image": base64.StdEncoding.EncodeToString([]byte("not an image"))})
	assert.Equal(t, 400, w.Code)

	big := make([]byte, 2<<20)
	w = s.do(t, "POST", "/api/scan", gin.H{"image": base64.StdEncoding.EncodeToString(big)})
	assert.Equal(t, 413, w.Code)
}

func TestScanAnalysisFailure(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)
	s.gw.analyzeErr = errors.New("model unavailable")

	w := s.do(t, "POST", "/api/scan", gin.H{"image": pngDataURI(t)})
	assert.Equal(t, 502, w.Code)
	assert.Equal(t, common.AnalysisErrorMsg, decode(t, w)["error"])

	// 回到预览，拍照界面仍然打开
	w = s.do(t, "GET", "/api/scan/status", nil)
	body := decode(t, w)
	assert.Equal(t, true, body["open"])
	capture := body["capture"].(map[string]any)
	assert.Equal(t, "live-preview", capture["state"])
	assert.Equal(t, common.AnalysisErrorMsg, capture["error"])

	w = s.do(t, "GET", "/api/history", nil)
	assert.Empty(t, decode(t, w)["history"])
}

func TestScanPermissionDeniedThenRetry(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)

	w := s.do(t, "POST", "/api/scan/open", gin.H{"denied": true})
	assert.Equal(t, 403, w.Code)
	assert.Equal(t, common.CameraErrorMsg, decode(t, w)["error"])

	w = s.do(t, "POST", "/api/scan", gin.H{"image": pngDataURI(t)})
	assert.Equal(t, 409, w.Code)

	w = s.do(t, "POST", "/api/scan/retry", gin.H{"denied": false})
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "live-preview", decode(t, w)["capture"].(map[string]any)["state"])

	w = s.do(t, "POST", "/api/scan", gin.H{"image": pngDataURI(t)})
	assert.Equal(t, 200, w.Code)
}

func TestScanClose(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)
	w := s.do(t, "POST", "/api/scan/open", nil)
	require.Equal(t, 200, w.Code)

	w = s.do(t, "POST", "/api/scan/close", nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, false, decode(t, w)["state"].(map[string]any)["scanning"])

	w = s.do(t, "GET", "/api/scan/status", nil)
	assert.Equal(t, false, decode(t, w)["open"])

	w = s.do(t, "POST", "/api/scan/retry", nil)
	assert.Equal(t, 409, w.Code)
}

func TestDeleteHistoryHandler(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)
	w := s.do(t, "POST", "/api/scan", gin.H{"image": pngDataURI(t)})
	require.Equal(t, 200, w.Code)
	id := decode(t, w)["scan"].(map[string]any)["id"].(string)

	w = s.do(t, "DELETE", "/api/history/missing", nil)
	assert.Equal(t, false, decode(t, w)["deleted"])
	w = s.do(t, "DELETE", "/api/history/"+id, nil)
	assert.Equal(t, true, decode(t, w)["deleted"])
	w = s.do(t, "GET", "/api/history", nil)
	assert.Empty(t, decode(t, w)["history"])
}

func TestDeleteAccountHandler(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)
	w := s.do(t, "POST", "/api/scan", gin.H{"image": pngDataURI(t)})
	require.Equal(t, 200, w.Code)

	w = s.do(t, "POST", "/api/account/delete", gin.H{})
	assert.Equal(t, 400, w.Code)

	w = s.do(t, "POST", "/api/account/delete", gin.H{"confirm": true})
	require.Equal(t, 200, w.Code)
	assert.Equal(t, 0, s.store.Len(defaultDevice))

	s.login(t)
	w = s.do(t, "GET", "/api/history", nil)
	assert.Empty(t, decode(t, w)["history"])
}

func TestChatHandler(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)

	w := s.do(t, "GET", "/api/chat", nil)
	msgs := decode(t, w)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, common.ChatGreeting, msgs[0].(map[string]any)["text"])

	w = s.do(t, "POST", "/api/chat", gin.H{"content": "   "})
	assert.Equal(t, 400, w.Code)

	w = s.do(t, "POST", "/api/chat", gin.H{"content": "Why are the leaves curling?"})
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	msgs = body["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Equal(t, s.gw.reply, msgs[2].(map[string]any)["text"])
	assert.Equal(t, false, body["pending"])
}

func TestChatHandlerBusy(t *testing.T) {
	s := setupTestRouter(t)
	s.login(t)
	s.gw.chatBlock = make(chan struct{})
	defer close(s.gw.chatBlock)

	app := s.reg.Get(t.Context(), defaultDevice, false)
	require.True(t, app.Chat().Send(t.Context(), "first"))

	w := s.do(t, "POST", "/api/chat", gin.H{"content": "second"})
	assert.Equal(t, 409, w.Code)
}
