package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gopxl/beep/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/keywave/internal/app"
	"github.com/conneroisu/keywave/internal/config"
	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
)

type nopOutput struct{}

func (nopOutput) Init(beep.SampleRate, int) error { return nil }
func (nopOutput) Play(beep.Streamer)              {}
func (nopOutput) Close() error                    { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *app.Service) {
	t.Helper()

	source := t.TempDir()
	dir := filepath.Join(source, "default")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sounds"), 0o755))
	require.NoError(t, manifest.WriteSilence(filepath.Join(dir, "sounds", "keydown.wav")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName),
		[]byte(`{"id":"default","name":"Default","defaults":{"keydown":"sounds/keydown.wav"}}`),
		0o644))

	cfg := &config.Config{
		DataDir:       filepath.Join(t.TempDir(), "keywave"),
		BundledSource: source,
	}
	cfg.Audio.SampleRate = 44100
	cfg.Audio.BufferSize = 256
	cfg.Audio.MaxVoices = 8
	cfg.Bridge.QueueSize = 16

	svc, err := app.New(cfg, nopOutput{}, logging.NopLogger{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop(ctx) })

	srv := New("127.0.0.1:0", svc, logging.NopLogger{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts, svc
}

func do(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()

	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(raw)
	} else {
		payload = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, url, payload)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestListPacks(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/packs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []manifest.Info
	decode(t, resp, &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, "default", infos[0].ID)
}

func TestCreatePack(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/packs", map[string]string{"name": "Server Pack"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info manifest.Info
	decode(t, resp, &info)
	assert.Equal(t, "server-pack", info.ID)
}

func TestCreatePackEmptyName(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/packs", map[string]string{"name": "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "ERR_EMPTY_NAME", body.Code)
}

func TestActivePack(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	decode(t, resp, &got)
	assert.Equal(t, "default", got["id"])

	resp = do(t, http.MethodPut, ts.URL+"/api/active", map[string]string{"id": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteBundledPackForbidden(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodDelete, ts.URL+"/api/packs/default", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPackSlots(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/packs", map[string]string{"name": "Slots"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/packs/slots/slots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var slots []manifest.SlotInfo
	decode(t, resp, &slots)
	require.Len(t, slots, len(manifest.FixedSlots))
	assert.Equal(t, "default", slots[0].Slot)
}

func TestVolume(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPut, ts.URL+"/api/volume", map[string]float64{"volume": 0.4})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/volume", nil)
	var got map[string]float64
	decode(t, resp, &got)
	assert.Equal(t, 0.4, got["volume"])

	// Out-of-range values clamp rather than fail.
	resp = do(t, http.MethodPut, ts.URL+"/api/volume", map[string]float64{"volume": 9})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &got)
	assert.Equal(t, 1.0, got["volume"])
}

func TestToggle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]bool
	decode(t, resp, &got)
	assert.False(t, got["enabled"])
}

func TestPlayValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/play", map[string]string{"key": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/play", map[string]string{"key": "KeyA"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]interface{}
	decode(t, resp, &got)
	assert.Equal(t, "default", got["active_pack"])
	assert.Equal(t, true, got["enabled"])
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodDelete, ts.URL+"/api/volume", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	ts, svc := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + ts.URL[len("http"):] + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server a beat to subscribe before producing the event.
	time.Sleep(50 * time.Millisecond)
	svc.SetMasterVolume(ctx, 0.6)

	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)

	var event app.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, app.EventMasterVolume, event.Type)
	require.NotNil(t, event.Value)
	assert.Equal(t, 0.6, *event.Value)
}
