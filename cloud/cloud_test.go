package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/bambu-status/config"
	"github.com/eddielth/bambu-status/storage"
)

func newAPI(t *testing.T, tasks string) (*httptest.Server, *int) {
	t.Helper()
	logins := 0
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["account"] != "me@example.com" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		logins++
		w.Write([]byte(`{"accessToken":"tok"}`))
	})
	mux.HandleFunc(tasksPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(tasks))
	})
	mux.HandleFunc(devicesPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"devices":[{"dev_id":"SN1","name":"P1S","online":true,"print_status":"RUNNING","dev_model_name":"C12"}]}`))
	})
	mux.HandleFunc("/cover.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &logins
}

func testClient(baseURL string) *Client {
	return NewClient(config.CloudConfig{BaseURL: baseURL, Email: "me@example.com", Password: "secret"})
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.bambulab.cn", BaseURL("China"))
	assert.Equal(t, "https://api.bambulab.com", BaseURL("Global"))
	assert.Equal(t, "https://api.bambulab.com", BaseURL(""))
}

func TestClientLogsInOnce(t *testing.T) {
	srv, logins := newAPI(t, `{"hits":[]}`)
	c := testClient(srv.URL + "/")
	ctx := context.Background()

	_, err := c.Tasks(ctx)
	require.NoError(t, err)
	devices, err := c.Devices(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, *logins)
	require.Len(t, devices, 1)
	assert.Equal(t, "SN1", devices[0].DevID)
	assert.True(t, devices[0].Online)
}

func TestClientLoginRejected(t *testing.T) {
	srv, _ := newAPI(t, `{"hits":[]}`)
	c := NewClient(config.CloudConfig{BaseURL: srv.URL, Email: "me@example.com", Password: "wrong"})

	_, err := c.Tasks(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestLatestTask(t *testing.T) {
	srv, _ := newAPI(t, `{"hits":[
		{"id":9,"deviceId":"OTHER","title":"other"},
		{"id":7,"deviceId":"SN1","title":"mine","weight":12.5,"costTime":3725},
		{"id":3,"deviceId":"SN1","title":"older"}
	]}`)
	c := testClient(srv.URL)

	task, err := c.LatestTask(context.Background(), "SN1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "7", task.ID.String())
	assert.Equal(t, "mine", task.Title)
	assert.Equal(t, "12.5", task.Weight.String())

	task, err = c.LatestTask(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestDownload(t *testing.T) {
	srv, _ := newAPI(t, `{"hits":[]}`)
	c := testClient(srv.URL)

	data, err := c.Download(context.Background(), srv.URL+"/cover.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = c.Download(context.Background(), srv.URL+"/missing.png")
	assert.Error(t, err)
}

type fakeSource struct {
	task     *Task
	err      error
	cover    []byte
	coverErr error
	fetched  []string
}

func (f *fakeSource) LatestTask(context.Context, string) (*Task, error) { return f.task, f.err }

func (f *fakeSource) Download(_ context.Context, url string) ([]byte, error) {
	f.fetched = append(f.fetched, url)
	return f.cover, f.coverErr
}

func newStore(t *testing.T) (*storage.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	return storage.NewManager(fs), dir
}

func TestSyncWritesTaskFields(t *testing.T) {
	store, dir := newStore(t)
	src := &fakeSource{
		task: &Task{
			ID:          "42",
			DeviceID:    "SN1",
			DesignTitle: "Benchy",
			Title:       "Benchy plate 1",
			Cover:       "https://cdn.example.com/c.png",
			Weight:      "15.23",
			CostTime:    "90061",
		},
		cover: []byte("img"),
	}
	coverPath := filepath.Join(dir, "printCover.png")
	s := NewSyncer(src, store, "SN1", coverPath)

	updated, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)

	assert.Equal(t, "Benchy", store.Read(FieldDesignTitle, ""))
	assert.Equal(t, "Benchy plate 1", store.Read("printProfile", ""))
	assert.Equal(t, "https://cdn.example.com/c.png", store.Read(FieldPrintCover, ""))
	assert.Equal(t, "15.23", store.Read(FieldTotalWeight, ""))
	assert.Equal(t, "1 day, 1:01:01", store.Read(FieldTotalTime, ""))
	assert.Equal(t, "42", store.Read(FieldLatestTaskID, ""))

	img, err := os.ReadFile(coverPath)
	require.NoError(t, err)
	assert.Equal(t, "img", string(img))

	// the same task again is a no-op
	store.Write(FieldDesignTitle, "edited")
	updated, err = s.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, "edited", store.Read(FieldDesignTitle, ""))
	assert.Len(t, src.fetched, 1)
}

func TestSyncDefaults(t *testing.T) {
	store, _ := newStore(t)
	src := &fakeSource{task: &Task{ID: "1", DeviceID: "SN1"}}
	s := NewSyncer(src, store, "SN1", "")

	updated, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)

	assert.Equal(t, "N/A", store.Read(FieldDesignTitle, ""))
	assert.Equal(t, "N/A", store.Read("printProfile", ""))
	assert.Equal(t, "N/A", store.Read(FieldPrintCover, ""))
	assert.Equal(t, "N/A", store.Read(FieldTotalWeight, ""))
	assert.Equal(t, "0:00:00", store.Read(FieldTotalTime, ""))
	assert.Empty(t, src.fetched)
}

func TestSyncNoTask(t *testing.T) {
	store, dir := newStore(t)
	s := NewSyncer(&fakeSource{}, store, "SN1", "")

	updated, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSyncFetchError(t *testing.T) {
	store, _ := newStore(t)
	s := NewSyncer(&fakeSource{err: errors.New("offline")}, store, "SN1", "")

	_, err := s.Sync(context.Background())
	assert.ErrorContains(t, err, "offline")
}

func TestSyncCoverFailureIsRetried(t *testing.T) {
	store, dir := newStore(t)
	src := &fakeSource{
		task:     &Task{ID: "5", DeviceID: "SN1", Cover: "https://cdn.example.com/c.png"},
		coverErr: errors.New("timeout"),
	}
	s := NewSyncer(src, store, "SN1", filepath.Join(dir, "printCover.png"))

	updated, err := s.Sync(context.Background())
	assert.Error(t, err)
	assert.False(t, updated)
	assert.Equal(t, "", store.Read(FieldLatestTaskID, ""))

	src.coverErr = nil
	src.cover = []byte("img")
	updated, err = s.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, "5", store.Read(FieldLatestTaskID, ""))
}

func TestSyncTaskWithoutID(t *testing.T) {
	store, _ := newStore(t)
	src := &fakeSource{task: &Task{DeviceID: "SN1", DesignTitle: "Calibration cube"}}
	s := NewSyncer(src, store, "SN1", "")

	updated, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, "Calibration cube", store.Read(FieldDesignTitle, ""))
	assert.Equal(t, "<absent>", store.Read(FieldLatestTaskID, "<absent>"))

	// written again on the next sync since it cannot be recognized
	store.Write(FieldDesignTitle, "edited")
	updated, err = s.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, "Calibration cube", store.Read(FieldDesignTitle, ""))
}
