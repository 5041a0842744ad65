package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/solar-dashboard-service/internal/cache"
	"github.com/kjstillabower/solar-dashboard-service/internal/models"
)

var testNow = time.Date(2025, 4, 15, 9, 30, 0, 0, time.UTC)

const testKey = "solar_20250415.json"

var testCities = []models.CityRecord{
	{Name: "Atlanta", Lat: 33.7490, Lng: -84.3880},
	{Name: "Boston", Lat: 42.3601, Lng: -71.0589},
	{Name: "Chicago", Lat: 41.8781, Lng: -87.6298},
}

func coordKey(lat, lng float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lng)
}

type mockWeatherClient struct {
	temps map[string]float64
	errs  map[string]error
	// block, when set, makes every call wait for it to close or ctx to end.
	block chan struct{}
	calls atomic.Int64
}

func (m *mockWeatherClient) GetTemperature(ctx context.Context, lat, lng float64) (float64, error) {
	m.calls.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	k := coordKey(lat, lng)
	if err := m.errs[k]; err != nil {
		return 0, err
	}
	return m.temps[k], nil
}

type mockSolarClient struct {
	values map[string]float64
	errs   map[string]error
	calls  atomic.Int64
	days   []time.Time
	mu     sync.Mutex
}

func (m *mockSolarClient) GetDailyIrradiance(ctx context.Context, lat, lng float64, today time.Time) (float64, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.days = append(m.days, today)
	m.mu.Unlock()
	k := coordKey(lat, lng)
	if err := m.errs[k]; err != nil {
		return 0, err
	}
	return m.values[k], nil
}

type mockStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	putErr error
	gets   int
	puts   int
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockStore) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

// newTestClients returns clients answering temp 10/20/30 and raw 5/-10/15 for testCities.
func newTestClients() (*mockWeatherClient, *mockSolarClient) {
	w := &mockWeatherClient{temps: map[string]float64{}, errs: map[string]error{}}
	s := &mockSolarClient{values: map[string]float64{}, errs: map[string]error{}}
	for i, c := range testCities {
		w.temps[coordKey(c.Lat, c.Lng)] = float64(10 * (i + 1))
	}
	s.values[coordKey(testCities[0].Lat, testCities[0].Lng)] = 5
	s.values[coordKey(testCities[1].Lat, testCities[1].Lng)] = -10
	s.values[coordKey(testCities[2].Lat, testCities[2].Lng)] = 15
	return w, s
}

func newTestService(w *mockWeatherClient, s *mockSolarClient, store cache.BlobStore, opts Options) *SolarService {
	deps := Dependencies{
		Solar:  s,
		Store:  store,
		Cities: testCities,
		Now:    func() time.Time { return testNow },
	}
	if w != nil {
		deps.Weather = w
	}
	return NewSolarService(deps, opts)
}

func assertDenseIDs(t *testing.T, result models.CombinedResult) {
	t.Helper()
	if len(result.MapData) != len(result.ChartData) {
		t.Fatalf("len(mapData) = %d, len(chartData) = %d, want equal", len(result.MapData), len(result.ChartData))
	}
	for i, p := range result.MapData {
		if p.ID != i+1 {
			t.Errorf("mapData[%d].ID = %d, want %d", i, p.ID, i+1)
		}
	}
}

// TestSolarService_GetSolarData_CacheMiss verifies the fan-out path computes
// means over all cities and writes the blob under today's key.
func TestSolarService_GetSolarData_CacheMiss(t *testing.T) {
	w, s := newTestClients()
	store := &mockStore{}
	svc := newTestService(w, s, store, Options{})

	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}

	if len(got.MapData) != 3 {
		t.Fatalf("len(mapData) = %d, want 3", len(got.MapData))
	}
	assertDenseIDs(t, got)
	if got.Metrics.Temperature != 20 {
		t.Errorf("metrics.temperature = %v, want 20", got.Metrics.Temperature)
	}
	if got.Metrics.AvgIrradiance != 400 {
		t.Errorf("metrics.avgIrradiance = %v, want 400", got.Metrics.AvgIrradiance)
	}
	wantEnergy := (5 + 10 + 15) * 0.2778 / 3
	if diff := got.Metrics.TotalEnergy - wantEnergy; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("metrics.totalEnergy = %v, want %v", got.Metrics.TotalEnergy, wantEnergy)
	}

	if w.calls.Load() != 3 || s.calls.Load() != 3 {
		t.Errorf("upstream calls = (%d, %d), want (3, 3)", w.calls.Load(), s.calls.Load())
	}
	blob, ok := store.data[testKey]
	if !ok {
		t.Fatalf("store has no %s", testKey)
	}
	var stored models.CombinedResult
	if err := json.Unmarshal(blob, &stored); err != nil {
		t.Fatalf("stored blob is not JSON: %v", err)
	}
	if len(stored.MapData) != 3 || stored.Metrics != got.Metrics {
		t.Errorf("stored = %+v, want the returned result", stored)
	}
	for _, day := range s.days {
		if !day.Equal(testNow) {
			t.Errorf("solar client called with %v, want %v", day, testNow)
		}
	}
}

// TestSolarService_GetSolarData_CacheHit verifies a same-day blob short-circuits all upstream calls.
func TestSolarService_GetSolarData_CacheHit(t *testing.T) {
	cached := models.CombinedResult{
		MapData:   []models.MapPoint{{ID: 1, Lat: 1, Lng: 2, Irradiance: 300}},
		Metrics:   models.Metrics{TotalEnergy: 4.5, AvgIrradiance: 300, Temperature: 15},
		ChartData: []models.ChartPoint{{Timestamp: "2025-04-15T00:00:00Z", Energy: 4.5, Temperature: 15, City: "Atlanta"}},
	}
	blob, _ := json.Marshal(cached)
	store := &mockStore{data: map[string][]byte{testKey: blob}}
	w, s := newTestClients()
	svc := newTestService(w, s, store, Options{})

	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	if w.calls.Load() != 0 || s.calls.Load() != 0 {
		t.Errorf("upstream calls = (%d, %d), want (0, 0) on cache hit", w.calls.Load(), s.calls.Load())
	}
	if store.puts != 0 {
		t.Errorf("store puts = %d, want 0 on cache hit", store.puts)
	}
	gotJSON, _ := json.Marshal(got)
	if string(gotJSON) != string(blob) {
		t.Errorf("GetSolarData() = %s, want %s", gotJSON, blob)
	}
}

// TestSolarService_GetSolarData_YesterdayBlobIgnored verifies the key is scoped to the UTC day.
func TestSolarService_GetSolarData_YesterdayBlobIgnored(t *testing.T) {
	blob, _ := json.Marshal(Aggregate(nil))
	store := &mockStore{data: map[string][]byte{"solar_20250414.json": blob}}
	w, s := newTestClients()
	svc := newTestService(w, s, store, Options{})

	if _, err := svc.GetSolarData(context.Background()); err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	if w.calls.Load() != 3 {
		t.Errorf("weather calls = %d, want 3", w.calls.Load())
	}
}

// TestSolarService_GetSolarData_MalformedCache verifies a bad blob is treated as a miss.
func TestSolarService_GetSolarData_MalformedCache(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"invalid json", `{"mapData": [`},
		{"null", `null`},
		{"missing slices", `{"metrics":{"totalEnergy":1}}`},
		{"length mismatch", `{"mapData":[{"id":1}],"metrics":{},"chartData":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{data: map[string][]byte{testKey: []byte(tt.blob)}}
			w, s := newTestClients()
			svc := newTestService(w, s, store, Options{})

			got, err := svc.GetSolarData(context.Background())
			if err != nil {
				t.Fatalf("GetSolarData() error = %v, want nil", err)
			}
			if w.calls.Load() != 3 {
				t.Errorf("weather calls = %d, want 3 (full fetch)", w.calls.Load())
			}
			if len(got.MapData) != 3 {
				t.Errorf("len(mapData) = %d, want 3", len(got.MapData))
			}
			if store.puts != 1 {
				t.Errorf("store puts = %d, want 1 (blob overwritten)", store.puts)
			}
		})
	}
}

// TestSolarService_GetSolarData_StoreErrors verifies read and write failures never fail the request.
func TestSolarService_GetSolarData_StoreErrors(t *testing.T) {
	store := &mockStore{getErr: errors.New("connection refused"), putErr: errors.New("403 forbidden")}
	w, s := newTestClients()
	svc := newTestService(w, s, store, Options{})

	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v, want nil", err)
	}
	if len(got.MapData) != 3 {
		t.Errorf("len(mapData) = %d, want 3", len(got.MapData))
	}
	if store.puts != 1 {
		t.Errorf("store puts = %d, want 1 attempt", store.puts)
	}
}

func TestSolarService_GetSolarData_NoStore(t *testing.T) {
	w, s := newTestClients()
	svc := newTestService(w, s, nil, Options{})

	if svc.CacheConfigured() {
		t.Error("CacheConfigured() = true, want false")
	}
	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	if len(got.MapData) != 3 {
		t.Errorf("len(mapData) = %d, want 3", len(got.MapData))
	}
}

// TestSolarService_GetSolarData_MissingAPIKey verifies no store or upstream access without a key.
func TestSolarService_GetSolarData_MissingAPIKey(t *testing.T) {
	store := &mockStore{}
	_, s := newTestClients()
	svc := newTestService(nil, s, store, Options{})

	_, err := svc.GetSolarData(context.Background())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("GetSolarData() error = %v, want ErrMissingAPIKey", err)
	}
	if s.calls.Load() != 0 {
		t.Errorf("solar calls = %d, want 0", s.calls.Load())
	}
	if store.gets != 0 || store.puts != 0 {
		t.Errorf("store gets/puts = %d/%d, want 0/0", store.gets, store.puts)
	}
}

// TestSolarService_GetSolarData_PartialFailure verifies failing cities are dropped and IDs stay dense.
func TestSolarService_GetSolarData_PartialFailure(t *testing.T) {
	w, s := newTestClients()
	w.errs[coordKey(testCities[0].Lat, testCities[0].Lng)] = errors.New("weather down")
	s.errs[coordKey(testCities[2].Lat, testCities[2].Lng)] = errors.New("solar down")
	svc := newTestService(w, s, &mockStore{}, Options{})

	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	if len(got.MapData) != 1 || len(got.ChartData) != 1 {
		t.Fatalf("len(mapData, chartData) = (%d, %d), want (1, 1)", len(got.MapData), len(got.ChartData))
	}
	assertDenseIDs(t, got)
	if got.ChartData[0].City != "Boston" {
		t.Errorf("surviving city = %q, want Boston", got.ChartData[0].City)
	}
	if s.calls.Load() != 2 {
		t.Errorf("solar calls = %d, want 2 (none after a weather failure)", s.calls.Load())
	}
}

// TestSolarService_GetSolarData_AllFail verifies an empty batch is a valid zero result.
func TestSolarService_GetSolarData_AllFail(t *testing.T) {
	w, s := newTestClients()
	for _, c := range testCities {
		w.errs[coordKey(c.Lat, c.Lng)] = errors.New("weather down")
	}
	svc := newTestService(w, s, &mockStore{}, Options{})

	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v, want nil", err)
	}
	if got.Metrics != (models.Metrics{}) {
		t.Errorf("metrics = %+v, want all zero", got.Metrics)
	}
	if got.MapData == nil || got.ChartData == nil || len(got.MapData) != 0 || len(got.ChartData) != 0 {
		t.Errorf("mapData/chartData = %v/%v, want empty non-nil", got.MapData, got.ChartData)
	}
}

// TestSolarService_GetSolarData_NegativeRaw verifies the absolute-value guard on irradiance.
func TestSolarService_GetSolarData_NegativeRaw(t *testing.T) {
	city := models.CityRecord{Name: "Denver", Lat: 39.7392, Lng: -104.9903}
	k := coordKey(city.Lat, city.Lng)
	w := &mockWeatherClient{temps: map[string]float64{k: 12}}
	s := &mockSolarClient{values: map[string]float64{k: -5.0}}
	svc := NewSolarService(Dependencies{
		Weather: w,
		Solar:   s,
		Cities:  []models.CityRecord{city},
		Now:     func() time.Time { return testNow },
	}, Options{})

	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	if len(got.ChartData) != 1 {
		t.Fatalf("len(chartData) = %d, want 1", len(got.ChartData))
	}
	if e := got.ChartData[0].Energy; e < 1.3889999 || e > 1.3890001 {
		t.Errorf("energy = %v, want 1.389", e)
	}
	if got.ChartData[0].Timestamp != "2025-04-15T09:30:00Z" {
		t.Errorf("timestamp = %q, want 2025-04-15T09:30:00Z", got.ChartData[0].Timestamp)
	}
	if got.MapData[0].Irradiance != 240 {
		t.Errorf("irradiance = %v, want 12 * 20", got.MapData[0].Irradiance)
	}
}

func TestSolarService_Options_CustomFactors(t *testing.T) {
	w, s := newTestClients()
	svc := newTestService(w, s, nil, Options{IrradiancePerDegree: 10, MJToKWh: 1, KeyPrefix: "test_"})

	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	if got.Metrics.AvgIrradiance != 200 {
		t.Errorf("avgIrradiance = %v, want 200", got.Metrics.AvgIrradiance)
	}
	if got.Metrics.TotalEnergy != 10 {
		t.Errorf("totalEnergy = %v, want 10", got.Metrics.TotalEnergy)
	}
}

// TestSolarService_GetSolarData_CityTimeout verifies a hanging city is skipped after the per-city bound.
func TestSolarService_GetSolarData_CityTimeout(t *testing.T) {
	w, s := newTestClients()
	w.block = make(chan struct{})
	defer close(w.block)
	svc := newTestService(w, s, nil, Options{CityTimeout: 50 * time.Millisecond})

	start := time.Now()
	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("GetSolarData() took %v, want bounded by city timeout", elapsed)
	}
	if len(got.MapData) != 0 {
		t.Errorf("len(mapData) = %d, want 0", len(got.MapData))
	}
}

// TestSolarService_GetSolarData_Canceled verifies caller cancellation abandons the fan-out.
func TestSolarService_GetSolarData_Canceled(t *testing.T) {
	w, s := newTestClients()
	w.block = make(chan struct{})
	defer close(w.block)
	store := &mockStore{}
	svc := newTestService(w, s, store, Options{CityTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := svc.GetSolarData(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("GetSolarData() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetSolarData() did not return after cancellation")
	}
	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.puts != 0 {
		t.Errorf("store puts = %d, want 0 for a canceled fan-out", store.puts)
	}
}

// TestSolarService_GetSolarData_ConcurrentMissesShareFanout verifies simultaneous
// misses for the same day make one set of upstream calls.
func TestSolarService_GetSolarData_ConcurrentMissesShareFanout(t *testing.T) {
	w, s := newTestClients()
	w.block = make(chan struct{})
	svc := newTestService(w, s, cache.NewInMemoryStore(), Options{})

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.GetSolarData(context.Background())
			if err == nil && len(got.MapData) != 3 {
				err = fmt.Errorf("len(mapData) = %d, want 3", len(got.MapData))
			}
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(w.block)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GetSolarData() error = %v", err)
		}
	}
	if n := w.calls.Load(); n != 3 {
		t.Errorf("weather calls = %d, want 3", n)
	}
}

// TestSolarService_Refresh verifies the pre-warm path rewrites today's blob without reading it.
func TestSolarService_Refresh(t *testing.T) {
	stale, _ := json.Marshal(Aggregate(nil))
	store := &mockStore{data: map[string][]byte{testKey: stale}}
	w, s := newTestClients()
	svc := newTestService(w, s, store, Options{})

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if store.gets != 0 {
		t.Errorf("store gets = %d, want 0", store.gets)
	}
	var stored models.CombinedResult
	if err := json.Unmarshal(store.data[testKey], &stored); err != nil {
		t.Fatalf("stored blob: %v", err)
	}
	if len(stored.MapData) != 3 {
		t.Errorf("stored mapData = %d points, want 3", len(stored.MapData))
	}
}

// TestSolarService_Refresh_AllFailKeepsBlob verifies a pre-warm where every city
// fails reports an error and leaves the stored blob as it was.
func TestSolarService_Refresh_AllFailKeepsBlob(t *testing.T) {
	w, s := newTestClients()
	good, err := newTestService(w, s, nil, Options{}).GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	seeded, _ := json.Marshal(good)
	store := &mockStore{data: map[string][]byte{testKey: seeded}}

	failing, s2 := newTestClients()
	for _, c := range testCities {
		failing.errs[coordKey(c.Lat, c.Lng)] = errors.New("upstream failure")
	}
	svc := newTestService(failing, s2, store, Options{})

	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() error = nil, want error")
	}
	if store.puts != 0 {
		t.Errorf("store puts = %d, want 0", store.puts)
	}
	if string(store.data[testKey]) != string(seeded) {
		t.Errorf("stored blob changed to %s", store.data[testKey])
	}

	got, err := svc.GetSolarData(context.Background())
	if err != nil {
		t.Fatalf("GetSolarData() error = %v", err)
	}
	if len(got.MapData) != 3 {
		t.Errorf("served mapData = %d points, want 3 from the kept blob", len(got.MapData))
	}
}

func TestSolarService_Refresh_Errors(t *testing.T) {
	_, s := newTestClients()
	if err := newTestService(nil, s, nil, Options{}).Refresh(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Refresh() without key error = %v, want ErrMissingAPIKey", err)
	}

	w, s := newTestClients()
	for _, c := range testCities {
		w.errs[coordKey(c.Lat, c.Lng)] = errors.New("down")
	}
	if err := newTestService(w, s, nil, Options{}).Refresh(context.Background()); err == nil {
		t.Error("Refresh() with no successful city error = nil, want error")
	}
}
