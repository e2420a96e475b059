package train

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadTrains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "trains.json")
	env := newTestEnv(t)

	tr := NewTrain("90:84:2B:00:00:01", "Cargo")
	tr.Battery = 64
	tr.Online = true
	tr.Color = Color{180, 20, 0}
	tr.Ports[0] = Port{Address: tr.Address, ID: 0, DeviceType: 2, Power: 50}
	env.svc.Load([]Train{tr, NewTrain("00:16:53:00:00:02", "Passenger")})

	require.NoError(t, SaveTrains(path, env.svc.PersistentTrains(), testLogger()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string][]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc["trains"], 2)
	assert.Equal(t, "00:16:53:00:00:02", doc["trains"][0]["address"])
	assert.EqualValues(t, 0, doc["trains"][1]["battery"])
	assert.Equal(t, false, doc["trains"][1]["online"])
	assert.Equal(t, map[string]any{"r": 180.0, "g": 20.0, "b": 0.0}, doc["trains"][1]["color"])

	loaded := LoadTrains(path, testLogger())
	require.Len(t, loaded, 2)
	assert.Equal(t, "Cargo", loaded[1].Name)
	assert.Equal(t, Color{180, 20, 0}, loaded[1].Color)
	assert.Equal(t, Port{Address: tr.Address, ID: 0, DeviceType: 2, Power: 0}, loaded[1].Ports[0])
	assert.Zero(t, loaded[1].Battery)
	assert.False(t, loaded[1].Online)
	assert.NotNil(t, loaded[0].Ports)
}

func TestLoadTrains_MissingOrInvalidFile(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, LoadTrains(filepath.Join(dir, "missing.json"), testLogger()))

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte("{not json"), 0644))
	assert.Empty(t, LoadTrains(invalid, testLogger()))

	noAddress := filepath.Join(dir, "no-address.json")
	require.NoError(t, os.WriteFile(noAddress, []byte(`{"trains":[{"name":"x"},{"address":"90:84:2B:00:00:01"}]}`), 0644))
	trains := LoadTrains(noAddress, testLogger())
	require.Len(t, trains, 1)
	assert.Equal(t, "90:84:2B:00:00:01", trains[0].Address)
}

func TestLoadTrains_LegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trains.json")
	doc := `{"trains":[{"url":"90:84:2B:00:00:01","name":"Cargo","battery":0.0,"power":0.0,"distance":0.0,"online":false,` +
		`"ports":{"0":{"url":"90:84:2B:00:00:01","id":0,"deviceType":2,"power":0}},"color":{"r":180,"g":20,"b":0}}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	trains := LoadTrains(path, testLogger())
	require.Len(t, trains, 1)
	assert.Equal(t, "90:84:2B:00:00:01", trains[0].Address)
	assert.Equal(t, "Cargo", trains[0].Name)
	assert.Zero(t, trains[0].Battery)
	assert.Equal(t, Color{180, 20, 0}, trains[0].Color)
	assert.Equal(t, Port{Address: "90:84:2B:00:00:01", ID: 0, DeviceType: 2}, trains[0].Ports[0])
}

func TestTrain_UnmarshalRoundsBattery(t *testing.T) {
	var tr Train
	require.NoError(t, json.Unmarshal([]byte(`{"address":"90:84:2B:00:00:01","battery":48.6}`), &tr))
	assert.Equal(t, 49, tr.Battery)

	// "address" wins over "url"
	require.NoError(t, json.Unmarshal([]byte(`{"address":"90:84:2B:00:00:01","url":"00:16:53:00:00:02"}`), &tr))
	assert.Equal(t, "90:84:2B:00:00:01", tr.Address)
}

func TestSaveTrains_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trains.json")
	require.NoError(t, SaveTrains(path, nil, testLogger()))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"trains":[]}`, string(raw))
}
