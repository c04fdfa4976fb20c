package mqtt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/bambu-status/config"
	"github.com/eddielth/bambu-status/projector"
	"github.com/eddielth/bambu-status/transformer"
)

type fakeProjector struct{ records []projector.Record }

func (f *fakeProjector) Project(rec projector.Record) { f.records = append(f.records, rec) }

type fakeScripts struct{ payloads []string }

func (f *fakeScripts) Apply(payload []byte, _ transformer.Store) {
	f.payloads = append(f.payloads, string(payload))
}

type fakeDump struct {
	n   int
	err error
}

func (f *fakeDump) Append([]byte) error {
	f.n++
	return f.err
}

type fakeOverlay struct{ n int }

func (f *fakeOverlay) Refresh() error {
	f.n++
	return errors.New("render failed")
}

type nopStore struct{}

func (nopStore) Write(string, interface{}) error { return nil }

func TestPipelineHandle(t *testing.T) {
	proj := &fakeProjector{}
	scripts := &fakeScripts{}
	dump := &fakeDump{err: errors.New("disk full")}
	ov := &fakeOverlay{}
	p := &Pipeline{Projector: proj, Store: nopStore{}, Scripts: scripts, Dump: dump, Overlay: ov}

	p.Handle("device/SN/report", []byte(`{"print":{"mc_percent":3}}`))

	require.Len(t, proj.records, 1)
	status, ok := proj.records[0].Print()
	require.True(t, ok)
	assert.Contains(t, status, "mc_percent")
	assert.Equal(t, []string{`{"print":{"mc_percent":3}}`}, scripts.payloads)
	assert.Equal(t, 1, dump.n)
	assert.Equal(t, 1, ov.n)
}

func TestPipelineDropsUndecodable(t *testing.T) {
	proj := &fakeProjector{}
	dump := &fakeDump{}
	p := &Pipeline{Projector: proj, Dump: dump}

	p.Handle("device/SN/report", []byte(`{"print":`))

	assert.Empty(t, proj.records)
	assert.Zero(t, dump.n)
}

func TestPipelineOptionalStages(t *testing.T) {
	proj := &fakeProjector{}
	p := &Pipeline{Projector: proj}

	p.Handle("device/SN/report", []byte(`{"print":{}}`))
	assert.Len(t, proj.records, 1)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "device/01S00A/report", ReportTopic("01S00A"))
	assert.Equal(t, "01S00A", SerialFromTopic("device/01S00A/report"))
	assert.Equal(t, "", SerialFromTopic("devices/x"))
	assert.Equal(t, "", SerialFromTopic("device//report"))
}

func TestNewClientValidation(t *testing.T) {
	_, err := newClient(config.PrinterConfig{Serial: "SN"}, nil)
	assert.Error(t, err)
	_, err = newClient(config.PrinterConfig{Host: "10.0.0.2"}, nil)
	assert.Error(t, err)

	cfg := config.PrinterConfig{Host: "10.0.0.2", Port: 8883, Serial: "SN", Username: "bblp", AccessCode: "code"}
	c, err := newClient(cfg, func(string, []byte) {})
	require.NoError(t, err)
	assert.Equal(t, "device/SN/report", c.topic)
	assert.Equal(t, "ssl://10.0.0.2:8883", BrokerURL(cfg))
}
