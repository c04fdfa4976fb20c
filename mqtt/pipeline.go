package mqtt

import (
	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/metrics"
	"github.com/eddielth/bambu-status/projector"
	"github.com/eddielth/bambu-status/transformer"
)

// Projector applies a decoded record
type Projector interface {
	Project(rec projector.Record)
}

// ScriptRunner runs status scripts over the raw payload
type ScriptRunner interface {
	Apply(payload []byte, store transformer.Store)
}

// Dumper archives raw payloads
type Dumper interface {
	Append(payload []byte) error
}

// Refresher reacts after a record has been projected
type Refresher interface {
	Refresh() error
}

// Pipeline is what happens to each report message, in order: decode,
// dump, project, scripts, overlay. Only Projector is required.
type Pipeline struct {
	Projector Projector
	Store     transformer.Store
	Scripts   ScriptRunner
	Dump      Dumper
	Overlay   Refresher
}

// Handle processes one message to completion. Nothing is returned; every
// failure is logged.
func (p *Pipeline) Handle(topic string, payload []byte) {
	logger.Debug("message on %s: %s", topic, string(payload))

	rec, err := projector.DecodeRecord(payload)
	metrics.ObserveRecord(err)
	if err != nil {
		logger.Warn("dropping message on %s: %v", topic, err)
		return
	}

	if p.Dump != nil {
		if err := p.Dump.Append(payload); err != nil {
			logger.Error("failed to dump record: %v", err)
		}
	}

	p.Projector.Project(rec)

	if p.Scripts != nil && p.Store != nil {
		p.Scripts.Apply(payload, p.Store)
	}

	if p.Overlay != nil {
		if err := p.Overlay.Refresh(); err != nil {
			logger.Error("failed to refresh overlay: %v", err)
		}
	}
}
