// Package projector turns printer telemetry into status field writes.
package projector

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/metrics"
)

// Status field names
const (
	FieldPrintProfile      = "printProfile"
	FieldProgressPercent   = "progressPercent"
	FieldProgress          = "progress"
	FieldRemainingTime     = "remaining_time"
	FieldCoolingFanSpeed   = "coolingFanSpeed"
	FieldPrintSpeed        = "printSpeed"
	FieldPrintStage        = "printStage"
	FieldPrintSubStage     = "printSubStage"
	FieldLayerNum          = "layer_num"
	FieldTotalLayerNum     = "total_layer_num"
	FieldLayerOverview     = "layerOverview"
	FieldBedTemperature    = "bedTemperature"
	FieldNozzleTemperature = "nozzleTemperature"
	FieldActiveAmsTray     = "activeAmsTray"
)

// DefaultFanMaxSpeed is the raw fan speed reported at 100%
const DefaultFanMaxSpeed = 15.0

// trays per AMS unit
const traysPerUnit = 4

// TrayField returns the status field name for attribute of 1-based tray index
func TrayField(index int, attribute string) string {
	return fmt.Sprintf("ams%dFilament%s", index, attribute)
}

// Store is where projected values go
type Store interface {
	Write(name string, value interface{}) error
	Read(name, def string) string
}

// Option configures a Projector
type Option func(*Projector)

// WithFanMaxSpeed sets the raw fan speed that maps to 100%
func WithFanMaxSpeed(max float64) Option {
	return func(p *Projector) {
		if max > 0 {
			p.fanMax = max
		}
	}
}

type rule struct {
	key   string
	apply func(p *Projector, value interface{}) error
}

// total_layer_num comes before layer_num so a record carrying both
// composes the overview with its own total
var rules = []rule{
	{"subtask_name", (*Projector).profile},
	{"mc_percent", (*Projector).progress},
	{"mc_remaining_time", (*Projector).remaining},
	{"cooling_fan_speed", (*Projector).coolingFan},
	{"spd_lvl", (*Projector).speedLevel},
	{"mc_print_stage", (*Projector).stage},
	{"mc_print_sub_stage", (*Projector).subStage},
	{"total_layer_num", (*Projector).totalLayers},
	{"layer_num", (*Projector).layer},
	{"bed_temper", (*Projector).bedTemperature},
	{"nozzle_temper", (*Projector).nozzleTemperature},
	{"ams", (*Projector).ams},
}

// Projector applies telemetry records to a Store. It remembers the last
// total layer count so later layer updates can render the overview.
type Projector struct {
	store  Store
	mu     sync.Mutex
	tables Tables
	fanMax float64
	total  string
}

// New creates a projector. The last persisted total layer count is read
// back from store.
func New(store Store, tables Tables, opts ...Option) *Projector {
	p := &Projector{
		store:  store,
		tables: tables,
		fanMax: DefaultFanMaxSpeed,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.total = store.Read(FieldTotalLayerNum, "")
	return p
}

// SetTables swaps the lookup tables used for subsequent records
func (p *Projector) SetTables(t Tables) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables = t
}

// SetFanMaxSpeed changes the fan normalization maximum
func (p *Projector) SetFanMaxSpeed(max float64) {
	if max <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fanMax = max
}

// TotalLayers returns the denominator used for the layer overview
func (p *Projector) TotalLayers() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Project applies every recognized key of the record's print section.
// Failures are logged per key; they never stop the remaining keys.
func (p *Projector) Project(rec Record) {
	status, ok := rec.Print()
	if !ok {
		logger.Debug("record has no print section, skipped")
		return
	}

	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range rules {
		value, present := status[r.key]
		if !present {
			continue
		}
		if err := r.apply(p, value); err != nil {
			metrics.IncProjectionError(r.key)
			logger.Error("failed to project %s: %v", r.key, err)
		}
	}
	metrics.ObserveProjection(time.Since(start))
}

// write stores a value; store failures are logged and absorbed
func (p *Projector) write(name string, value interface{}) {
	if err := p.store.Write(name, value); err != nil {
		logger.Error("failed to write %s: %v", name, err)
	}
}

func (p *Projector) profile(v interface{}) error {
	s, err := cast.ToStringE(v)
	if err != nil {
		return err
	}
	p.write(FieldPrintProfile, s)
	return nil
}

func (p *Projector) progress(v interface{}) error {
	s, err := cast.ToStringE(v)
	if err != nil {
		return err
	}
	p.write(FieldProgressPercent, s+"%")

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return err
	}
	p.write(FieldProgress, f)
	return nil
}

func (p *Projector) remaining(v interface{}) error {
	minutes, err := toInt(v)
	if err != nil {
		return err
	}
	p.write(FieldRemainingTime, FormatRemaining(minutes))
	return nil
}

func (p *Projector) coolingFan(v interface{}) error {
	raw, err := cast.ToFloat64E(v)
	if err != nil {
		return err
	}
	p.write(FieldCoolingFanSpeed, NormalizeFan(raw, p.fanMax))
	return nil
}

func (p *Projector) speedLevel(v interface{}) error {
	code, err := cast.ToStringE(v)
	if err != nil {
		return err
	}
	p.write(FieldPrintSpeed, p.tables.SpeedLevel(code))
	return nil
}

func (p *Projector) stage(v interface{}) error {
	code, err := cast.ToStringE(v)
	if err != nil {
		return err
	}
	p.write(FieldPrintStage, p.tables.Stage(code, UnknownPrintStage))
	return nil
}

func (p *Projector) subStage(v interface{}) error {
	code, err := cast.ToStringE(v)
	if err != nil {
		return err
	}
	p.write(FieldPrintSubStage, p.tables.Stage(code, UnknownPrintSubStage))
	return nil
}

func (p *Projector) totalLayers(v interface{}) error {
	total, err := cast.ToStringE(v)
	if err != nil {
		return err
	}
	p.total = total
	p.write(FieldTotalLayerNum, total)
	return nil
}

func (p *Projector) layer(v interface{}) error {
	current, err := cast.ToStringE(v)
	if err != nil {
		return err
	}
	p.write(FieldLayerNum, current)
	p.write(FieldLayerOverview, LayerOverview(current, p.total))
	return nil
}

func (p *Projector) bedTemperature(v interface{}) error {
	return p.temperature(FieldBedTemperature, v)
}

func (p *Projector) nozzleTemperature(v interface{}) error {
	return p.temperature(FieldNozzleTemperature, v)
}

func (p *Projector) temperature(field string, v interface{}) error {
	t, err := cast.ToFloat64E(v)
	if err != nil {
		return err
	}
	p.write(field, t)
	return nil
}

// ams handles both the tray list and the active tray
func (p *Projector) ams(v interface{}) error {
	section, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("ams is %T, not an object", v)
	}

	var errs []error
	if units, present := section["ams"]; present {
		errs = append(errs, p.trays(units))
	}
	if now, present := section["tray_now"]; present {
		errs = append(errs, p.activeTray(now))
	}
	return errors.Join(errs...)
}

func (p *Projector) trays(v interface{}) error {
	units, ok := v.([]interface{})
	if !ok {
		return fmt.Errorf("ams.ams is %T, not a list", v)
	}

	var errs []error
	for pos, u := range units {
		unit, ok := u.(map[string]interface{})
		if !ok {
			errs = append(errs, fmt.Errorf("ams unit %d is %T, not an object", pos, u))
			continue
		}
		unitID := pos
		if id, present := unit["id"]; present {
			if n, err := toInt(id); err == nil {
				unitID = n
			}
		}
		trays, ok := unit["tray"].([]interface{})
		if !ok {
			continue
		}
		for _, t := range trays {
			if err := p.tray(unitID, t); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Projector) tray(unitID int, v interface{}) error {
	tray, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("tray is %T, not an object", v)
	}
	rawID, present := tray["id"]
	if !present {
		return fmt.Errorf("tray has no id")
	}
	slot, err := toInt(rawID)
	if err != nil {
		return fmt.Errorf("tray id: %w", err)
	}
	index := unitID*traysPerUnit + slot + 1

	id := stringOr(tray["tray_info_idx"], "Unknown")
	color := stringOr(tray["tray_color"], "N/A")

	p.write(TrayField(index, "Id"), id)
	p.write(TrayField(index, "Color"), color)
	p.write(TrayField(index, "Name"), p.tables.FilamentName(id))
	return nil
}

func (p *Projector) activeTray(v interface{}) error {
	slot, err := toInt(v)
	if err != nil {
		return fmt.Errorf("tray_now: %w", err)
	}
	p.write(FieldActiveAmsTray, strconv.Itoa(slot+1))
	return nil
}

// toInt reads text as base 10, so "08" is 8 rather than bad octal.
// JSON numbers with a fraction are truncated.
func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return int(i), nil
	case json.Number:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n.String())
		}
		return int(f), nil
	default:
		return cast.ToIntE(v)
	}
}

func stringOr(v interface{}, def string) string {
	if v == nil {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}
