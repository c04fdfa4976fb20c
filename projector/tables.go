package projector

import (
	"strings"
)

// Fallback labels written when a code is missing from its table
const (
	UnknownSpeedLevel    = "Unknown Speed Level"
	UnknownPrintStage    = "Unknown Print Stage"
	UnknownPrintSubStage = "Unknown Print Sub Stage"
	UnknownFilament      = "Unknown Filament"
)

var speedLevels = map[string]string{
	"1": "silent",
	"2": "standard",
	"3": "sport",
	"4": "ludicrous",
}

var stages = map[string]string{
	"-1":  "idle",
	"0":   "printing",
	"1":   "auto_bed_leveling",
	"2":   "heatbed_preheating",
	"3":   "sweeping_xy_mech_mode",
	"4":   "changing_filament",
	"5":   "m400_pause",
	"6":   "paused_filament_runout",
	"7":   "heating_hotend",
	"8":   "calibrating_extrusion",
	"9":   "scanning_bed_surface",
	"10":  "inspecting_first_layer",
	"11":  "identifying_build_plate_type",
	"12":  "calibrating_micro_lidar",
	"13":  "homing_toolhead",
	"14":  "cleaning_nozzle_tip",
	"15":  "checking_extruder_temperature",
	"16":  "paused_user",
	"17":  "paused_front_cover_falling",
	"18":  "calibrating_micro_lidar",
	"19":  "calibrating_extrusion_flow",
	"20":  "paused_nozzle_temperature_malfunction",
	"21":  "paused_heat_bed_temperature_malfunction",
	"22":  "filament_unloading",
	"23":  "paused_skipped_step",
	"24":  "filament_loading",
	"25":  "calibrating_motor_noise",
	"26":  "paused_ams_lost",
	"27":  "paused_low_fan_speed_heat_break",
	"28":  "paused_chamber_temperature_control_error",
	"29":  "cooling_chamber",
	"30":  "paused_user_gcode",
	"31":  "motor_noise_showoff",
	"32":  "paused_nozzle_filament_covered_detected",
	"33":  "paused_cutter_error",
	"34":  "paused_first_layer_error",
	"35":  "paused_nozzle_clog",
	"255": "idle",
}

var filaments = map[string]string{
	"GFA00": "Bambu PLA Basic",
	"GFA01": "Bambu PLA Matte",
	"GFA02": "Bambu PLA Metal",
	"GFA05": "Bambu PLA Silk",
	"GFA07": "Bambu PLA Marble",
	"GFA08": "Bambu PLA Sparkle",
	"GFA09": "Bambu PLA Tough",
	"GFA11": "Bambu PLA Aero",
	"GFA12": "Bambu PLA Glow",
	"GFA13": "Bambu PLA Dynamic",
	"GFA15": "Bambu PLA Galaxy",
	"GFA50": "Bambu PLA-CF",
	"GFB00": "Bambu ABS",
	"GFB01": "Bambu ASA",
	"GFB50": "Bambu ABS-GF",
	"GFC00": "Bambu PC",
	"GFG00": "Bambu PETG Basic",
	"GFG01": "Bambu PETG Translucent",
	"GFG02": "Bambu PETG HF",
	"GFG50": "Bambu PETG-CF",
	"GFL00": "PolyLite PLA",
	"GFL01": "PolyTerra PLA",
	"GFL03": "eSUN PLA+",
	"GFL04": "Overture PLA",
	"GFL05": "Overture Matte PLA",
	"GFL95": "Generic PLA High Speed",
	"GFL96": "Generic PLA Silk",
	"GFL98": "Generic PLA-CF",
	"GFL99": "Generic PLA",
	"GFN03": "Bambu PA-CF",
	"GFN04": "Bambu PAHT-CF",
	"GFN05": "Bambu PA6-CF",
	"GFN08": "Bambu PA6-GF",
	"GFN96": "Generic PPA-GF",
	"GFN97": "Generic PPA-CF",
	"GFN98": "Generic PA-CF",
	"GFN99": "Generic PA",
	"GFP95": "Generic PP-GF",
	"GFP96": "Generic PP-CF",
	"GFP97": "Generic PP",
	"GFP98": "Generic PE-CF",
	"GFP99": "Generic PE",
	"GFR98": "Generic PHA",
	"GFR99": "Generic EVA",
	"GFS00": "Bambu Support W",
	"GFS01": "Bambu Support G",
	"GFS02": "Bambu Support For PLA",
	"GFS03": "Bambu Support For PA/PET",
	"GFS04": "Bambu PVA",
	"GFS05": "Bambu Support For PLA/PETG",
	"GFS97": "Generic BVOH",
	"GFS98": "Generic HIPS",
	"GFS99": "Generic PVA",
	"GFT01": "Bambu PET-CF",
	"GFT97": "Generic PPS",
	"GFT98": "Generic PPS-CF",
	"GFU00": "Bambu TPU 95A HF",
	"GFU01": "Bambu TPU 95A",
	"GFU02": "Bambu TPU for AMS",
	"GFU98": "Generic TPU for AMS",
	"GFU99": "Generic TPU",
}

// Tables are the code to label lookups used for derived fields. A Tables
// value is never mutated after construction; reloads build a new one.
type Tables struct {
	speedLevels map[string]string
	stages      map[string]string
	filaments   map[string]string
}

// NewTables builds tables from the given maps. Filament ids are matched
// case-insensitively.
func NewTables(speedLevels, stages, filaments map[string]string) Tables {
	return Tables{
		speedLevels: copyMap(speedLevels, nil, false),
		stages:      copyMap(stages, nil, false),
		filaments:   copyMap(filaments, nil, true),
	}
}

// DefaultTables returns the built-in tables
func DefaultTables() Tables {
	return NewTables(speedLevels, stages, filaments)
}

// WithOverrides returns a copy of t where entries from the given maps
// replace or extend the existing ones
func (t Tables) WithOverrides(speedLevels, stages, filaments map[string]string) Tables {
	return Tables{
		speedLevels: copyMap(t.speedLevels, speedLevels, false),
		stages:      copyMap(t.stages, stages, false),
		filaments:   copyMap(t.filaments, filaments, true),
	}
}

func copyMap(base, extra map[string]string, upper bool) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for _, m := range []map[string]string{base, extra} {
		for k, v := range m {
			k = strings.TrimSpace(k)
			if upper {
				k = strings.ToUpper(k)
			}
			out[k] = v
		}
	}
	return out
}

// SpeedLevel returns the label for a speed level code
func (t Tables) SpeedLevel(code string) string {
	return lookup(t.speedLevels, code, UnknownSpeedLevel)
}

// Stage returns the label for a print stage code, or fallback
func (t Tables) Stage(code, fallback string) string {
	return lookup(t.stages, code, fallback)
}

// FilamentName returns the material name for a filament id
func (t Tables) FilamentName(id string) string {
	return lookup(t.filaments, strings.ToUpper(id), UnknownFilament)
}

func lookup(m map[string]string, key, fallback string) string {
	if v, ok := m[strings.TrimSpace(key)]; ok {
		return v
	}
	return fallback
}
