// Package overlay renders an SVG template in the color of the active
// filament tray, reading everything it needs from the status store.
package overlay

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/eddielth/bambu-status/logger"
	"github.com/eddielth/bambu-status/projector"
	"github.com/eddielth/bambu-status/storage"
)

// Reader is the read side of the status store
type Reader interface {
	Read(name, def string) string
}

// Data is passed to the template
type Data struct {
	Color string // #RRGGBB
	Tray  string // 1-based tray index
	Name  string // filament name
}

// Recolorer re-renders its output whenever the active tray color changes
type Recolorer struct {
	store  Reader
	tmpl   *template.Template
	output string

	mu   sync.Mutex
	last string
}

// New parses the template at templatePath
func New(store Reader, templatePath, output string) (*Recolorer, error) {
	src, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("read overlay template: %w", err)
	}
	return NewFromString(store, string(src), output)
}

// NewFromString parses src as the template
func NewFromString(store Reader, src, output string) (*Recolorer, error) {
	tmpl, err := template.New("overlay").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse overlay template: %w", err)
	}
	return &Recolorer{store: store, tmpl: tmpl, output: output}, nil
}

// Refresh renders the output if the active tray color differs from the
// last render. Missing or malformed values leave the output alone.
func (r *Recolorer) Refresh() error {
	tray := r.store.Read(projector.FieldActiveAmsTray, "")
	index, err := strconv.Atoi(tray)
	if err != nil || index < 1 {
		return nil
	}

	color, ok := NormalizeColor(r.store.Read(projector.TrayField(index, "Color"), ""))
	if !ok {
		logger.Debug("overlay: tray %d has no usable color", index)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if color == r.last {
		return nil
	}

	var buf bytes.Buffer
	err = r.tmpl.Execute(&buf, Data{
		Color: color,
		Tray:  tray,
		Name:  r.store.Read(projector.TrayField(index, "Name"), projector.UnknownFilament),
	})
	if err != nil {
		return fmt.Errorf("render overlay: %w", err)
	}
	if err := storage.WriteFileAtomic(r.output, buf.Bytes()); err != nil {
		return err
	}

	r.last = color
	logger.Info("overlay recolored to %s (tray %s)", color, tray)
	return nil
}

// NormalizeColor turns a tray color such as "FF8800FF" (RRGGBBAA) into
// "#FF8800". Alpha is dropped.
func NormalizeColor(raw string) (string, bool) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(s) != 6 && len(s) != 8 {
		return "", false
	}
	if _, err := strconv.ParseUint(s, 16, 32); err != nil {
		return "", false
	}
	return "#" + strings.ToUpper(s[:6]), true
}
