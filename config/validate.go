package config

import (
	"errors"
	"fmt"

	"github.com/eddielth/bambu-status/validator"
)

var (
	statusRules = []validator.Validator{
		&validator.RequiredValidator{Field: "Dir", Key: "status.dir"},
	}
	printerRules = []validator.Validator{
		&validator.RangeValidator{Field: "Port", Key: "printer.port", Min: 1, Max: 65535},
	}
	projectorRules = []validator.Validator{
		&validator.RangeValidator{Field: "FanMaxSpeed", Key: "projector.fan_max_speed", Min: 0.000001, Max: 1e6},
	}
	databaseRules = []validator.Validator{
		&validator.OneOfValidator{Field: "Type", Key: "storage.database.type",
			Values: []string{"mysql", "mariadb", "postgresql", "postgres"}},
		&validator.RequiredValidator{Field: "DSN", Key: "storage.database.dsn"},
	}
	dumpRules = []validator.Validator{
		&validator.RequiredValidator{Field: "Path", Key: "storage.dump.path"},
	}
	overlayRules = []validator.Validator{
		&validator.RequiredValidator{Field: "Template", Key: "overlay.template"},
		&validator.RequiredValidator{Field: "Output", Key: "overlay.output"},
	}

	listenerRules = []validator.Validator{
		&validator.RequiredValidator{Field: "Serial", Key: "printer.serial"},
		&validator.RequiredValidator{Field: "Host", Key: "printer.host"},
		&validator.RequiredValidator{Field: "AccessCode", Key: "printer.access_code"},
	}
	cloudRules = []validator.Validator{
		&validator.RequiredValidator{Field: "Email", Key: "cloud.email"},
		&validator.RequiredValidator{Field: "Password", Key: "cloud.password"},
	}
)

// Validate checks the values the rest of the program relies on
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, validator.All(&c.Status, statusRules...)...)
	errs = append(errs, validator.All(&c.Printer, printerRules...)...)
	errs = append(errs, validator.All(&c.Projector, projectorRules...)...)
	if c.Storage.Database.Enabled {
		errs = append(errs, validator.All(&c.Storage.Database, databaseRules...)...)
	}
	if c.Storage.Dump.Enabled {
		errs = append(errs, validator.All(&c.Storage.Dump, dumpRules...)...)
	}
	if c.Overlay.Enabled {
		errs = append(errs, validator.All(&c.Overlay, overlayRules...)...)
	}
	for name, s := range c.Scripts {
		if s.ScriptCode == "" && s.ScriptPath == "" {
			errs = append(errs, fmt.Errorf("script %s has neither script_code nor script_path", name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireListener checks the fields needed to reach the printer
func (c *Config) RequireListener() error {
	return errors.Join(validator.All(&c.Printer, listenerRules...)...)
}

// RequireCloudAccount checks the credentials needed to log in to the cloud API
func (c *Config) RequireCloudAccount() error {
	return errors.Join(validator.All(&c.Cloud, cloudRules...)...)
}

// RequireCloud checks the fields needed for the task history API. The
// printer serial selects which tasks are synced.
func (c *Config) RequireCloud() error {
	return errors.Join(
		c.RequireCloudAccount(),
		errors.Join(validator.All(&c.Printer, listenerRules[:1]...)...),
	)
}
