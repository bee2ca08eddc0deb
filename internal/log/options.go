package log

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Options contains configuration settings for the logger.
type Options struct {
	// Name is an optional logger name added to each entry.
	Name string `yaml:"name,omitempty" mapstructure:"name"`

	// Level is the minimum level: debug, info, warn or error.
	Level string `yaml:"level,omitempty" mapstructure:"level"`

	// Format is json or console.
	Format string `yaml:"format,omitempty" mapstructure:"format"`

	EnableColor   bool `yaml:"enable_color,omitempty" mapstructure:"enable-color"`
	DisableCaller bool `yaml:"disable_caller,omitempty" mapstructure:"disable-caller"`

	// OutputPaths defaults to stderr so command output on stdout stays clean.
	OutputPaths []string `yaml:"output_paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	return &Options{
		Level:       "warn",
		Format:      "console",
		EnableColor: true,
		OutputPaths: []string{"stderr"},
	}
}

// Validate checks the level and format values.
func (o *Options) Validate() []error {
	var errs []error
	switch o.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be console or json, got %q", o.Format))
	}
	switch o.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be debug, info, warn or error, got %q", o.Level))
	}
	return errs
}

// AddFlags binds command-line flags to the Options fields.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "An optional name for the logger.")
	fs.StringVar(&o.Level, "log.level", o.Level, "The minimum log level to output (debug, info, warn, error).")
	fs.StringVar(&o.Format, "log.format", o.Format, "The log output format ('json' or 'console').")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Enable colorized output for the console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Disable the caller field in logs.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log output paths (e.g. 'stderr', '/var/log/truckdash.log').")
}
