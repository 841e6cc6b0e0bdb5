package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jessevdk/go-flags"
)

// CmdEnv is a struct that contains all the command line options; it's
// separate from the config struct so that we can apply the command line options
// and env vars after loading the config, and so they don't have to be tied to
// the config struct. Command line options override env vars, and both of them
// override values already in the struct when ApplyTags is called.
// Note that this system uses reflection to establish the relationship between
// the config struct and the command line options.
type CmdEnv struct {
	ConfigLocations    []string `short:"c" long:"config" env:"BEACON_CONFIG" env-delim:"," description:"config file or URL to load; may be repeated"`
	InputFile          string   `short:"i" long:"input" env:"BEACON_INPUT" default:"-" description:"file of newline-delimited envelopes to send, or - for stdin"`
	InstrumentationKey string   `long:"instrumentation-key" env:"BEACON_INSTRUMENTATION_KEY" description:"instrumentation key stamped on every item"`
	EndpointURL        string   `long:"endpoint" env:"BEACON_ENDPOINT" description:"collection endpoint URL"`
	SampleRate         float64  `long:"sample-rate" env:"BEACON_SAMPLE_RATE" description:"percentage of items to keep, in (0, 100]"`
	DisableTelemetry   bool     `long:"disable-telemetry" env:"BEACON_DISABLE_TELEMETRY" description:"accept items but never send them"`
	RedisHost          string   `long:"redis-host" env:"BEACON_REDIS_HOST" description:"redis host:port for the durable buffer store"`
	RedisPassword      string   `long:"redis-password" env:"BEACON_REDIS_PASSWORD" description:"redis password"`
	LogLevel           Level    `long:"log-level" env:"BEACON_LOG_LEVEL" description:"log level (debug, info, warn, error)"`
	Debug              bool     `short:"d" long:"debug" description:"log the dependency injection graph"`
	Version            bool     `short:"v" long:"version" description:"print version number and exit"`
	Validate           bool     `short:"V" long:"validate" description:"validate the configuration and exit"`
}

func NewCmdEnvOptions(args []string) (*CmdEnv, error) {
	opts := &CmdEnv{}

	if _, err := flags.ParseArgs(opts, args); err != nil {
		return nil, err
	}

	return opts, nil
}

// GetField returns the reflect.Value for the field with the given name in the CmdEnv struct.
func (c *CmdEnv) GetField(name string) reflect.Value {
	return reflect.ValueOf(c).Elem().FieldByName(name)
}

// ApplyTags uses reflection to apply the values from the CmdEnv struct to the
// given struct. Any field that wants to be set from the command line must have
// a `cmdenv` tag naming the CmdEnv field to copy from; the types must match.
// Zero values in CmdEnv are not applied.
func (c *CmdEnv) ApplyTags(s reflect.Value) error {
	return applyCmdEnvTags(s, c)
}

type getFielder interface {
	GetField(name string) reflect.Value
}

// applyCmdEnvTags is split out from ApplyTags so it can be tested against a
// fake fielder.
func applyCmdEnvTags(s reflect.Value, fielder getFielder) error {
	switch s.Kind() {
	case reflect.Struct:
		t := s.Type()

		for i := 0; i < s.NumField(); i++ {
			field := s.Field(i)
			fieldType := t.Field(i)

			if tag := fieldType.Tag.Get("cmdenv"); tag != "" {
				// a comma-separated list is tried in order; the first nonzero wins
				for _, name := range strings.Split(tag, ",") {
					value := fielder.GetField(name)
					if !value.IsValid() {
						return fmt.Errorf("programming error -- invalid field name: %s", name)
					}
					if value.IsZero() {
						continue
					}
					if !field.CanSet() {
						return fmt.Errorf("programming error -- cannot set new value for: %s", fieldType.Name)
					}
					if fieldType.Type != value.Type() {
						return fmt.Errorf("programming error -- types don't match for field: %s (%v and %v)",
							fieldType.Name, fieldType.Type, value.Type())
					}
					field.Set(value)
					break
				}
			}

			if err := applyCmdEnvTags(field, fielder); err != nil {
				return err
			}
		}

	case reflect.Ptr:
		if !s.IsNil() {
			return applyCmdEnvTags(s.Elem(), fielder)
		}
	}
	return nil
}
