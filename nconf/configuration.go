package nconf

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// OptionsFlag is the flag naming the transport options file.
const OptionsFlag = "options"

// WithOptionsFlag adds the --options flag read by LoadOptions.
func WithOptionsFlag(cmd *cobra.Command) *cobra.Command {
	cmd.PersistentFlags().StringP(OptionsFlag, "o", "", "A JSON, YAML or TOML file holding transport options")
	return cmd
}

// LoadOptions reads the `options` section of the file given with --options
// and returns it as a transport option map. Keys keep their dots, so broker
// settings like `group.id` can be nested under `connection`. Environment
// variables named after serviceName, e.g. MESSENGER_KAFKA_OPTIONS__READ_TIMEOUT,
// override the top-level scalar options found in the file and set the
// envKeys even when the file leaves them out.
func LoadOptions(cmd *cobra.Command, serviceName string, envKeys ...string) (map[string]interface{}, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetEnvPrefix(serviceName)
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "__", ".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		if err := v.BindEnv("options::" + k); err != nil {
			return nil, errors.Wrapf(err, "failed binding option %s to the environment", k)
		}
	}

	if file, _ := cmd.Flags().GetString(OptionsFlag); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed reading options from %s", file)
		}
	}

	options := v.GetStringMap("options")
	for k, val := range options {
		if _, nested := val.(map[string]interface{}); nested {
			continue
		}
		options[k] = v.Get("options::" + k)
	}
	for _, k := range envKeys {
		if v.IsSet("options::" + k) {
			options[k] = v.Get("options::" + k)
		}
	}
	return options, nil
}
