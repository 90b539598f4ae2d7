package config

import (
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every vuramp environment variable.
const EnvPrefix = "VURAMP"

// Environment keys. Each also answers to the legacy variable names listed
// in envAliases.
const (
	KeyConfig   = "config"
	KeyScenario = "scenario"
	KeyHost     = "host"
	KeyEndpoint = "endpoint"
	KeyParam    = "param"
)

var envAliases = map[string][]string{
	KeyConfig:   {"VURAMP_CONFIG"},
	KeyScenario: {"VURAMP_SCENARIO", "SCENARIO"},
	KeyHost:     {"VURAMP_HOST", "AWS_COMMUNITY_DAY_LB_DNS_NAME"},
	KeyEndpoint: {"VURAMP_ENDPOINT", "AWS_COMMUNITY_DAY_API_ENDPOINT"},
	KeyParam:    {"VURAMP_PARAM", "AWS_COMMUNITY_DAY_API_ENDPOINT_PARAM"},
}

// Environment carries run parameters read from the process environment or
// bound flags.
type Environment struct {
	ConfigFile string
	Scenario   string
	Host       string
	Endpoint   string
	Param      string
}

// NewViper returns a viper instance reading VURAMP_* variables and the
// legacy aliases.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// BindEnv binds the environment keys on v.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}

// LoadEnvironment reads the bound keys from v.
func LoadEnvironment(v *viper.Viper) Environment {
	return Environment{
		ConfigFile: v.GetString(KeyConfig),
		Scenario:   v.GetString(KeyScenario),
		Host:       v.GetString(KeyHost),
		Endpoint:   v.GetString(KeyEndpoint),
		Param:      v.GetString(KeyParam),
	}
}

// Variables returns the non-empty target parts as template variables.
func (e Environment) Variables() map[string]string {
	vars := make(map[string]string, 3)
	if e.Host != "" {
		vars[KeyHost] = e.Host
	}
	if e.Endpoint != "" {
		vars[KeyEndpoint] = e.Endpoint
	}
	if e.Param != "" {
		vars[KeyParam] = e.Param
	}
	return vars
}
