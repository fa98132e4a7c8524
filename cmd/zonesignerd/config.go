/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package main

import (
	"fmt"
	"os"

	"github.com/gookit/goutil/dump"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tigermoth/zonesigner/signer"
)

// Config is the daemon's own bootstrap configuration: where to find the
// zone file, the keystore, and the SignConf map that decodes into
// signer.SignConf. Grounded on tdnsd/config.go's viper-backed Config
// struct and tdnsd/main.go's ParseConfig.
type Config struct {
	Zone      string                 `mapstructure:"zone"`
	Zonefile  string                 `mapstructure:"zonefile"`
	Keystore  string                 `mapstructure:"keystore"`
	LogFile   string                 `mapstructure:"log_file"`
	ApiAddr   string                 `mapstructure:"api_addr"`
	SignConf  map[string]interface{} `mapstructure:"signconf"`
}

// ParseConfig wires pflag for the CLI surface and viper for the on-disk
// config file, exactly the two-layer setup tdnsd/main.go's ParseConfig
// uses (viper.SetConfigFile + viper.Unmarshal), generalized to also
// accept flags.
func ParseConfig() (*Config, error) {
	pflag.String("config", "/etc/zonesignerd/zonesignerd.yaml", "configuration file")
	pflag.String("zone", "", "zone to sign")
	pflag.String("zonefile", "", "master-file path for the demo input adapter")
	pflag.String("keystore", "/var/lib/zonesignerd/keys.db", "sqlite keystore path")
	pflag.String("api-addr", ":8553", "status/health HTTP listen address")
	pflag.Bool("dump-config", false, "dump the decoded configuration and exit")
	pflag.Parse()

	_ = viper.BindPFlags(pflag.CommandLine)
	viper.SetConfigFile(viper.GetString("config"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("ParseConfig: %w", err)
		}
		fmt.Fprintln(os.Stderr, "ParseConfig: no config file found, using flags/env only")
	}

	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("ParseConfig: unmarshal: %w", err)
	}
	if conf.Zone == "" {
		return nil, fmt.Errorf("ParseConfig: zone is required")
	}
	if viper.GetBool("dump-config") {
		dump.P(conf)
		os.Exit(0)
	}
	return &conf, nil
}

// BuildSignConf decodes conf.SignConf (the schema-checked object spec §6
// requires) into a validated signer.SignConf.
func BuildSignConf(conf *Config) (*signer.SignConf, error) {
	if len(conf.SignConf) == 0 {
		return nil, fmt.Errorf("BuildSignConf: no signconf section in configuration")
	}
	return signer.DecodeSignConf(conf.SignConf)
}
