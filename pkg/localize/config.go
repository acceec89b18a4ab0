// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package localize

import (
	"strings"

	"github.com/spf13/viper"

	"storj.io/hgloc/pkg/bucket"
)

// DefaultStorePath is used when no store path is configured.
const DefaultStorePath = "hgloc_store"

// LoadConfig builds an engine config from environment variables with
// the HGLOC_ prefix, optionally layered over a YAML config file.
// Credentials come only from here; nothing else in the engine reads
// ambient state.
func LoadConfig(cfgFile string) (Config, error) {
	vip := viper.New()
	vip.SetEnvPrefix("hgloc")
	vip.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vip.AutomaticEnv()

	vip.SetDefault("store-path", DefaultStorePath)

	if cfgFile != "" {
		vip.SetConfigFile(cfgFile)
		if err := vip.ReadInConfig(); err != nil {
			return Config{}, Error.Wrap(err)
		}
	}

	conf := Config{
		StorePath:       vip.GetString("store-path"),
		PublicStorePath: vip.GetString("public-store-path"),
		Bucket: bucket.Config{
			Name:            vip.GetString("s3-bucket-name"),
			Endpoint:        vip.GetString("s3-endpoint-url"),
			DataPrefix:      vip.GetString("s3-data-prefix"),
			AccessKeyID:     vip.GetString("aws-access-key-id"),
			SecretAccessKey: vip.GetString("aws-secret-access-key"),
		},
	}
	if conf.PublicStorePath == "" {
		conf.PublicStorePath = conf.StorePath + "_public"
	}
	return conf, nil
}
