package main

import (
	"os"

	"github.com/LeoCommon/altcom/internal/config"
	"github.com/LeoCommon/altcom/pkg/log"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

type Options struct {
	Output  string `short:"o" long:"output" description:"where to write the sample config" default:"./config/config.toml"`
	Network string `short:"n" long:"network" description:"link type of the sample" choice:"serial" choice:"tcp" default:"serial"`
}

// Writes the default configuration so it can be edited instead of written from scratch
func main() {
	log.Init(false)

	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	conf := config.NewManager()
	if opts.Network == config.NetworkTCP {
		conf.Link().Set(func(c *config.LinkConfig) {
			c.Network = config.NetworkTCP
			c.Port = ""
			c.Address = "127.0.0.1:5000"
		})
	}

	if err := conf.Verify(); err != nil {
		log.Fatal("default config does not verify", zap.Error(err))
	}

	if err := conf.SaveTo(opts.Output); err != nil {
		log.Fatal("failed to write config file", zap.String("path", opts.Output), zap.Error(err))
	}
	log.Info("sample config written", zap.String("path", opts.Output))
}
