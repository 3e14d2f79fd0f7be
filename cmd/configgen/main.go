package main

import (
	"flag"
	"log"
	"strings"

	"github.com/danmuck/icectl/internal/config"
)

const defaultPath = "cmd/icectl/run.toml"

func main() {
	kind := flag.String("kind", "run", "template kind: "+strings.Join(config.Kinds(), "|"))
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing run config")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadRunConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated run config at %s (%d ranks, %d fields)", *input, cfg.Ranks, len(cfg.Fields))
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
