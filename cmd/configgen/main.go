package main

import (
	"flag"
	"log"

	"github.com/serjinio/kmsg-queue/internal/config"
)

const defaultPath = "cmd/kmsgqd/config.toml"

func main() {
	kind := flag.String("kind", "kmsgqd", "config kind: kmsgqd")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to "+defaultPath+")")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if _, err := config.Template(*kind); err != nil {
		log.Fatal(err)
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		cfg, err := config.LoadServiceConfig(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (endpoint %s, max_message_size %d)", *kind, path, cfg.EndpointPath, cfg.MaxMessageSize)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
