package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "kmsgqd", "service":
		return serviceTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serviceTemplate = `id = "kmsgqd"
http_addr = ":9200"
wire_addr = ":9201"
endpoint_path = "/proc/msg_queue"
endpoint_mode = "0666"
max_message_size = 1024
max_body_bytes = 1048576
cors_origins = ["http://localhost:3000"]
# auth_token = "change-me"
log_level = "info"
`
