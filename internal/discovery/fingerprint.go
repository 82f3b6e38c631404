package discovery

import (
	"encoding/base64"
	"strings"

	"github.com/opsbridge/cmdb/internal/domain"
)

// fingerprintFields are the identifying fields of an observation, in
// priority order. Whichever are present are concatenated and encoded; the
// result is the idempotency key for repeated scans of the same asset.
var fingerprintFields = []string{
	"serialNumber",
	"macAddress",
	"hostname",
	"ipAddress",
	"instanceId",
}

const fingerprintDelimiter = "|"

// Fingerprint computes the deterministic digest of an observation's
// identifying fields. Observations with none of the identifying fields fall
// back to name plus discovery type.
func Fingerprint(obs Observation, discoveryType domain.DiscoveryType) string {
	parts := make([]string, 0, len(fingerprintFields))
	for _, field := range fingerprintFields {
		if v, ok := obs[field].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}

	if len(parts) == 0 {
		name, _ := obs["name"].(string)
		parts = append(parts, name, string(discoveryType))
	}

	joined := strings.Join(parts, fingerprintDelimiter)
	return base64.RawURLEncoding.EncodeToString([]byte(joined))
}
