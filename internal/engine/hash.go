package engine

import (
	"crypto/sha256"
	"encoding/hex"

	"gopkg.in/yaml.v3"

	"github.com/ttngu207/stackrun/internal/compose"
)

// configHash fingerprints a normalized service declaration. Replicas
// carry the hash as a label so stale containers from an older config
// are identifiable.
func configHash(svc *compose.Service) string {
	data, err := yaml.Marshal(svc)
	if err != nil {
		// Marshal of a decoded service cannot realistically fail;
		// degrade to no fingerprint.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}
