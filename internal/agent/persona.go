package agent

import (
	"os"
	"path/filepath"

	"github.com/skylattice/orbit/internal/config"
)

// DefaultPersona is the stock system prompt. Overridable by dropping a
// SOUL.md into ORBIT_PATH.
const DefaultPersona = `You are Orbit, a personal assistant that coordinates calendars, email, weather and web lookups on the user's behalf.

Style:
- Answer directly; skip pleasantries and filler.
- Be concise. One short paragraph beats three long ones.
- When information could not be retrieved, say so plainly and offer what you do have.
- Never describe your internal tooling or reasoning process.`

// LoadPersona reads SOUL.md from ORBIT_PATH if present, otherwise returns
// DefaultPersona.
func LoadPersona() string {
	path := filepath.Join(config.OrbitPath(), "SOUL.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultPersona
	}
	return string(data)
}
