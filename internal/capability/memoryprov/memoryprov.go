// Package memoryprov ships in-memory reference providers for the mail,
// calendar and contacts capabilities. They stand in for real API clients in
// tests and in the demo binary; the orchestration core only ever sees them
// through the capability.Provider interface.
package memoryprov

import (
	_ "embed"
	"time"

	"github.com/majordomo-ai/majordomo/internal/capability"
)

//go:embed registry.yaml
var registryYAML []byte

// DefaultDraftTTL bounds how long a staged draft stays executable.
const DefaultDraftTTL = 15 * time.Minute

// Definitions returns the declared operation specs for the built-in
// providers, parsed from the embedded registry file.
func Definitions() (capability.Definitions, error) {
	return capability.ParseDefinitions(registryYAML)
}

// RegisterAll constructs the reference providers with seeded sample data and
// registers them.
func RegisterAll(reg *capability.Registry) error {
	defs, err := Definitions()
	if err != nil {
		return err
	}
	for _, p := range []capability.Provider{
		NewMail(defs),
		NewCalendar(defs),
		NewContacts(defs),
	} {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return value
}
