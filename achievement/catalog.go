package achievement

import (
	_ "embed"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Achievements []Achievement `yaml:"achievements"`
}

// ParseCatalog reads an achievement catalogue in YAML form.
func ParseCatalog(r io.Reader) ([]Achievement, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse achievement catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Achievements))
	for _, a := range f.Achievements {
		switch {
		case a.Code == "":
			return nil, fmt.Errorf("achievement %q: missing code", a.Name)
		case seen[a.Code]:
			return nil, fmt.Errorf("achievement %s: duplicate code", a.Code)
		case !a.ConditionType.valid():
			return nil, fmt.Errorf("achievement %s: unknown condition %q", a.Code, a.ConditionType)
		case a.Reward < 0:
			return nil, fmt.Errorf("achievement %s: negative reward", a.Code)
		}
		seen[a.Code] = true
	}
	return f.Achievements, nil
}

// DefaultCatalog returns the built-in achievement catalogue.
func DefaultCatalog() []Achievement {
	var f catalogFile
	if err := yaml.Unmarshal(defaultCatalog, &f); err != nil {
		panic(err)
	}
	return f.Achievements
}
