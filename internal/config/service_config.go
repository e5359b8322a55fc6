package config

// SectionConfig defines the configuration lifecycle every section follows.
type SectionConfig interface {
	// ApplyDefaults fills zero values with sensible defaults
	ApplyDefaults()

	// ApplyEnvOverrides applies TYPESTORE_* environment variable overrides
	ApplyEnvOverrides()

	// ResolvePaths resolves relative paths against the config directory
	ResolvePaths(configDir string)

	// Validate returns an error if the section is invalid
	Validate() error
}

// ApplySections runs the lifecycle over sections in order and stops at the
// first invalid one.
func ApplySections(configDir string, sections ...SectionConfig) error {
	for _, s := range sections {
		s.ApplyDefaults()
		s.ApplyEnvOverrides()
		s.ResolvePaths(configDir)
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
