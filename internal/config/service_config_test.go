package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSection struct {
	calls       []string
	configDir   string
	validateErr error
}

func (s *recordingSection) ApplyDefaults()      { s.calls = append(s.calls, "defaults") }
func (s *recordingSection) ApplyEnvOverrides()  { s.calls = append(s.calls, "env") }
func (s *recordingSection) ResolvePaths(d string) {
	s.calls = append(s.calls, "paths")
	s.configDir = d
}
func (s *recordingSection) Validate() error {
	s.calls = append(s.calls, "validate")
	return s.validateErr
}

func TestApplySections(t *testing.T) {
	a, b := &recordingSection{}, &recordingSection{}

	assert.NoError(t, ApplySections("conf", a, b))
	assert.Equal(t, []string{"defaults", "env", "paths", "validate"}, a.calls)
	assert.Equal(t, "conf", b.configDir)
}

func TestApplySections_StopsAtFirstInvalid(t *testing.T) {
	bad := &recordingSection{validateErr: errors.New("nope")}
	after := &recordingSection{}

	err := ApplySections("conf", bad, after)
	assert.EqualError(t, err, "nope")
	assert.Empty(t, after.calls)
}
