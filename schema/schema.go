package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/glimte/mandate-go/contracts"
	"github.com/xeipuuv/gojsonschema"
)

// SessionVersion is the session payload version written by this module
const SessionVersion = "1.0.0"

// SessionConstraint is the range of session versions this module reads
const SessionConstraint = "^1"

//go:embed session.schema.json
var sessionSchemaJSON []byte

var (
	compiledSession *gojsonschema.Schema
	compileOnce     sync.Once
	compileErr      error

	currentVersion = semver.MustParse(SessionVersion)
)

func getSessionSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		loader := gojsonschema.NewBytesLoader(sessionSchemaJSON)
		compiledSession, compileErr = gojsonschema.NewSchema(loader)
	})
	return compiledSession, compileErr
}

// SessionSchema returns the raw JSON schema of the session payload
func SessionSchema() []byte {
	return append([]byte(nil), sessionSchemaJSON...)
}

// ValidateSession checks raw session JSON against the session schema and
// returns one description per violation.
func ValidateSession(data []byte) ([]string, error) {
	s, err := getSessionSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling session schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, contracts.Validation("validate session", "%v", err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}

// CheckSession validates data and folds violations into a ValidationError
func CheckSession(data []byte) error {
	errs, err := ValidateSession(data)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return contracts.Validation("validate session", "%s", strings.Join(errs, "; "))
	}
	return nil
}

// CheckVersion reports whether a session payload version can be read
func CheckVersion(version string) error {
	constraint, err := semver.NewConstraint(SessionConstraint)
	if err != nil {
		return fmt.Errorf("invalid session constraint: %w", err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return contracts.Validation("check session version", "invalid version %q", version)
	}
	if !constraint.Check(v) {
		return contracts.Validation("check session version",
			"version %s is not supported (want %s, current %s)", v, SessionConstraint, currentVersion)
	}
	return nil
}
